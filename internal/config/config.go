// Package config loads graft's layered JSONC configuration.
package config

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/tailscale/hujson"

	"github.com/graftdebug/graft/internal/capture"
	"github.com/graftdebug/graft/internal/logging"
	"github.com/graftdebug/graft/internal/policy"
	"github.com/graftdebug/graft/internal/tracestore"
	"github.com/graftdebug/graft/pkg/fs"
)

// Errors returned by Load.
var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config")
	ErrTraceRootEmpty     = errors.New("trace_root cannot be empty")
)

// FileName is the project config file looked up in the working directory.
const FileName = ".graft.json"

// Config holds all configuration options.
type Config struct {
	TraceRoot string `json:"trace_root"`

	// Debug policy. Nil slices and pointers mean "not set".
	SuperstepsToDebug []int64 `json:"supersteps_to_debug,omitempty"`
	VerticesToDebug   []string `json:"vertices_to_debug,omitempty"`
	DebugNeighbors    *bool    `json:"debug_neighbors,omitempty"`
	DebugAllVertices  *bool    `json:"debug_all_vertices,omitempty"`
	CatchExceptions   *bool    `json:"catch_exceptions,omitempty"`

	// Capture limits per worker per superstep. Zero means the default.
	NumVerticesToLog   int `json:"num_vertices_to_log,omitempty"`
	NumViolationsToLog int `json:"num_violations_to_log,omitempty"`

	Compression    string `json:"compression,omitempty"`
	BuildSignature string `json:"build_signature,omitempty"`

	LogLevel  string `json:"log_level,omitempty"`
	LogFormat string `json:"log_format,omitempty"`

	// Resolved (not serialized)
	EffectiveCwd string  `json:"-"`
	TraceRootAbs string  `json:"-"`
	Sources      Sources `json:"-"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string // Path to global config if loaded, empty otherwise
	Project string // Path to project or explicit config if loaded, empty otherwise
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		TraceRoot:   ".graft",
		Compression: tracestore.CompressionNone.String(),
	}
}

// LoadInput holds the inputs for Load.
type LoadInput struct {
	WorkDir           string            // -C/--cwd flag value, made absolute by the caller
	ConfigPath        string            // -c/--config flag value
	TraceRootOverride string            // --root flag value; empty means no override
	Env               map[string]string // environment variables
	FS                fs.FS             // nil means the real filesystem
}

// Load resolves configuration with the following precedence (highest wins):
//  1. Defaults
//  2. Global user config ($XDG_CONFIG_HOME/graft/config.json or ~/.config/graft/config.json)
//  3. Project config file (.graft.json in the working directory, if it exists)
//  4. Explicit config file via ConfigPath (replaces 3)
//  5. CLI overrides
func Load(in LoadInput) (Config, error) {
	fsys := in.FS
	if fsys == nil {
		fsys = fs.NewReal()
	}

	cfg := Default()

	globalPath := globalConfigPath(in.Env)
	if globalPath != "" {
		fileCfg, loaded, err := loadFile(fsys, globalPath, false)
		if err != nil {
			return Config{}, err
		}

		if loaded {
			cfg.Sources.Global = globalPath
			cfg = merge(cfg, fileCfg)
		}
	}

	projectPath := filepath.Join(in.WorkDir, FileName)
	mustExist := false

	if in.ConfigPath != "" {
		projectPath = in.ConfigPath
		if !filepath.IsAbs(projectPath) {
			projectPath = filepath.Join(in.WorkDir, projectPath)
		}

		mustExist = true
	}

	fileCfg, loaded, err := loadFile(fsys, projectPath, mustExist)
	if err != nil {
		return Config{}, err
	}

	if loaded {
		cfg.Sources.Project = projectPath
		cfg = merge(cfg, fileCfg)
	}

	if in.TraceRootOverride != "" {
		cfg.TraceRoot = in.TraceRootOverride
	}

	err = cfg.Validate()
	if err != nil {
		return Config{}, err
	}

	cfg.EffectiveCwd = in.WorkDir

	if filepath.IsAbs(cfg.TraceRoot) {
		cfg.TraceRootAbs = cfg.TraceRoot
	} else {
		cfg.TraceRootAbs = filepath.Join(in.WorkDir, cfg.TraceRoot)
	}

	return cfg, nil
}

// globalConfigPath returns the path to the global config file, or "" if
// no home directory is known.
func globalConfigPath(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "graft", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "graft", "config.json")
	}

	return ""
}

// loadFile reads one config file. A missing optional file is not loaded
// and not an error.
func loadFile(fsys fs.FS, path string, mustExist bool) (Config, bool, error) {
	exists, err := fsys.Exists(path)
	if err != nil {
		return Config{}, false, errors.Wrapf(ErrConfigFileRead, "%s: %v", path, err)
	}

	if !exists {
		if mustExist {
			return Config{}, false, errors.Wrapf(ErrConfigFileNotFound, "%s", path)
		}

		return Config{}, false, nil
	}

	data, err := fsys.ReadFile(path)
	if err != nil {
		return Config{}, false, errors.Wrapf(ErrConfigFileRead, "%s: %v", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, false, errors.Wrapf(err, "%s", path)
	}

	return cfg, true, nil
}

// Parse decodes one JSONC config document. Unknown keys are rejected, as
// is an explicitly empty trace_root.
func Parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, errors.Wrapf(ErrConfigInvalid, "invalid JSONC: %v", err)
	}

	var cfg Config

	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()

	err = dec.Decode(&cfg)
	if err != nil {
		return Config{}, errors.Wrapf(ErrConfigInvalid, "invalid JSON: %v", err)
	}

	var raw map[string]any

	_ = json.Unmarshal(standardized, &raw)

	if val, ok := raw["trace_root"]; ok {
		if s, isString := val.(string); isString && s == "" {
			return Config{}, errors.Mark(errors.Wrap(ErrTraceRootEmpty, "invalid config"), ErrConfigInvalid)
		}
	}

	return cfg, nil
}

func merge(base, overlay Config) Config {
	if overlay.TraceRoot != "" {
		base.TraceRoot = overlay.TraceRoot
	}

	if overlay.SuperstepsToDebug != nil {
		base.SuperstepsToDebug = overlay.SuperstepsToDebug
	}

	if overlay.VerticesToDebug != nil {
		base.VerticesToDebug = overlay.VerticesToDebug
	}

	if overlay.DebugNeighbors != nil {
		base.DebugNeighbors = overlay.DebugNeighbors
	}

	if overlay.DebugAllVertices != nil {
		base.DebugAllVertices = overlay.DebugAllVertices
	}

	if overlay.CatchExceptions != nil {
		base.CatchExceptions = overlay.CatchExceptions
	}

	if overlay.NumVerticesToLog != 0 {
		base.NumVerticesToLog = overlay.NumVerticesToLog
	}

	if overlay.NumViolationsToLog != 0 {
		base.NumViolationsToLog = overlay.NumViolationsToLog
	}

	if overlay.Compression != "" {
		base.Compression = overlay.Compression
	}

	if overlay.BuildSignature != "" {
		base.BuildSignature = overlay.BuildSignature
	}

	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}

	if overlay.LogFormat != "" {
		base.LogFormat = overlay.LogFormat
	}

	return base
}

// Validate checks the merged configuration.
func (c Config) Validate() error {
	if c.TraceRoot == "" {
		return errors.Mark(ErrTraceRootEmpty, ErrConfigInvalid)
	}

	if c.NumVerticesToLog < 0 {
		return errors.Wrapf(ErrConfigInvalid, "num_vertices_to_log: %d is negative", c.NumVerticesToLog)
	}

	if c.NumViolationsToLog < 0 {
		return errors.Wrapf(ErrConfigInvalid, "num_violations_to_log: %d is negative", c.NumViolationsToLog)
	}

	_, err := tracestore.ParseCompression(c.Compression)
	if err != nil {
		return errors.Wrapf(ErrConfigInvalid, "compression: %v", err)
	}

	if !logging.ValidLevel(c.LogLevel) {
		return errors.Wrapf(ErrConfigInvalid, "log_level: unknown level %q", c.LogLevel)
	}

	if !logging.ValidFormat(c.LogFormat) {
		return errors.Wrapf(ErrConfigInvalid, "log_format: unknown format %q", c.LogFormat)
	}

	_, err = policy.NewDefault(c.PolicyOptions())
	if err != nil {
		return errors.Mark(errors.Wrap(err, "invalid config"), ErrConfigInvalid)
	}

	return nil
}

// PolicyOptions returns the debug policy options described by c.
func (c Config) PolicyOptions() policy.Options {
	return policy.Options{
		Supersteps:       c.SuperstepsToDebug,
		Vertices:         c.VerticesToDebug,
		DebugNeighbors:   deref(c.DebugNeighbors),
		DebugAllVertices: deref(c.DebugAllVertices),
		CatchExceptions:  c.CatchExceptions,
	}
}

// StoreOptions returns the trace store options described by c. c must
// be valid.
func (c Config) StoreOptions() tracestore.Options {
	comp, _ := tracestore.ParseCompression(c.Compression)

	return tracestore.Options{Compression: comp}
}

// LogOptions returns the logger options described by c.
func (c Config) LogOptions() logging.Options {
	return logging.Options{Level: c.LogLevel, Format: c.LogFormat}
}

// Format renders the effective configuration as key=value lines, followed
// by the files it was loaded from.
func Format(c Config) string {
	var sb strings.Builder

	line := func(k, v string) {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(v)
		sb.WriteByte('\n')
	}

	line("effective_cwd", c.EffectiveCwd)
	line("trace_root", c.TraceRootAbs)
	line("compression", c.Compression)

	if c.SuperstepsToDebug != nil {
		parts := make([]string, len(c.SuperstepsToDebug))
		for i, s := range c.SuperstepsToDebug {
			parts[i] = strconv.FormatInt(s, 10)
		}

		line("supersteps_to_debug", strings.Join(parts, ","))
	}

	if c.VerticesToDebug != nil {
		line("vertices_to_debug", strings.Join(c.VerticesToDebug, ","))
	}

	opts := c.PolicyOptions()
	line("debug_neighbors", strconv.FormatBool(opts.DebugNeighbors))
	line("debug_all_vertices", strconv.FormatBool(opts.DebugAllVertices))
	line("catch_exceptions", strconv.FormatBool(opts.CatchExceptions == nil || *opts.CatchExceptions))

	line("num_vertices_to_log", strconv.Itoa(orDefault(c.NumVerticesToLog)))
	line("num_violations_to_log", strconv.Itoa(orDefault(c.NumViolationsToLog)))

	if c.BuildSignature != "" {
		line("build_signature", c.BuildSignature)
	}

	if c.LogLevel != "" {
		line("log_level", c.LogLevel)
	}

	if c.LogFormat != "" {
		line("log_format", c.LogFormat)
	}

	sb.WriteString("\n# sources\n")

	if c.Sources.Global == "" && c.Sources.Project == "" {
		sb.WriteString("(defaults only)\n")
	}

	if c.Sources.Global != "" {
		line("global_config", c.Sources.Global)
	}

	if c.Sources.Project != "" {
		line("project_config", c.Sources.Project)
	}

	return sb.String()
}

func orDefault(n int) int {
	if n == 0 {
		return capture.DefaultLimit
	}

	return n
}

func deref(b *bool) bool {
	return b != nil && *b
}
