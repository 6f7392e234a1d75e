package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"

	"github.com/graftdebug/graft/internal/config"
	"github.com/graftdebug/graft/internal/policy"
	"github.com/graftdebug/graft/internal/tracestore"
	"github.com/graftdebug/graft/pkg/fs"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		t.Fatal(err)
	}

	err = os.WriteFile(path, []byte(content), 0o644)
	if err != nil {
		t.Fatal(err)
	}
}

func load(t *testing.T, in config.LoadInput) config.Config {
	t.Helper()

	cfg, err := config.Load(in)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	return cfg
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := load(t, config.LoadInput{WorkDir: dir})

	if cfg.TraceRootAbs != filepath.Join(dir, ".graft") {
		t.Fatalf("trace root = %q", cfg.TraceRootAbs)
	}

	if cfg.Sources != (config.Sources{}) {
		t.Fatalf("sources = %+v, want none", cfg.Sources)
	}

	if got := cfg.StoreOptions().Compression; got != tracestore.CompressionNone {
		t.Fatalf("compression = %v", got)
	}

	d, err := policy.NewDefault(cfg.PolicyOptions())
	if err != nil {
		t.Fatal(err)
	}

	if !d.ShouldCatchExceptions() || !d.ShouldDebugSuperstep(5) {
		t.Fatal("defaults should catch exceptions and debug every superstep")
	}
}

func TestLoadPrecedence(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	xdg := t.TempDir()

	writeFile(t, filepath.Join(xdg, "graft", "config.json"), `{
		// global
		"trace_root": "/global/traces",
		"num_vertices_to_log": 3,
		"compression": "snappy",
		"debug_all_vertices": true,
	}`)
	writeFile(t, filepath.Join(dir, config.FileName), `{
		"trace_root": "traces",
		"debug_all_vertices": false,
		"supersteps_to_debug": [0, 2],
	}`)

	cfg := load(t, config.LoadInput{WorkDir: dir, Env: map[string]string{"XDG_CONFIG_HOME": xdg}})

	if cfg.TraceRootAbs != filepath.Join(dir, "traces") {
		t.Fatalf("trace root = %q", cfg.TraceRootAbs)
	}

	if cfg.NumVerticesToLog != 3 || cfg.Compression != "snappy" {
		t.Fatalf("global values lost: %+v", cfg)
	}

	want := policy.Options{Supersteps: []int64{0, 2}}
	if diff := cmp.Diff(want, cfg.PolicyOptions()); diff != "" {
		t.Fatalf("policy options mismatch (-want +got):\n%s", diff)
	}

	wantSources := config.Sources{
		Global:  filepath.Join(xdg, "graft", "config.json"),
		Project: filepath.Join(dir, config.FileName),
	}
	if cfg.Sources != wantSources {
		t.Fatalf("sources = %+v, want %+v", cfg.Sources, wantSources)
	}
}

func TestLoadHomeFallback(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	writeFile(t, filepath.Join(home, ".config", "graft", "config.json"), `{"log_level": "debug"}`)

	cfg := load(t, config.LoadInput{WorkDir: t.TempDir(), Env: map[string]string{"HOME": home}})

	if cfg.LogLevel != "debug" {
		t.Fatalf("log level = %q", cfg.LogLevel)
	}
}

func TestLoadExplicitConfigReplacesProject(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, config.FileName), `{"trace_root": "project"}`)
	writeFile(t, filepath.Join(dir, "custom.json"), `{"build_signature": "abc"}`)

	cfg := load(t, config.LoadInput{WorkDir: dir, ConfigPath: "custom.json"})

	if cfg.TraceRootAbs != filepath.Join(dir, ".graft") {
		t.Fatalf("trace root = %q, project config should be skipped", cfg.TraceRootAbs)
	}

	if cfg.BuildSignature != "abc" {
		t.Fatalf("build signature = %q", cfg.BuildSignature)
	}
}

func TestLoadOverride(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, config.FileName), `{"trace_root": "from-file"}`)

	cfg := load(t, config.LoadInput{WorkDir: dir, TraceRootOverride: "/abs/root"})

	if cfg.TraceRootAbs != "/abs/root" {
		t.Fatalf("trace root = %q", cfg.TraceRootAbs)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		config  string
		is      error
	}{
		{name: "missing explicit file", config: "nope.json", is: config.ErrConfigFileNotFound},
		{name: "bad jsonc", content: `{"trace_root": `, is: config.ErrConfigInvalid},
		{name: "unknown key", content: `{"tracer_root": "x"}`, is: config.ErrConfigInvalid},
		{name: "empty trace root", content: `{"trace_root": ""}`, is: config.ErrTraceRootEmpty},
		{name: "negative limit", content: `{"num_violations_to_log": -1}`, is: config.ErrConfigInvalid},
		{name: "bad compression", content: `{"compression": "zstd"}`, is: config.ErrConfigInvalid},
		{name: "bad log level", content: `{"log_level": "loud"}`, is: config.ErrConfigInvalid},
		{name: "bad log format", content: `{"log_format": "xml"}`, is: config.ErrConfigInvalid},
		{name: "bad superstep", content: `{"supersteps_to_debug": [-4]}`, is: policy.ErrInvalidOption},
		{name: "neighbors without vertices", content: `{"debug_neighbors": true}`, is: config.ErrConfigInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			if tt.content != "" {
				writeFile(t, filepath.Join(dir, config.FileName), tt.content)
			}

			_, err := config.Load(config.LoadInput{WorkDir: dir, ConfigPath: tt.config})
			if !errors.Is(err, tt.is) {
				t.Fatalf("err = %v, want %v", err, tt.is)
			}
		})
	}
}

func TestLoadReadFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, config.FileName), `{}`)

	chaos := fs.NewChaos(fs.NewReal(), 1, &fs.ChaosConfig{ReadFailRate: 1})

	_, err := config.Load(config.LoadInput{WorkDir: dir, FS: chaos})
	if !errors.Is(err, config.ErrConfigFileRead) {
		t.Fatalf("err = %v, want ErrConfigFileRead", err)
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, config.FileName), `{"vertices_to_debug": ["1", "2"], "debug_neighbors": true}`)

	out := config.Format(load(t, config.LoadInput{WorkDir: dir}))

	for _, want := range []string{
		"trace_root=" + filepath.Join(dir, ".graft") + "\n",
		"vertices_to_debug=1,2\n",
		"debug_neighbors=true\n",
		"catch_exceptions=true\n",
		"num_vertices_to_log=10\n",
		"project_config=" + filepath.Join(dir, config.FileName) + "\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	if strings.Contains(out, "(defaults only)") {
		t.Errorf("output claims defaults only:\n%s", out)
	}
}
