package tracestore

import (
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Kind is the type of a trace.
type Kind uint8

const (
	// KindRegular is a vertex event that completed normally.
	KindRegular Kind = iota + 1
	// KindException is a vertex event that raised an exception.
	KindException
	// KindMessageViolation holds message integrity violations.
	KindMessageViolation
	// KindVertexViolation holds vertex value integrity violations.
	KindVertexViolation
	// KindMasterRegular is a coordinator step that completed normally.
	KindMasterRegular
	// KindMasterException is a coordinator step that raised an exception.
	KindMasterException
)

var kindPrefixes = [...]string{
	KindRegular:          "reg",
	KindException:        "err",
	KindMessageViolation: "msg",
	KindVertexViolation:  "vv",
	KindMasterRegular:    "master_reg",
	KindMasterException:  "master_err",
}

// Kinds lists all kinds in prefix order.
var Kinds = []Kind{KindRegular, KindException, KindMessageViolation, KindVertexViolation, KindMasterRegular, KindMasterException}

// Prefix returns the file name prefix of k, or "" for an unknown kind.
func (k Kind) Prefix() string {
	if int(k) >= len(kindPrefixes) {
		return ""
	}

	return kindPrefixes[k]
}

func (k Kind) String() string {
	if p := k.Prefix(); p != "" {
		return p
	}

	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Valid reports whether k is one of the defined kinds.
func (k Kind) Valid() bool { return k.Prefix() != "" }

// Master reports whether k is a coordinator kind.
func (k Kind) Master() bool { return k == KindMasterRegular || k == KindMasterException }

// Violation reports whether k holds integrity violations.
func (k Kind) Violation() bool { return k == KindMessageViolation || k == KindVertexViolation }

// ParseKind returns the kind with the given prefix.
func ParseKind(prefix string) (Kind, error) {
	for _, k := range Kinds {
		if k.Prefix() == prefix {
			return k, nil
		}
	}

	return 0, errors.Wrapf(ErrInvalidKey, "unknown kind %q", prefix)
}

// Key addresses one trace. The file name is derived from the key alone, so
// the directory listing doubles as the index.
//
// Vertex traces (regular and exception) carry a VertexID. Violation traces
// carry either a VertexID, for the scenario of the offending vertex, or a
// TaskID, for the batch of one worker. Master traces carry neither.
type Key struct {
	JobID     string
	Superstep int64
	VertexID  string
	TaskID    string
	Kind      Kind
}

const (
	stpSep  = "_stp_"
	vidSep  = "_vid_"
	taskSep = "_task_"

	// Ext is the file extension of every trace.
	Ext = ".tr"
)

// Validate checks that k names exactly one file.
func (k Key) Validate() error {
	if err := validateJobID(k.JobID); err != nil {
		return err
	}

	if !k.Kind.Valid() {
		return errors.Wrapf(ErrInvalidKey, "invalid kind %d", k.Kind)
	}

	if k.VertexID != "" && k.TaskID != "" {
		return errors.Wrap(ErrInvalidKey, "both vertex and task id set")
	}

	switch {
	case k.Kind.Master():
		if k.VertexID != "" || k.TaskID != "" {
			return errors.Wrapf(ErrInvalidKey, "%s trace with vertex or task id", k.Kind)
		}
	case k.Kind.Violation():
		if k.VertexID == "" && k.TaskID == "" {
			return errors.Wrapf(ErrInvalidKey, "%s trace without vertex or task id", k.Kind)
		}
	default:
		if k.VertexID == "" {
			return errors.Wrapf(ErrInvalidKey, "%s trace without vertex id", k.Kind)
		}
	}

	return nil
}

// Name returns the file name of k, without the job directory.
//
//	reg_stp_3_vid_7.tr
//	msg_stp_3_task_0f8e.tr
//	master_reg_stp_3.tr
//
// Ids are path-escaped, so an id containing '/' still maps to one flat
// file.
func (k Key) Name() string {
	var sb strings.Builder

	sb.WriteString(k.Kind.Prefix())
	sb.WriteString(stpSep)
	sb.WriteString(strconv.FormatInt(k.Superstep, 10))

	switch {
	case k.VertexID != "":
		sb.WriteString(vidSep)
		sb.WriteString(url.PathEscape(k.VertexID))
	case k.TaskID != "":
		sb.WriteString(taskSep)
		sb.WriteString(url.PathEscape(k.TaskID))
	}

	sb.WriteString(Ext)

	return sb.String()
}

// Path returns the slash-separated path of k relative to the store root,
// for example "job1/reg_stp_3_vid_7.tr".
func (k Key) Path() string {
	return path.Join(k.JobID, k.Name())
}

func (k Key) String() string { return k.Path() }

// ParseKey inverts [Key.Path].
func ParseKey(p string) (Key, error) {
	jobID, name, ok := strings.Cut(p, "/")
	if !ok {
		return Key{}, errors.Wrapf(ErrInvalidKey, "%q has no job directory", p)
	}

	k, err := parseName(jobID, name)
	if err != nil {
		return Key{}, err
	}

	return k, nil
}

func parseName(jobID, name string) (Key, error) {
	base, ok := strings.CutSuffix(name, Ext)
	if !ok {
		return Key{}, errors.Wrapf(ErrInvalidKey, "%q: missing %s", name, Ext)
	}

	prefix, rest, ok := strings.Cut(base, stpSep)
	if !ok {
		return Key{}, errors.Wrapf(ErrInvalidKey, "%q: missing superstep", name)
	}

	kind, err := ParseKind(prefix)
	if err != nil {
		return Key{}, err
	}

	k := Key{JobID: jobID, Kind: kind}

	stp, idPart := rest, ""
	if i := strings.IndexByte(rest, '_'); i >= 0 {
		stp, idPart = rest[:i], rest[i:]
	}

	k.Superstep, err = strconv.ParseInt(stp, 10, 64)
	if err != nil {
		return Key{}, errors.Wrapf(ErrInvalidKey, "%q: bad superstep", name)
	}

	switch {
	case idPart == "":
	case strings.HasPrefix(idPart, vidSep):
		k.VertexID, err = url.PathUnescape(idPart[len(vidSep):])
	case strings.HasPrefix(idPart, taskSep):
		k.TaskID, err = url.PathUnescape(idPart[len(taskSep):])
	default:
		return Key{}, errors.Wrapf(ErrInvalidKey, "%q: unexpected suffix", name)
	}

	if err != nil {
		return Key{}, errors.Wrapf(ErrInvalidKey, "%q: %v", name, err)
	}

	if err := k.Validate(); err != nil {
		return Key{}, err
	}

	// Reject names that only parse because of non-canonical spelling, such
	// as "reg_stp_03_vid_7.tr".
	if k.Name() != name {
		return Key{}, errors.Wrapf(ErrInvalidKey, "%q is not canonical", name)
	}

	return k, nil
}

// ValidateJobID checks that id can name a job directory.
func ValidateJobID(id string) error {
	return validateJobID(id)
}

func validateJobID(id string) error {
	if id == "" {
		return errors.Wrap(ErrInvalidKey, "empty job id")
	}

	if id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return errors.Wrapf(ErrInvalidKey, "job id %q is not a plain name", id)
	}

	return nil
}
