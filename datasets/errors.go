package datasets

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Sentinel errors for the loading taxonomy. Match them with errors.Is; the
// concrete error types below carry the details.
var (
	// ErrSchemaMismatch means a declared column is absent from a session table
	// or a declared block is inconsistent with the data.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrNoSuchSession means the requested held-out file was not discovered.
	ErrNoSuchSession = errors.New("no such session")

	// ErrDuplicateSessionID means two session files resolve to the same id.
	ErrDuplicateSessionID = errors.New("duplicate session id")

	// ErrEmptyBatch is returned by Collate when asked to build a batch from
	// zero samples.
	ErrEmptyBatch = errors.New("empty batch")
)

// SchemaError identifies the column (and the file, when known) that broke the
// declared schema.
type SchemaError struct {
	Path   string
	Column string
	Reason string
}

func (e *SchemaError) Error() string {
	var b strings.Builder
	b.WriteString(ErrSchemaMismatch.Error())
	if e.Path != "" {
		fmt.Fprintf(&b, " in %s", e.Path)
	}
	if e.Column != "" {
		fmt.Fprintf(&b, ": column %q", e.Column)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	return b.String()
}

// Unwrap lets errors.Is(err, ErrSchemaMismatch) succeed.
func (e *SchemaError) Unwrap() error { return ErrSchemaMismatch }

// DuplicateSessionError lists the files that collided on one session id.
type DuplicateSessionError struct {
	ID    string
	Paths []string
}

func (e *DuplicateSessionError) Error() string {
	return fmt.Sprintf("%s %q: %s", ErrDuplicateSessionID, e.ID, strings.Join(e.Paths, ", "))
}

func (e *DuplicateSessionError) Unwrap() error { return ErrDuplicateSessionID }

func missingColumn(path, column string) error {
	return &SchemaError{Path: path, Column: column, Reason: "missing from header"}
}
