package datasets

import (
	"fmt"
	"strings"
)

// DefaultExclude lists the timing and annotation columns of the Hazumi dumps.
// They exist only to derive labels and never enter a feature block.
var DefaultExclude = []string{
	"start(exchange)[ms]", "end(system)[ms]", "end(exchange)[ms]",
	"kinectstart(exchange)[ms]", "kinectend(system)[ms]", "kinectend(exchange)[ms]",
	"SS_ternary", "TC_ternary", "TS_ternary", "SS",
	"TC1", "TC2", "TC3", "TC4", "TC5",
	"TS1", "TS2", "TS3", "TS4", "TS5",
}

// DefaultBinaryGroup and DefaultBinaryThreshold define the binary label: the
// five TS items (each on a 1..5 scale) summing to more than 20 is class 1.
var DefaultBinaryGroup = []string{"TS1", "TS2", "TS3", "TS4", "TS5"}

const DefaultBinaryThreshold = 20.0

// LabelMode selects how the per-utterance target is derived.
type LabelMode string

const (
	// LabelTernary reads a precomputed categorical column.
	LabelTernary LabelMode = "ternary"
	// LabelBinary sums Group and compares against Threshold.
	LabelBinary LabelMode = "binary"
)

// LabelSpec is the label contract of a schema.
type LabelSpec struct {
	Mode LabelMode

	// Column holds the categorical value for LabelTernary. Values are shifted
	// by Base so that the stored range [Base, Base+Classes) maps to [0, Classes).
	Column  string
	Base    int
	Classes int

	// Group and Threshold drive LabelBinary: label = sum(Group) > Threshold.
	Group     []string
	Threshold float64
}

// NumClasses is the number of distinct label values the spec produces.
func (l LabelSpec) NumClasses() int {
	if l.Mode == LabelBinary {
		return 2
	}
	return l.Classes
}

// Columns returns the columns the label is read from.
func (l LabelSpec) Columns() []string {
	if l.Mode == LabelBinary {
		return l.Group
	}
	return []string{l.Column}
}

func (l LabelSpec) validate() error {
	switch l.Mode {
	case LabelTernary:
		if l.Column == "" {
			return &SchemaError{Reason: "ternary label needs a column"}
		}
		if l.Classes < 2 {
			return &SchemaError{Column: l.Column, Reason: fmt.Sprintf("label needs at least 2 classes, got %d", l.Classes)}
		}
	case LabelBinary:
		if len(l.Group) == 0 {
			return &SchemaError{Reason: "binary label needs a column group"}
		}
	default:
		return &SchemaError{Reason: fmt.Sprintf("unknown label mode %q", l.Mode)}
	}
	return nil
}

// Schema is the explicit, ordered mapping from feature block to column names.
// Every session table is validated against it before any row is parsed.
type Schema struct {
	Text    []string
	Audio   []string
	Visual  []string
	Exclude []string
	Label   LabelSpec
}

// Width is the concatenated feature width (text, audio, visual).
func (s *Schema) Width() int {
	return len(s.Text) + len(s.Audio) + len(s.Visual)
}

// Columns returns every feature column in concatenation order.
func (s *Schema) Columns() []string {
	out := make([]string, 0, s.Width())
	out = append(out, s.Text...)
	out = append(out, s.Audio...)
	out = append(out, s.Visual...)
	return out
}

// Required returns every column a session table must carry.
func (s *Schema) Required() []string {
	return append(s.Columns(), s.Label.Columns()...)
}

// Validate checks the schema on its own: at least one feature column, no
// column used twice and no excluded column inside a feature block. Single
// blocks may be empty.
func (s *Schema) Validate() error {
	if s.Width() == 0 {
		return &SchemaError{Reason: "schema has no feature columns"}
	}
	excluded := make(map[string]bool, len(s.Exclude))
	for _, c := range s.Exclude {
		excluded[c] = true
	}
	seen := make(map[string]string)
	for _, blk := range []struct {
		name string
		cols []string
	}{{"text", s.Text}, {"audio", s.Audio}, {"visual", s.Visual}} {
		for _, c := range blk.cols {
			if excluded[c] {
				return &SchemaError{Column: c, Reason: fmt.Sprintf("excluded column declared in %s block", blk.name)}
			}
			if prev, ok := seen[c]; ok {
				return &SchemaError{Column: c, Reason: fmt.Sprintf("declared in both %s and %s blocks", prev, blk.name)}
			}
			seen[c] = blk.name
		}
	}
	return s.Label.validate()
}

// BlockSpec declares one feature block either as an explicit column list, as
// an inclusive "first:last" range over the session header, or as the remainder:
// every header column that is neither excluded, a label column, nor claimed by
// another block, in header order. At most one block may be the remainder.
type BlockSpec struct {
	Columns []string
	Range   string
	Rest    bool
}

func (b BlockSpec) declared() bool {
	return len(b.Columns) > 0 || b.Range != "" || b.Rest
}

// SchemaSpec is the declarative form of a Schema. Ranges are resolved once
// against a reference header and become explicit column lists.
type SchemaSpec struct {
	Text    BlockSpec
	Audio   BlockSpec
	Visual  BlockSpec
	Exclude []string
	Label   LabelSpec
}

// Resolve turns the spec into a validated Schema using header to expand ranges
// and the remainder block. Excluded columns that fall inside a range are
// skipped. Undeclared blocks stay empty.
func (sp SchemaSpec) Resolve(header []string) (*Schema, error) {
	header = cleanHeader(header)
	index := headerIndex(header)
	excluded := make(map[string]bool, len(sp.Exclude))
	for _, c := range sp.Exclude {
		excluded[c] = true
	}

	resolve := func(name string, b BlockSpec) ([]string, error) {
		if len(b.Columns) > 0 && b.Range != "" {
			return nil, &SchemaError{Reason: fmt.Sprintf("%s block declares both columns and a range", name)}
		}
		if b.Range == "" {
			return append([]string(nil), b.Columns...), nil
		}
		first, last, ok := strings.Cut(b.Range, ":")
		if !ok {
			return nil, &SchemaError{Reason: fmt.Sprintf("%s block range %q is not first:last", name, b.Range)}
		}
		first, last = strings.TrimSpace(first), strings.TrimSpace(last)
		lo, ok := index[first]
		if !ok {
			return nil, missingColumn("", first)
		}
		hi, ok := index[last]
		if !ok {
			return nil, missingColumn("", last)
		}
		if hi < lo {
			return nil, &SchemaError{Reason: fmt.Sprintf("%s block range %q is reversed", name, b.Range)}
		}
		cols := make([]string, 0, hi-lo+1)
		for _, c := range header[lo : hi+1] {
			if excluded[c] {
				continue
			}
			cols = append(cols, c)
		}
		return cols, nil
	}

	s := &Schema{Exclude: sp.Exclude, Label: sp.Label}
	blocks := []struct {
		name string
		spec BlockSpec
		dst  *[]string
	}{{"text", sp.Text, &s.Text}, {"audio", sp.Audio, &s.Audio}, {"visual", sp.Visual, &s.Visual}}

	rest := -1
	claimed := make(map[string]bool)
	for i, b := range blocks {
		if !b.spec.Rest {
			continue
		}
		if len(b.spec.Columns) > 0 || b.spec.Range != "" {
			return nil, &SchemaError{Reason: fmt.Sprintf("%s block declares the remainder together with columns or a range", b.name)}
		}
		if rest >= 0 {
			return nil, &SchemaError{Reason: fmt.Sprintf("both %s and %s blocks declare the remainder", blocks[rest].name, b.name)}
		}
		rest = i
	}
	for i, b := range blocks {
		if i == rest || !b.spec.declared() {
			continue
		}
		cols, err := resolve(b.name, b.spec)
		if err != nil {
			return nil, err
		}
		if len(cols) == 0 {
			return nil, &SchemaError{Reason: fmt.Sprintf("%s block resolves to no columns", b.name)}
		}
		for _, c := range cols {
			claimed[c] = true
		}
		*b.dst = cols
	}
	if rest >= 0 {
		for _, c := range sp.Label.Columns() {
			claimed[c] = true
		}
		var cols []string
		for _, c := range header {
			if c == "" || excluded[c] || claimed[c] {
				continue
			}
			claimed[c] = true
			cols = append(cols, c)
		}
		*blocks[rest].dst = cols
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// cleanHeader trims every column name and drops a UTF-8 byte order mark from
// the first cell.
func cleanHeader(header []string) []string {
	out := make([]string, len(header))
	for i, col := range header {
		if i == 0 {
			col = strings.TrimPrefix(col, "\ufeff")
		}
		out[i] = strings.TrimSpace(col)
	}
	return out
}

// headerIndex maps column names to their position; the first occurrence wins.
func headerIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, col := range header {
		if _, dup := idx[col]; !dup {
			idx[col] = i
		}
	}
	return idx
}
