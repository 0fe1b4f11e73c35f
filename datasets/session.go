package datasets

import (
	"github.com/pkg/errors"
)

// Session is one dialogue recording: an ordered sequence of utterances, each
// with a text, audio and visual feature vector and a label. Sessions are read
// once and treated as immutable; transformations return new sessions.
type Session struct {
	ID   string
	Path string

	Text   [][]float32
	Audio  [][]float32
	Visual [][]float32
	Labels []int
}

// Len is the number of utterances in the session.
func (s *Session) Len() int { return len(s.Labels) }

// Validate checks that every block and the label sequence share one row count.
func (s *Session) Validate() error {
	n := len(s.Labels)
	if len(s.Text) != n || len(s.Audio) != n || len(s.Visual) != n {
		return errors.Errorf("session %s: row counts differ: text=%d audio=%d visual=%d labels=%d",
			s.ID, len(s.Text), len(s.Audio), len(s.Visual), n)
	}
	return nil
}

// Rows returns the per-utterance feature vectors concatenated in the fixed
// order text, audio, visual.
func (s *Session) Rows() [][]float32 {
	rows := make([][]float32, s.Len())
	for t := range rows {
		row := make([]float32, 0, len(s.Text[t])+len(s.Audio[t])+len(s.Visual[t]))
		row = append(row, s.Text[t]...)
		row = append(row, s.Audio[t]...)
		row = append(row, s.Visual[t]...)
		rows[t] = row
	}
	return rows
}

// WithRows returns a copy of the session whose blocks are re-split from rows,
// which must have the concatenated width of the original blocks.
func (s *Session) WithRows(rows [][]float32) (*Session, error) {
	if len(rows) != s.Len() {
		return nil, errors.Errorf("session %s: got %d rows, want %d", s.ID, len(rows), s.Len())
	}
	out := &Session{
		ID:     s.ID,
		Path:   s.Path,
		Text:   make([][]float32, len(rows)),
		Audio:  make([][]float32, len(rows)),
		Visual: make([][]float32, len(rows)),
		Labels: append([]int(nil), s.Labels...),
	}
	for t, row := range rows {
		nt, na, nv := len(s.Text[t]), len(s.Audio[t]), len(s.Visual[t])
		if len(row) != nt+na+nv {
			return nil, errors.Errorf("session %s row %d: width %d, want %d", s.ID, t, len(row), nt+na+nv)
		}
		out.Text[t] = append([]float32(nil), row[:nt]...)
		out.Audio[t] = append([]float32(nil), row[nt:nt+na]...)
		out.Visual[t] = append([]float32(nil), row[nt+na:]...)
	}
	return out, nil
}

// ReadSession loads one session dump from path using schema.
func ReadSession(path string, schema *Schema) (*Session, error) {
	header, rows, err := readTable(path)
	if err != nil {
		return nil, err
	}
	return Extract(SessionID(path), path, header, rows, schema)
}

// Extract slices a raw session table into feature blocks and labels. Every
// declared column must be present in header; otherwise the whole session
// fails with a SchemaError naming the first missing column.
func Extract(id, path string, header []string, rows [][]string, schema *Schema) (*Session, error) {
	index := headerIndex(cleanHeader(header))
	for _, col := range schema.Required() {
		if _, ok := index[col]; !ok {
			return nil, missingColumn(path, col)
		}
	}

	s := &Session{
		ID:     id,
		Path:   path,
		Text:   make([][]float32, len(rows)),
		Audio:  make([][]float32, len(rows)),
		Visual: make([][]float32, len(rows)),
		Labels: make([]int, len(rows)),
	}
	for r, record := range rows {
		var err error
		if s.Text[r], err = readBlock(record, index, schema.Text); err != nil {
			return nil, errors.Wrapf(err, "%s row %d", path, r)
		}
		if s.Audio[r], err = readBlock(record, index, schema.Audio); err != nil {
			return nil, errors.Wrapf(err, "%s row %d", path, r)
		}
		if s.Visual[r], err = readBlock(record, index, schema.Visual); err != nil {
			return nil, errors.Wrapf(err, "%s row %d", path, r)
		}
		if s.Labels[r], err = readLabel(record, index, schema.Label); err != nil {
			if se, ok := err.(*SchemaError); ok {
				se.Path = path
				return nil, errors.Wrapf(se, "row %d", r)
			}
			return nil, errors.Wrapf(err, "%s row %d", path, r)
		}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func readBlock(record []string, index map[string]int, cols []string) ([]float32, error) {
	out := make([]float32, len(cols))
	for i, col := range cols {
		v, err := parseFloat32(record[index[col]])
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse %s", col)
		}
		out[i] = v
	}
	return out, nil
}

// readLabel applies the label contract to one row.
//
// Binary: sum(Group) > Threshold ? 1 : 0.
// Ternary: int(Column) - Base, which must land in [0, Classes).
func readLabel(record []string, index map[string]int, spec LabelSpec) (int, error) {
	if spec.Mode == LabelBinary {
		var sum float64
		for _, col := range spec.Group {
			v, err := parseFloat64(record[index[col]])
			if err != nil {
				return 0, errors.Wrapf(err, "failed to parse %s", col)
			}
			sum += v
		}
		if sum > spec.Threshold {
			return 1, nil
		}
		return 0, nil
	}

	v, err := parseFloat64(record[index[spec.Column]])
	if err != nil {
		return 0, errors.Wrapf(err, "failed to parse %s", spec.Column)
	}
	label := int(v) - spec.Base
	if float64(int(v)) != v || label < 0 || label >= spec.Classes {
		return 0, &SchemaError{Column: spec.Column, Reason: "label value " + record[index[spec.Column]] + " outside the declared classes"}
	}
	return label, nil
}
