// Package preprocessing implements feature scaling fitted on training data.
package preprocessing

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// ErrNotFitted is returned by Transform before Fit has succeeded.
var ErrNotFitted = errors.New("standardizer not fitted")

// Standardizer is a two-phase z-score scaler over a fixed feature width.
// Statistics are population mean and standard deviation per column; a column
// with zero deviation is scaled by 1 so it maps to 0 rather than dividing by
// zero.
type Standardizer struct {
	width int
	mean  []float64
	std   []float64
}

// NewStandardizer returns an unfitted scaler for rows of the given width.
func NewStandardizer(width int) *Standardizer {
	return &Standardizer{width: width}
}

// Width is the number of columns the scaler handles.
func (s *Standardizer) Width() int { return s.width }

// Fitted reports whether Fit has succeeded.
func (s *Standardizer) Fitted() bool { return s.mean != nil }

// Mean returns the fitted per-column means.
func (s *Standardizer) Mean() []float64 { return s.mean }

// Std returns the fitted per-column deviations, with zero-variance columns
// already replaced by 1.
func (s *Standardizer) Std() []float64 { return s.std }

// Fit computes per-column statistics over rows. It must only ever see
// training rows.
func (s *Standardizer) Fit(rows [][]float32) error {
	if s.width <= 0 {
		return errors.Errorf("standardizer width must be positive, got %d", s.width)
	}
	if len(rows) == 0 {
		return errors.New("standardizer fit on zero rows")
	}
	for i, row := range rows {
		if len(row) != s.width {
			return errors.Errorf("row %d has width %d, want %d", i, len(row), s.width)
		}
	}

	mean := make([]float64, s.width)
	std := make([]float64, s.width)
	col := make([]float64, len(rows))
	for j := 0; j < s.width; j++ {
		for i, row := range rows {
			col[i] = float64(row[j])
		}
		m, v := stat.PopMeanVariance(col, nil)
		mean[j] = m
		std[j] = math.Sqrt(v)
		if std[j] == 0 || math.IsNaN(std[j]) {
			std[j] = 1
		}
	}
	s.mean, s.std = mean, std
	return nil
}

// Transform scales a flat buffer of any leading shape. len(data) must be a
// multiple of the width; element order and length are preserved.
func (s *Standardizer) Transform(data []float32) ([]float32, error) {
	if !s.Fitted() {
		return nil, ErrNotFitted
	}
	if len(data)%s.width != 0 {
		return nil, errors.Errorf("buffer of %d values is not a multiple of width %d", len(data), s.width)
	}
	out := make([]float32, len(data))
	for i, v := range data {
		j := i % s.width
		out[i] = float32((float64(v) - s.mean[j]) / s.std[j])
	}
	return out, nil
}

// TransformRows scales a [rows][width] matrix.
func (s *Standardizer) TransformRows(rows [][]float32) ([][]float32, error) {
	if !s.Fitted() {
		return nil, ErrNotFitted
	}
	flat := make([]float32, 0, len(rows)*s.width)
	for i, row := range rows {
		if len(row) != s.width {
			return nil, errors.Errorf("row %d has width %d, want %d", i, len(row), s.width)
		}
		flat = append(flat, row...)
	}
	scaled, err := s.Transform(flat)
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(rows))
	for i := range out {
		out[i] = scaled[i*s.width : (i+1)*s.width : (i+1)*s.width]
	}
	return out, nil
}

// TransformBatch returns a scaled copy of a [batch][time][width] tensor.
func (s *Standardizer) TransformBatch(batch [][][]float32) ([][][]float32, error) {
	out := make([][][]float32, len(batch))
	for i, seq := range batch {
		rows, err := s.TransformRows(seq)
		if err != nil {
			return nil, errors.Wrapf(err, "sequence %d", i)
		}
		out[i] = rows
	}
	return out, nil
}
