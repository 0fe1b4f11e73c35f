package datasets

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// PadLabel fills label positions past a session's end. The mask always
// excludes those positions from loss and metrics.
const PadLabel = 0

// Batch is a group of sessions padded to the longest session in the group.
// Every tensor is indexed [session][timestep]...; Mask is 1 for real
// utterances and 0 for padding.
type Batch struct {
	IDs []string

	Text   [][][]float32
	Audio  [][][]float32
	Visual [][][]float32
	Mask   [][]float32
	Labels [][]int

	// MaxLen is the padded sequence length of this batch.
	MaxLen int
}

// Collate pads variable-length sessions into one Batch. Padding length is the
// maximum session length among samples, features and mask pad with 0.
func Collate(samples []*Session) (*Batch, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyBatch
	}
	maxLen := 0
	for _, s := range samples {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if s.Len() > maxLen {
			maxLen = s.Len()
		}
	}
	tw, aw, vw := -1, -1, -1
	b := &Batch{
		IDs:    make([]string, len(samples)),
		Text:   make([][][]float32, len(samples)),
		Audio:  make([][][]float32, len(samples)),
		Visual: make([][][]float32, len(samples)),
		Mask:   make([][]float32, len(samples)),
		Labels: make([][]int, len(samples)),
		MaxLen: maxLen,
	}
	for i, s := range samples {
		b.IDs[i] = s.ID
		if s.Len() > 0 {
			if tw < 0 {
				tw, aw, vw = len(s.Text[0]), len(s.Audio[0]), len(s.Visual[0])
			}
			if len(s.Text[0]) != tw || len(s.Audio[0]) != aw || len(s.Visual[0]) != vw {
				return nil, errors.Errorf("session %s block widths %d/%d/%d differ from batch widths %d/%d/%d",
					s.ID, len(s.Text[0]), len(s.Audio[0]), len(s.Visual[0]), tw, aw, vw)
			}
		}
	}
	if tw < 0 {
		tw, aw, vw = 0, 0, 0
	}
	for i, s := range samples {
		b.Text[i] = padBlock(s.Text, maxLen, tw)
		b.Audio[i] = padBlock(s.Audio, maxLen, aw)
		b.Visual[i] = padBlock(s.Visual, maxLen, vw)
		b.Mask[i] = make([]float32, maxLen)
		b.Labels[i] = make([]int, maxLen)
		for t := 0; t < maxLen; t++ {
			if t < s.Len() {
				b.Mask[i][t] = 1
				b.Labels[i][t] = s.Labels[t]
			} else {
				b.Labels[i][t] = PadLabel
			}
		}
	}
	return b, nil
}

func padBlock(rows [][]float32, maxLen, width int) [][]float32 {
	out := make([][]float32, maxLen)
	for t := range out {
		out[t] = make([]float32, width)
		if t < len(rows) {
			copy(out[t], rows[t])
		}
	}
	return out
}

// Size returns the number of sessions in the batch.
func (b *Batch) Size() int { return len(b.IDs) }

// Width returns the concatenated feature width.
func (b *Batch) Width() int {
	if b.MaxLen == 0 || b.Size() == 0 {
		return 0
	}
	return len(b.Text[0][0]) + len(b.Audio[0][0]) + len(b.Visual[0][0])
}

// Lengths returns the number of real utterances of each session.
func (b *Batch) Lengths() []int {
	out := make([]int, len(b.Mask))
	for i, row := range b.Mask {
		for _, m := range row {
			if m > 0 {
				out[i]++
			}
		}
	}
	return out
}

// MaskSum returns the total number of real utterances in the batch.
func (b *Batch) MaskSum() float64 {
	var sum float64
	for _, row := range b.Mask {
		for _, m := range row {
			sum += float64(m)
		}
	}
	return sum
}

// Features concatenates the blocks per timestep in the fixed order text,
// audio, visual. The classifier's input width depends on this order.
func (b *Batch) Features() [][][]float32 {
	out := make([][][]float32, b.Size())
	for i := range out {
		out[i] = make([][]float32, b.MaxLen)
		for t := range out[i] {
			row := make([]float32, 0, len(b.Text[i][t])+len(b.Audio[i][t])+len(b.Visual[i][t]))
			row = append(row, b.Text[i][t]...)
			row = append(row, b.Audio[i][t]...)
			row = append(row, b.Visual[i][t]...)
			out[i][t] = row
		}
	}
	return out
}

// Pad returns a copy of the batch extended by extra all-padding timesteps.
func (b *Batch) Pad(extra int) *Batch {
	if extra <= 0 {
		return b
	}
	n := b.MaxLen + extra
	out := &Batch{
		IDs:    append([]string(nil), b.IDs...),
		Text:   make([][][]float32, b.Size()),
		Audio:  make([][][]float32, b.Size()),
		Visual: make([][][]float32, b.Size()),
		Mask:   make([][]float32, b.Size()),
		Labels: make([][]int, b.Size()),
		MaxLen: n,
	}
	tw, aw, vw := 0, 0, 0
	if b.MaxLen > 0 && b.Size() > 0 {
		tw, aw, vw = len(b.Text[0][0]), len(b.Audio[0][0]), len(b.Visual[0][0])
	}
	for i := range b.IDs {
		out.Text[i] = padBlock(b.Text[i], n, tw)
		out.Audio[i] = padBlock(b.Audio[i], n, aw)
		out.Visual[i] = padBlock(b.Visual[i], n, vw)
		out.Mask[i] = make([]float32, n)
		copy(out.Mask[i], b.Mask[i])
		out.Labels[i] = make([]int, n)
		copy(out.Labels[i], b.Labels[i])
	}
	return out
}

// ToGomlxTensors converts the batch to gomlx tensors: features [B, T, D]
// (text, audio, visual concatenated), mask [B, T] and labels [B, T] as int32.
func (b *Batch) ToGomlxTensors() (features, mask, labels *tensors.Tensor) {
	size, maxLen, width := b.Size(), b.MaxLen, b.Width()

	flatFeatures := make([]float32, 0, size*maxLen*width)
	for _, seq := range b.Features() {
		for _, row := range seq {
			flatFeatures = append(flatFeatures, row...)
		}
	}
	flatMask := make([]float32, 0, size*maxLen)
	flatLabels := make([]int32, 0, size*maxLen)
	for i := range b.Mask {
		flatMask = append(flatMask, b.Mask[i]...)
		for _, l := range b.Labels[i] {
			flatLabels = append(flatLabels, int32(l))
		}
	}

	features = tensors.FromFlatDataAndDimensions(flatFeatures, size, maxLen, width)
	mask = tensors.FromFlatDataAndDimensions(flatMask, size, maxLen)
	labels = tensors.FromFlatDataAndDimensions(flatLabels, size, maxLen)
	return features, mask, labels
}
