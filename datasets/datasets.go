// Package datasets loads the Hazumi session dumps and assembles them into
// padded batches for training.
//
// Layout and intended usage:
//
// Schema / SchemaSpec
//   - Declares which named columns form the text, audio and visual blocks and
//     how the label is derived (precomputed ternary column, or the binarized
//     sum of the TS1..TS5 items).
//   - Ranges such as "word_0:word_966" are resolved once against the first
//     dump's header into explicit column lists; every dump is then validated
//     eagerly and a missing column fails the whole session.
//
// Corpus
//   - Discovers dumps with a glob pattern in lexical order, one Session per file,
//     and produces the train/test Partition for a held-out file.
//
// SequenceDataset / Batch
//   - A sample is a whole session. Collate pads a group of sessions to the
//     longest one and builds the validity mask. Features are always concatenated
//     text, audio, visual.
package datasets

// Dataset is the view of a sequence dataset that loaders and samplers need.
// SequenceDataset implements it.
type Dataset interface {
	Len() int
	Sample(i int) *Session
	Batch(indices []int) (*Batch, error)
}

var _ Dataset = (*SequenceDataset)(nil)
