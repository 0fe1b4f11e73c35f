// Example command that loads a Hazumi corpus with a range-declared schema,
// partitions it around the first session and converts one padded batch into
// gomlx tensors.
//
// Usage:
//   go run ./datasets/example "data/dumpfiles/*.csv" "text_first:text_last" "audio_first:audio_last" "visual_first:visual_last"
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/Noofbiz/hazumi/datasets"
)

func main() {
	if len(os.Args) != 5 {
		log.Fatalf("usage: %s <glob> <text range> <audio range> <visual range>", os.Args[0])
	}
	spec := datasets.SchemaSpec{
		Text:    datasets.BlockSpec{Range: os.Args[2]},
		Audio:   datasets.BlockSpec{Range: os.Args[3]},
		Visual:  datasets.BlockSpec{Range: os.Args[4]},
		Exclude: datasets.DefaultExclude,
		Label: datasets.LabelSpec{
			Mode:      datasets.LabelBinary,
			Group:     datasets.DefaultBinaryGroup,
			Threshold: datasets.DefaultBinaryThreshold,
		},
	}

	corpus, err := datasets.LoadCorpus(os.Args[1], spec, nil)
	if err != nil {
		log.Fatalf("failed to load corpus: %v", err)
	}
	fmt.Printf("Loaded %d sessions, feature width %d (text %d, audio %d, visual %d)\n",
		corpus.Len(), corpus.Schema.Width(),
		len(corpus.Schema.Text), len(corpus.Schema.Audio), len(corpus.Schema.Visual))

	part, err := corpus.Partition(corpus.Paths()[0])
	if err != nil {
		log.Fatalf("failed to partition: %v", err)
	}
	fmt.Printf("Held out %s: %d train sessions, %d test session\n", part.TestID, len(part.Train), len(part.Test))

	train := datasets.NewSequenceDataset(part.Train)
	n := min(4, train.Len())
	if n == 0 {
		return
	}
	indices := make([]int, n)
	for i := range n {
		indices[i] = i
	}
	batch, err := train.Batch(indices)
	if err != nil {
		log.Fatalf("failed to collate batch: %v", err)
	}
	fmt.Printf("Batch of %d sessions padded to %d utterances, lengths %v\n", batch.Size(), batch.MaxLen, batch.Lengths())

	features, mask, labels := batch.ToGomlxTensors()
	fmt.Printf("  features: %s\n", features.Shape())
	fmt.Printf("  mask:     %s\n", mask.Shape())
	fmt.Printf("  labels:   %s\n", labels.Shape())
}
