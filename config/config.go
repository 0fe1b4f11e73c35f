// Package config loads the YAML run configuration.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/Noofbiz/hazumi/datasets"
)

// Block declares a feature block by explicit columns, a "first:last" range, or
// as the remainder of the header (rest: true).
type Block struct {
	Columns []string `yaml:"columns"`
	Range   string   `yaml:"range"`
	Rest    bool     `yaml:"rest"`
}

func (b Block) declared() bool {
	return len(b.Columns) > 0 || b.Range != "" || b.Rest
}

// Label selects the target: "ternary" reads Column shifted by Base, "binary"
// sums Group and compares it against Threshold.
type Label struct {
	Mode      string   `yaml:"mode"`
	Column    string   `yaml:"column"`
	Base      int      `yaml:"base"`
	Classes   int      `yaml:"classes"`
	Group     []string `yaml:"group"`
	Threshold float64  `yaml:"threshold"`
}

// Schema maps header columns onto the text, audio and visual blocks.
type Schema struct {
	Text    Block    `yaml:"text"`
	Audio   Block    `yaml:"audio"`
	Visual  Block    `yaml:"visual"`
	Exclude []string `yaml:"exclude"`
	Label   Label    `yaml:"label"`
}

// Train holds the optimizer and cross-validation settings of every fold.
type Train struct {
	Epochs       int       `yaml:"epochs"`
	BatchSize    int       `yaml:"batch_size"`
	LR           float64   `yaml:"lr"`
	L2           float64   `yaml:"l2"`
	Dropout      float64   `yaml:"dropout"`
	Valid        float64   `yaml:"valid"`
	Rate         float64   `yaml:"rate"`
	ClassWeight  bool      `yaml:"class_weight"`
	ClassWeights []float64 `yaml:"class_weights"`
	Standardize  bool      `yaml:"standardize"`
	ClipNorm     float64   `yaml:"clip_norm"`
}

// Model selects the classifier. Kind is FNN, RNN or LSTM (an alias of RNN).
type Model struct {
	Kind      string `yaml:"kind"`
	Attention bool   `yaml:"attention"`
	Hidden    int    `yaml:"hidden"`
	Embed     int    `yaml:"embed"`
}

// Output controls what is written under Dir/<run id>.
type Output struct {
	Dir       string `yaml:"dir"`
	Plots     bool   `yaml:"plots"`
	Bootstrap int    `yaml:"bootstrap"`
}

// Root is the whole run configuration.
type Root struct {
	Data     string `yaml:"data"`
	Seed     int64  `yaml:"seed"`
	LogLevel string `yaml:"log_level"`

	Schema Schema `yaml:"schema"`
	Train  Train  `yaml:"train"`
	Model  Model  `yaml:"model"`
	Output Output `yaml:"output"`
}

// DefaultClassWeights rebalance the three ternary classes of the corpus.
var DefaultClassWeights = []float64{3.45142857, 0.77977978, 0.66981943}

// Default returns the baseline experiment settings. Without declared ranges
// every column outside the exclude list and the label is a feature, in header
// order.
func Default() *Root {
	return &Root{
		Data:     filepath.Join("data", "dumpfiles", "*.csv"),
		Seed:     1,
		LogLevel: "info",
		Schema: Schema{
			Exclude: append([]string(nil), datasets.DefaultExclude...),
			Label: Label{
				Mode:      string(datasets.LabelTernary),
				Column:    "TS_ternary",
				Classes:   3,
				Group:     append([]string(nil), datasets.DefaultBinaryGroup...),
				Threshold: datasets.DefaultBinaryThreshold,
			},
		},
		Train: Train{
			Epochs:       60,
			BatchSize:    2,
			LR:           1e-4,
			L2:           1e-5,
			Dropout:      0.25,
			Valid:        0.1,
			Rate:         1.0,
			ClassWeights: append([]float64(nil), DefaultClassWeights...),
			Standardize:  true,
		},
		Model: Model{
			Kind:   "LSTM",
			Hidden: 100,
			Embed:  100,
		},
		Output: Output{
			Dir:       "out",
			Plots:     true,
			Bootstrap: 1000,
		},
	}
}

// Load reads a YAML file over Default(). With an empty path it tries
// $HAZUMI_CONFIG and then config/<CONFIG_ENV>/config.yaml (CONFIG_ENV defaults
// to "dev"); when none of them exists the defaults are returned as is.
func Load(path string) (*Root, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = os.Getenv("HAZUMI_CONFIG")
		explicit = path != ""
	}
	if !explicit {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		path = filepath.Join("config", env, "config.yaml")
	}

	f, err := os.Open(path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errors.Wrapf(err, "failed to open config %s", path)
	}
	defer f.Close()
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to decode config %s", path)
	}
	return cfg, nil
}

// Parse decodes YAML bytes over Default().
func Parse(data []byte) (*Root, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}
	return cfg, nil
}

// SchemaSpec converts the schema section for datasets.LoadCorpus. A schema
// without any declared block reads every remaining column into the text block.
func (r *Root) SchemaSpec() datasets.SchemaSpec {
	s := r.Schema
	if !s.Text.declared() && !s.Audio.declared() && !s.Visual.declared() {
		s.Text = Block{Rest: true}
	}
	return datasets.SchemaSpec{
		Text:    s.Text.spec(),
		Audio:   s.Audio.spec(),
		Visual:  s.Visual.spec(),
		Exclude: s.Exclude,
		Label: datasets.LabelSpec{
			Mode:      datasets.LabelMode(strings.ToLower(s.Label.Mode)),
			Column:    s.Label.Column,
			Base:      s.Label.Base,
			Classes:   s.Label.Classes,
			Group:     s.Label.Group,
			Threshold: s.Label.Threshold,
		},
	}
}

func (b Block) spec() datasets.BlockSpec {
	return datasets.BlockSpec{Columns: b.Columns, Range: b.Range, Rest: b.Rest}
}

// Classes is the number of label classes the schema produces.
func (r *Root) Classes() int {
	return r.SchemaSpec().Label.NumClasses()
}

// Weights returns the loss class weights, or nil when weighting is off.
func (r *Root) Weights() []float64 {
	if !r.Train.ClassWeight {
		return nil
	}
	return r.Train.ClassWeights
}

// Validate rejects settings no run can use.
func (r *Root) Validate() error {
	if r.Data == "" {
		return errors.New("data pattern is empty")
	}
	switch datasets.LabelMode(strings.ToLower(r.Schema.Label.Mode)) {
	case datasets.LabelTernary, datasets.LabelBinary:
	default:
		return errors.Errorf("unknown label mode %q", r.Schema.Label.Mode)
	}
	t := r.Train
	if t.Epochs < 1 {
		return errors.Errorf("train.epochs must be >= 1, got %d", t.Epochs)
	}
	if t.BatchSize < 1 {
		return errors.Errorf("train.batch_size must be >= 1, got %d", t.BatchSize)
	}
	if t.LR <= 0 {
		return errors.Errorf("train.lr must be > 0, got %v", t.LR)
	}
	if t.Dropout < 0 || t.Dropout >= 1 {
		return errors.Errorf("train.dropout must be in [0, 1), got %v", t.Dropout)
	}
	if t.Valid < 0 || t.Valid >= 1 {
		return errors.Errorf("train.valid must be in [0, 1), got %v", t.Valid)
	}
	if t.Rate <= 0 || t.Rate > 1 {
		return errors.Errorf("train.rate must be in (0, 1], got %v", t.Rate)
	}
	if t.ClassWeight && len(t.ClassWeights) != r.Classes() {
		return errors.Errorf("train.class_weights has %d entries for %d classes", len(t.ClassWeights), r.Classes())
	}
	return nil
}
