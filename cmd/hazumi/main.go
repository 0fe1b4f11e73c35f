// Hazumi runs leave-one-session-out cross-validation of a per-utterance
// sentiment classifier over a directory of Hazumi session dumps.
//
// Usage:
//   go run ./cmd/hazumi --config config/dev/config.yaml --model RNN --attention
//
// Flags override the YAML file only when given.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	arg "github.com/alexflint/go-arg"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Noofbiz/hazumi/config"
	"github.com/Noofbiz/hazumi/datasets"
	"github.com/Noofbiz/hazumi/monte"
	"github.com/Noofbiz/hazumi/simple"
	"github.com/Noofbiz/hazumi/trainer"
)

type args struct {
	Config string `arg:"-c,--config" help:"YAML config file"`
	Data   string `arg:"--data" help:"glob of session CSV dumps"`
	Out    string `arg:"--out" help:"output directory for reports"`

	LR          *float64 `arg:"--lr" help:"learning rate"`
	L2          *float64 `arg:"--l2" help:"L2 regularization weight"`
	Dropout     *float64 `arg:"--dropout" help:"dropout rate"`
	BatchSize   *int     `arg:"--batch-size" help:"sessions per batch"`
	Epochs      *int     `arg:"--epochs" help:"epochs per fold"`
	Rate        *float64 `arg:"--rate" help:"fraction of training sessions to keep"`
	Seed        *int64   `arg:"--seed" help:"random seed"`
	ClassWeight *bool    `arg:"--class-weight" help:"weight the loss by class"`
	Attention   *bool    `arg:"--attention" help:"add self-attention over the session"`
	Model       string   `arg:"--model" help:"encoder: FNN, RNN (LSTM is an alias of RNN)"`
	Binary      *bool    `arg:"--binary" help:"derive binary labels from the TS items"`
	NoPlots     bool     `arg:"--no-plots" help:"skip loss-curve PNGs"`
	LogLevel    string   `arg:"--log-level" help:"debug, info, warn or error"`
}

func (args) Description() string {
	return "Leave-one-session-out training of multimodal sentiment classifiers on the Hazumi corpus."
}

// apply copies the flags that were given over cfg.
func (a args) apply(cfg *config.Root) {
	if a.Data != "" {
		cfg.Data = a.Data
	}
	if a.Out != "" {
		cfg.Output.Dir = a.Out
	}
	if a.LR != nil {
		cfg.Train.LR = *a.LR
	}
	if a.L2 != nil {
		cfg.Train.L2 = *a.L2
	}
	if a.Dropout != nil {
		cfg.Train.Dropout = *a.Dropout
	}
	if a.BatchSize != nil {
		cfg.Train.BatchSize = *a.BatchSize
	}
	if a.Epochs != nil {
		cfg.Train.Epochs = *a.Epochs
	}
	if a.Rate != nil {
		cfg.Train.Rate = *a.Rate
	}
	if a.Seed != nil {
		cfg.Seed = *a.Seed
	}
	if a.ClassWeight != nil {
		cfg.Train.ClassWeight = *a.ClassWeight
	}
	if a.Attention != nil {
		cfg.Model.Attention = *a.Attention
	}
	if a.Model != "" {
		cfg.Model.Kind = a.Model
	}
	if a.Binary != nil && *a.Binary {
		cfg.Schema.Label.Mode = string(datasets.LabelBinary)
	}
	if a.NoPlots {
		cfg.Output.Plots = false
	}
	if a.LogLevel != "" {
		cfg.LogLevel = a.LogLevel
	}
}

// newLogger writes JSON lines with RFC3339 timestamps, errors to stderr and
// everything else to stdout.
func newLogger(level string) (*zap.Logger, error) {
	var floor zapcore.Level
	if err := floor.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", level)
	}
	isErrorLevel := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.ErrorLevel
	})
	isInfoLevel := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= floor && lvl < zapcore.ErrorLevel
	})

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.RFC3339TimeEncoder
	encoder := zapcore.NewJSONEncoder(encCfg)

	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), isErrorLevel),
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), isInfoLevel),
	)
	return zap.New(core, zap.AddCaller()), nil
}

func main() {
	var a args
	arg.MustParse(&a)

	cfg, err := config.Load(a.Config)
	if err != nil {
		fail(zap.NewExample(), "failed to load config", err)
	}
	a.apply(cfg)

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fail(zap.NewExample(), "failed to build logger", err)
	}
	defer logger.Sync()

	runID := uuid.New().String()
	logger = logger.With(zap.String("run_id", runID))

	if err := run(cfg, runID, logger); err != nil {
		fail(logger, "run failed", err)
	}
}

func run(cfg *config.Root, runID string, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	variant, err := simple.ParseVariant(cfg.Model.Kind)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	corpus, err := datasets.LoadCorpus(cfg.Data, cfg.SchemaSpec(), logger)
	if err != nil {
		return err
	}
	if err := logFirstBatch(corpus, cfg.Train.BatchSize, logger); err != nil {
		return err
	}

	outDir := filepath.Join(cfg.Output.Dir, runID)
	writer, err := trainer.NewWriter(outDir, cfg.Output.Plots)
	if err != nil {
		return err
	}

	classes := cfg.Classes()
	driver := &trainer.Driver{
		RunID:  runID,
		Corpus: corpus,
		Config: trainer.Config{
			Epochs:       cfg.Train.Epochs,
			BatchSize:    cfg.Train.BatchSize,
			Valid:        cfg.Train.Valid,
			Rate:         cfg.Train.Rate,
			Seed:         cfg.Seed,
			Classes:      classes,
			ClassWeights: cfg.Weights(),
			Standardize:  cfg.Train.Standardize,
		},
		NewModel: func(inputDim, fold int) (trainer.Model, error) {
			m, err := simple.NewModel(simple.Config{
				Variant:      variant,
				InputDim:     inputDim,
				EmbedDim:     cfg.Model.Embed,
				HiddenDim:    cfg.Model.Hidden,
				Classes:      classes,
				Attention:    cfg.Model.Attention,
				Dropout:      cfg.Train.Dropout,
				LearningRate: cfg.Train.LR,
				WeightDecay:  cfg.Train.L2,
				ClipNorm:     cfg.Train.ClipNorm,
				Seed:         cfg.Seed + int64(fold) + 1,
			})
			if err != nil {
				return nil, err
			}
			if fold == 0 {
				logger.Info("model", zap.Stringer("arch", m),
					zap.String("params", humanize.Comma(int64(m.NumParams()))))
			}
			return m, nil
		},
		Logger: logger,
		OnFold: writer.WriteFold,
	}

	res, err := driver.Run(ctx)
	if err != nil {
		return err
	}

	summary, err := trainer.Summarize(runID, res)
	if err != nil {
		return err
	}
	if cfg.Output.Bootstrap > 0 {
		mc, err := monte.NewMonte(cfg.Output.Bootstrap, cfg.Seed)
		if err != nil {
			return err
		}
		ci, err := mc.MeanCI(res.Accuracies)
		if err != nil {
			logger.Warn("bootstrap interval unavailable", zap.Error(err))
		} else {
			summary.CI = &ci
		}
	}
	if err := writer.WriteSummary(summary); err != nil {
		return err
	}

	fields := []zap.Field{
		zap.Float64("mean_accuracy", res.MeanAccuracy),
		zap.Float64("median", float64(summary.Median)),
		zap.Float64("std_dev", float64(summary.StdDev)),
		zap.String("out", outDir),
		zap.String("took", humanize.RelTime(start, time.Now(), "", "")),
	}
	if summary.CI != nil {
		fields = append(fields, zap.Float64("ci_low", summary.CI.Low), zap.Float64("ci_high", summary.CI.High))
	}
	logger.Info("run complete", fields...)
	return nil
}

// logFirstBatch reports the tensor shapes an external gomlx classifier would
// receive for the first batch of the corpus.
func logFirstBatch(corpus *datasets.Corpus, batchSize int, logger *zap.Logger) error {
	ds := datasets.NewSequenceDataset(corpus.Sessions())
	n := min(batchSize, ds.Len())
	if n == 0 {
		return nil
	}
	indices := make([]int, n)
	for i := range n {
		indices[i] = i
	}
	b, err := ds.Batch(indices)
	if err != nil {
		return err
	}
	features, mask, labels := b.ToGomlxTensors()
	logger.Debug("first batch",
		zap.Stringer("features", features.Shape()),
		zap.Stringer("mask", mask.Shape()),
		zap.Stringer("labels", labels.Shape()))
	return nil
}

func fail(logger *zap.Logger, msg string, err error) {
	logger.Error(msg, zap.Error(err))
	logger.Sync()
	os.Exit(1)
}
