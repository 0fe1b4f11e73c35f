package datasets

import (
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Corpus holds every session discovered under a glob pattern, in discovery
// order. It is read once per run.
type Corpus struct {
	// Pattern used to find the session dumps (e.g. "data/dumpfiles/*.csv").
	Pattern string

	// Schema resolved from the first dump and enforced on all of them.
	Schema *Schema

	sessions []*Session
	byID     map[string]int
	byPath   map[string]int
}

// LoadCorpus discovers the session dumps matching pattern, resolves spec
// against the first header and extracts every session. Any schema violation or
// id collision fails the whole load.
func LoadCorpus(pattern string, spec SchemaSpec, logger *zap.Logger) (*Corpus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	paths, err := Discover(pattern)
	if err != nil {
		return nil, err
	}

	header, err := readHeader(paths[0])
	if err != nil {
		return nil, err
	}
	schema, err := spec.Resolve(header)
	if err != nil {
		if se, ok := err.(*SchemaError); ok && se.Path == "" {
			se.Path = paths[0]
		}
		return nil, err
	}
	logger.Info("schema resolved",
		zap.String("reference", paths[0]),
		zap.Int("text", len(schema.Text)),
		zap.Int("audio", len(schema.Audio)),
		zap.Int("visual", len(schema.Visual)),
		zap.String("label", string(schema.Label.Mode)))

	sessions := make([]*Session, 0, len(paths))
	rows := 0
	for _, path := range paths {
		s, err := ReadSession(path, schema)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
		rows += s.Len()
		logger.Debug("session loaded", zap.String("session", s.ID), zap.Int("data.samples", s.Len()))
	}

	c, err := NewCorpus(sessions)
	if err != nil {
		return nil, err
	}
	c.Pattern = pattern
	c.Schema = schema
	logger.Info("corpus loaded: "+humanize.Comma(int64(len(sessions)))+" sessions, "+humanize.Comma(int64(rows))+" utterances",
		zap.String("pattern", pattern))
	return c, nil
}

// NewCorpus indexes already extracted sessions. Session ids must be unique.
func NewCorpus(sessions []*Session) (*Corpus, error) {
	c := &Corpus{
		sessions: sessions,
		byID:     make(map[string]int, len(sessions)),
		byPath:   make(map[string]int, len(sessions)),
	}
	for i, s := range sessions {
		if j, dup := c.byID[s.ID]; dup {
			return nil, &DuplicateSessionError{ID: s.ID, Paths: []string{sessions[j].Path, s.Path}}
		}
		c.byID[s.ID] = i
		if s.Path != "" {
			c.byPath[cleanPath(s.Path)] = i
		}
	}
	return c, nil
}

// Len returns the number of sessions.
func (c *Corpus) Len() int { return len(c.sessions) }

// Sessions returns the sessions in discovery order.
func (c *Corpus) Sessions() []*Session { return c.sessions }

// Paths returns the session files in discovery order.
func (c *Corpus) Paths() []string {
	out := make([]string, len(c.sessions))
	for i, s := range c.sessions {
		out[i] = s.Path
	}
	return out
}

// Session looks a session up by id.
func (c *Corpus) Session(id string) (*Session, bool) {
	i, ok := c.byID[id]
	if !ok {
		return nil, false
	}
	return c.sessions[i], true
}

// Partition is the train/test split of one cross-validation fold.
type Partition struct {
	TestID string
	Train  []*Session
	Test   []*Session
}

// Partition holds out the session whose file equals testPath. All other
// sessions form the train side, in discovery order.
func (c *Corpus) Partition(testPath string) (*Partition, error) {
	i, ok := c.byPath[cleanPath(testPath)]
	if !ok {
		return nil, errors.Wrapf(ErrNoSuchSession, "held-out file %s", testPath)
	}
	return c.partitionAt(i), nil
}

// PartitionByID holds out the session with the given id.
func (c *Corpus) PartitionByID(id string) (*Partition, error) {
	i, ok := c.byID[id]
	if !ok {
		return nil, errors.Wrapf(ErrNoSuchSession, "held-out session %s", id)
	}
	return c.partitionAt(i), nil
}

func (c *Corpus) partitionAt(held int) *Partition {
	p := &Partition{
		TestID: c.sessions[held].ID,
		Train:  make([]*Session, 0, len(c.sessions)-1),
		Test:   []*Session{c.sessions[held]},
	}
	for i, s := range c.sessions {
		if i != held {
			p.Train = append(p.Train, s)
		}
	}
	return p
}

func cleanPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return filepath.Clean(abs)
	}
	return filepath.Clean(p)
}
