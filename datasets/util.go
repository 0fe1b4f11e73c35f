package datasets

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

func parseFloat32(s string) (float32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty string")
	}
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, err
	}
	return float32(v), nil
}

func parseFloat64(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty string")
	}
	return strconv.ParseFloat(s, 64)
}

// readHeader reads only the header line of a CSV file.
func readHeader(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open CSV %s", path)
	}
	defer file.Close()

	header, err := csv.NewReader(file).Read()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read header of %s", path)
	}
	return cleanHeader(header), nil
}

// readTable reads a whole CSV file into its header and data rows.
func readTable(path string) (header []string, rows [][]string, err error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open CSV %s", path)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to read CSV %s", path)
	}
	if len(records) == 0 {
		return nil, nil, errors.Errorf("CSV %s has no header", path)
	}
	return cleanHeader(records[0]), records[1:], nil
}

// Discover resolves pattern to absolute, cleaned paths in lexical order so that
// repeated runs see the sessions in the same order.
func Discover(pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to glob pattern %s", pattern)
	}
	if len(matches) == 0 {
		return nil, errors.Errorf("no CSV files found matching pattern: %s", pattern)
	}
	paths := make([]string, 0, len(matches))
	for _, m := range matches {
		abs, err := filepath.Abs(m)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to resolve %s", m)
		}
		paths = append(paths, filepath.Clean(abs))
	}
	sort.Strings(paths)
	return paths, nil
}

// SessionID derives the session identifier from a dump file name: the base name
// without its extension (".../1902F2001.csv" -> "1902F2001").
func SessionID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
