// Package catalog holds the ordered list of disease codes the classifier
// was trained on.
package catalog

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// DefaultIDColumn is the identifier column skipped when reading the
// training CSV header.
const DefaultIDColumn = "ID"

// Catalog is the fixed, ordered set of disease codes. It is read-only once
// constructed.
type Catalog struct {
	codes []string
	index map[string]int
}

// New builds a catalog from codes in model output order.
func New(codes []string) (*Catalog, error) {
	if len(codes) == 0 {
		return nil, errors.New("catalog is empty")
	}

	c := &Catalog{
		codes: make([]string, len(codes)),
		index: make(map[string]int, len(codes)),
	}
	for i, code := range codes {
		code = strings.TrimSpace(code)
		if code == "" {
			return nil, errors.Errorf("catalog column %d has an empty name", i)
		}
		if prev, dup := c.index[code]; dup {
			return nil, errors.Errorf("duplicate code %q at columns %d and %d", code, prev, i)
		}
		c.codes[i] = code
		c.index[code] = i
	}
	return c, nil
}

// Load reads the header row of the training CSV at path and returns every
// column except idColumn, in file order.
func Load(path, idColumn string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open catalog")
	}
	defer f.Close()

	return Read(f, idColumn)
}

// Read parses a catalog from CSV data. Only the header row is consumed.
func Read(r io.Reader, idColumn string) (*Catalog, error) {
	header, err := csv.NewReader(r).Read()
	if err == io.EOF {
		return nil, errors.New("catalog file has no header row")
	}
	if err != nil {
		return nil, errors.Wrap(err, "read catalog header")
	}

	codes := make([]string, 0, len(header))
	for i, col := range header {
		if i == 0 {
			col = strings.TrimPrefix(col, "\ufeff")
		}
		if strings.TrimSpace(col) == idColumn {
			continue
		}
		codes = append(codes, col)
	}

	c, err := New(codes)
	if err != nil {
		return nil, errors.Wrap(err, "build catalog")
	}
	return c, nil
}

// Codes returns a copy of the codes in catalog order.
func (c *Catalog) Codes() []string {
	out := make([]string, len(c.codes))
	copy(out, c.codes)
	return out
}

// Len is the number of codes, which must equal the model output width.
func (c *Catalog) Len() int {
	return len(c.codes)
}

// Index returns the output position of code.
func (c *Catalog) Index(code string) (int, bool) {
	i, ok := c.index[code]
	return i, ok
}
