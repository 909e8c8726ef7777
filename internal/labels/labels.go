// Package labels holds the closed set of class labels produced by the
// classifier, together with the advice and reference content for each one.
package labels

import (
	"bufio"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/ikancheck/ikancheck/internal/errors"
	"github.com/ikancheck/ikancheck/internal/history"
	"github.com/ikancheck/ikancheck/internal/logger"
)

// Names of the built-in labels that carry special meaning.
const (
	NotSubject = "bukan ikan"
	Healthy    = "Healthy Fish"
)

// defaultNames is the label order of the bundled Xception model. Index i is
// the name of output i.
var defaultNames = []string{
	"Bacterial Red disease",
	"Bacterial diseases - Aeromoniasis",
	"Bacterial gill disease",
	"Fungal diseases Saprolegniasis",
	Healthy,
	"Parasitic diseases",
	"Viral diseases White tail disease",
	NotSubject,
}

// Table maps classifier output indices to label names and back. It is
// immutable after construction and safe for concurrent use.
type Table struct {
	names      []string
	index      map[string]int
	notSubject string
	healthy    string
}

// Default returns the built-in eight-label table.
func Default() *Table {
	t, err := New(defaultNames, NotSubject, Healthy)
	if err != nil {
		panic(err)
	}
	return t
}

// New builds a table from names in output order. Names must be unique and
// usable in history identifiers, and both notSubject and healthy must be
// among them.
func New(names []string, notSubject, healthy string) (*Table, error) {
	if len(names) == 0 {
		return nil, configError(fmt.Errorf("label table is empty"))
	}

	t := &Table{
		names:      slices.Clone(names),
		index:      make(map[string]int, len(names)),
		notSubject: notSubject,
		healthy:    healthy,
	}
	for i, name := range t.names {
		if strings.TrimSpace(name) == "" {
			return nil, configError(fmt.Errorf("label %d is empty", i))
		}
		if err := history.ValidateLabel(name); err != nil {
			return nil, configError(fmt.Errorf("label %d cannot be stored in the history: %w", i, err))
		}
		if prev, dup := t.index[name]; dup {
			return nil, configError(fmt.Errorf("label %q appears at index %d and %d", name, prev, i))
		}
		t.index[name] = i
	}

	if _, ok := t.index[notSubject]; !ok {
		return nil, configError(fmt.Errorf("not-a-fish label %q is missing from the label table", notSubject))
	}
	if _, ok := t.index[healthy]; !ok {
		return nil, configError(fmt.Errorf("healthy label %q is missing from the label table", healthy))
	}
	if notSubject == healthy {
		return nil, configError(fmt.Errorf("not-a-fish and healthy labels must differ"))
	}
	return t, nil
}

// Load reads a label file with one name per line, line order being output
// order. Blank lines are skipped.
func Load(path, notSubject, healthy string) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err).
			Component("labels").
			Category(errors.CategoryLabelLoad).
			Context("operation", "open_label_file").
			Build()
	}
	defer func() { _ = file.Close() }()

	var names []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		names = append(names, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.New(err).
			Component("labels").
			Category(errors.CategoryLabelLoad).
			Context("operation", "read_label_file").
			Build()
	}

	GetLogger().Debug("label file loaded", logger.String("path", path), logger.Int("count", len(names)))
	return New(names, notSubject, healthy)
}

// Len returns the number of labels.
func (t *Table) Len() int {
	return len(t.names)
}

// Name returns the label at index i.
func (t *Table) Name(i int) (string, bool) {
	if i < 0 || i >= len(t.names) {
		return "", false
	}
	return t.names[i], true
}

// Index returns the output index of name.
func (t *Table) Index(name string) (int, bool) {
	i, ok := t.index[name]
	return i, ok
}

// Contains reports whether name is a label of this table.
func (t *Table) Contains(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Names returns a copy of all names in output order.
func (t *Table) Names() []string {
	return slices.Clone(t.names)
}

// NotSubject returns the label that marks an image without a fish.
func (t *Table) NotSubject() string {
	return t.notSubject
}

// Healthy returns the label for a healthy fish.
func (t *Table) Healthy() string {
	return t.healthy
}

// IsNotSubject reports whether name is the not-a-fish sentinel.
func (t *Table) IsNotSubject(name string) bool {
	return name == t.notSubject
}

// Diseases returns every label except the sentinel and the healthy label.
func (t *Table) Diseases() []string {
	out := make([]string, 0, len(t.names))
	for _, name := range t.names {
		if name != t.notSubject && name != t.healthy {
			out = append(out, name)
		}
	}
	return out
}

func configError(err error) error {
	return errors.New(err).
		Component("labels").
		Category(errors.CategoryConfiguration).
		Build()
}
