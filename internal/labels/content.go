package labels

import (
	_ "embed"
	"fmt"
	"maps"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ikancheck/ikancheck/internal/errors"
)

//go:embed content.yaml
var contentYAML []byte

// Education is the reference page for one condition.
type Education struct {
	Image      string `yaml:"image" json:"image"`
	OtherNames string `yaml:"other_names" json:"other_names"`
	Cause      string `yaml:"cause" json:"cause"`
	Symptoms   string `yaml:"symptoms" json:"symptoms"`
	Treatment  string `yaml:"treatment" json:"treatment"`
	Prevention string `yaml:"prevention" json:"prevention"`
}

// Content holds advice and education text keyed by label name. The text is
// kept in its original language.
type Content struct {
	advice        map[string]string
	defaultAdvice string
	education     map[string]Education
}

type contentFile struct {
	Advice        map[string]string    `yaml:"advice"`
	DefaultAdvice string               `yaml:"default_advice"`
	Education     map[string]Education `yaml:"education"`
}

// LoadContent parses the embedded content.
func LoadContent() (*Content, error) {
	return ParseContent(contentYAML)
}

// ParseContent parses advice and education content from YAML.
func ParseContent(data []byte) (*Content, error) {
	var f contentFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.New(fmt.Errorf("parse label content: %w", err)).
			Component("labels").
			Category(errors.CategoryConfiguration).
			Build()
	}

	c := &Content{
		advice:        make(map[string]string, len(f.Advice)),
		defaultAdvice: strings.TrimSpace(f.DefaultAdvice),
		education:     make(map[string]Education, len(f.Education)),
	}
	for name, text := range f.Advice {
		c.advice[name] = strings.TrimSpace(text)
	}
	for name, e := range f.Education {
		e.Symptoms = strings.TrimSpace(e.Symptoms)
		e.Treatment = strings.TrimSpace(e.Treatment)
		e.Prevention = strings.TrimSpace(e.Prevention)
		c.education[name] = e
	}
	return c, nil
}

// Advice returns the treatment advice for label, or the default advice when
// none is recorded.
func (c *Content) Advice(label string) string {
	if text, ok := c.advice[label]; ok {
		return text
	}
	return c.defaultAdvice
}

// HasAdvice reports whether label has its own advice entry.
func (c *Content) HasAdvice(label string) bool {
	_, ok := c.advice[label]
	return ok
}

// Education returns the reference page for label.
func (c *Content) Education(label string) (Education, bool) {
	e, ok := c.education[label]
	return e, ok
}

// EducationTopics returns the labels that have a reference page, sorted.
func (c *Content) EducationTopics() []string {
	return slices.Sorted(maps.Keys(c.education))
}

// Missing returns the labels of t, other than the not-a-fish sentinel, that
// have no advice entry.
func (c *Content) Missing(t *Table) []string {
	var missing []string
	for _, name := range t.Names() {
		if t.IsNotSubject(name) {
			continue
		}
		if !c.HasAdvice(name) {
			missing = append(missing, name)
		}
	}
	return missing
}
