package history

import (
	"fmt"
	"path"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/ikancheck/ikancheck/internal/errors"
	"github.com/ikancheck/ikancheck/internal/history/backend"
)

// Identifier formats.
const (
	// TimestampLayout is the fixed-width timestamp prefix of every identifier.
	TimestampLayout = "20060102_150405"
	// DisplayLayout formats timestamps for people.
	DisplayLayout = "02 Jan 2006, 15:04"
	// UnknownTime is shown when an identifier carries no parseable timestamp.
	UnknownTime = "unknown"
)

// imageExtensions are the key suffixes listed as history records, in the
// order lookups try them.
var imageExtensions = []string{".jpg", ".jpeg", ".png"}

// Metadata is what an identifier says about its record. Malformed metadata
// has the identifier as its label and a zero CreatedAt.
type Metadata struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"timestamp"`
	Malformed bool      `json:"malformed"`
}

// DisplayTime formats CreatedAt as "02 Jan 2006, 15:04", or "unknown".
func (m Metadata) DisplayTime() string {
	if m.Malformed || m.CreatedAt.IsZero() {
		return UnknownTime
	}
	return m.CreatedAt.Format(DisplayLayout)
}

// NormalizeLabel returns label in Unicode NFC with surrounding space removed.
func NormalizeLabel(label string) string {
	return norm.NFC.String(strings.TrimSpace(label))
}

// FormatIdentifier builds "<YYYYMMDD_HHMMSS>_<label>" from createdAt, at
// second resolution, in createdAt's location.
func FormatIdentifier(createdAt time.Time, label string) string {
	return createdAt.Format(TimestampLayout) + "_" + NormalizeLabel(label)
}

// ValidateLabel returns an error wrapping backend.ErrInvalidKey when label
// cannot be part of an identifier stored under every image extension.
func ValidateLabel(label string) error {
	label = NormalizeLabel(label)
	if label == "" {
		return fmt.Errorf("%w: empty label", backend.ErrInvalidKey)
	}
	return backend.ValidateKey(TimestampLayout + "_" + label + ".jpeg")
}

// ParseIdentifier reverses FormatIdentifier, interpreting the timestamp in
// loc. Only the first two underscores separate fields; the rest belongs to
// the label. A trailing image extension is ignored. Identifiers that do not
// match the format yield degraded metadata instead of an error.
func ParseIdentifier(id string, loc *time.Location) Metadata {
	if loc == nil {
		loc = time.Local
	}
	stem := StripExtension(id)

	parts := strings.SplitN(stem, "_", 3)
	if len(parts) < 3 || parts[2] == "" {
		return malformed(stem)
	}
	ts, err := time.ParseInLocation(TimestampLayout, parts[0]+"_"+parts[1], loc)
	if err != nil {
		return malformed(stem)
	}
	return Metadata{ID: stem, Label: parts[2], CreatedAt: ts}
}

// CheckIdentifier returns a malformed-record error when id does not follow
// the "<YYYYMMDD_HHMMSS>_<label>" format.
func CheckIdentifier(id string) error {
	if !ParseIdentifier(id, time.UTC).Malformed {
		return nil
	}
	return errors.New(fmt.Errorf("identifier %q does not match %s_<label>", StripExtension(id), TimestampLayout)).
		Component("history").
		Category(errors.CategoryMalformedRecord).
		Context("identifier", id).
		Build()
}

func malformed(stem string) Metadata {
	return Metadata{ID: stem, Label: stem, Malformed: true}
}

// StripExtension removes a trailing image extension from key.
func StripExtension(key string) string {
	if ext := imageExtension(key); ext != "" {
		return key[:len(key)-len(ext)]
	}
	return key
}

// imageExtension returns key's extension when it is one of the listed image
// extensions, matched case-insensitively, or "".
func imageExtension(key string) string {
	ext := path.Ext(key)
	for _, e := range imageExtensions {
		if strings.EqualFold(ext, e) {
			return ext
		}
	}
	return ""
}

// extensionFor picks the key extension for image bytes by content sniffing.
// Unknown content is stored as .jpg.
func extensionFor(contentType string) string {
	if contentType == "image/png" {
		return ".png"
	}
	return ".jpg"
}
