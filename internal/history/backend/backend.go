// Package backend defines the byte-oriented storage contract the detection
// history is built on, along with helpers shared by its implementations.
package backend

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/ikancheck/ikancheck/internal/errors"
)

// Sentinel errors returned by every backend.
var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.NewStd("history backend: key not found")

	// ErrInvalidKey is returned for keys that could escape the store or are empty.
	ErrInvalidKey = errors.NewStd("history backend: invalid key")

	// ErrExists is returned by Creator.Create when the key is already stored.
	ErrExists = errors.NewStd("history backend: key exists")
)

// MaxKeyLength bounds keys so they fit filesystem names and indexed columns.
const MaxKeyLength = 255

// Object is one stored image. Label and CreatedAt are informational: backends
// with structured storage keep them alongside the bytes, others ignore them
// and return zero values from Get.
type Object struct {
	Key         string
	Data        []byte
	ContentType string
	Label       string
	CreatedAt   time.Time
}

// Backend stores opaque images by key. Put must be durable when it returns
// nil. Keys on a store that was never written returns an empty slice.
// Implementations are safe for concurrent use.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	Put(ctx context.Context, obj Object) error
	Get(ctx context.Context, key string) (Object, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// Creator is implemented by backends that can store an object only when its
// key is free. The check and the write are one step, so a concurrent writer
// in another process cannot be overwritten.
type Creator interface {
	// Create stores obj like Put, or returns an error wrapping ErrExists.
	Create(ctx context.Context, obj Object) error
}

// ValidateKey rejects keys that are empty, too long, contain path separators
// or control characters, or name a relative directory.
func ValidateKey(key string) error {
	switch {
	case key == "", strings.TrimSpace(key) == "":
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	case len(key) > MaxKeyLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidKey, MaxKeyLength)
	case key == ".", key == "..", strings.Contains(key, ".."):
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	case strings.ContainsAny(key, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidKey, key)
	case strings.HasPrefix(key, "."):
		return fmt.Errorf("%w: %q is hidden", ErrInvalidKey, key)
	}
	for _, r := range key {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: control character in key", ErrInvalidKey)
		}
	}
	return nil
}

// ContentTypeForKey returns the image content type implied by the key's
// extension, or application/octet-stream.
func ContentTypeForKey(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}

// NotFound wraps ErrNotFound with the backend and key in context.
func NotFound(backendName, key string) error {
	return errors.New(fmt.Errorf("%w: %s", ErrNotFound, key)).
		Component("history").
		Category(errors.CategoryNotFound).
		Context("backend", backendName).
		Context("key", key).
		Build()
}

// KeyExists wraps ErrExists with the backend and key in context.
func KeyExists(backendName, key string) error {
	return errors.New(fmt.Errorf("%w: %s", ErrExists, key)).
		Component("history").
		Category(errors.CategoryPersistence).
		Context("backend", backendName).
		Context("key", key).
		Build()
}

// InvalidKey wraps a ValidateKey failure as a validation error.
func InvalidKey(backendName string, err error) error {
	return errors.New(err).
		Component("history").
		Category(errors.CategoryValidation).
		Context("backend", backendName).
		Build()
}

// Persistence wraps a storage failure.
func Persistence(backendName, operation string, err error) error {
	return errors.New(err).
		Component("history").
		Category(errors.CategoryPersistence).
		Context("backend", backendName).
		Context("operation", operation).
		Build()
}
