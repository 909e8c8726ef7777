// Package history is the durable record of accepted detections. Each record
// is an image stored under an identifier "<YYYYMMDD_HHMMSS>_<label>" that can
// be parsed back into its timestamp and label, so listing needs nothing but
// the keys of the underlying backend.
package history

import (
	"cmp"
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/ikancheck/ikancheck/internal/errors"
	"github.com/ikancheck/ikancheck/internal/history/backend"
	"github.com/ikancheck/ikancheck/internal/logger"
	"github.com/ikancheck/ikancheck/internal/observability/metrics"
)

// ErrNotFound is matched by errors.Is for records that do not exist.
var ErrNotFound = backend.ErrNotFound

// maxCollisionSteps bounds how far Append advances a timestamp to find a free
// identifier.
const maxCollisionSteps = 3600

const listCacheKey = "entries"

// Record is an accepted detection to be stored.
type Record struct {
	CreatedAt time.Time
	Label     string
	Image     []byte
}

// RecordID identifies a stored record.
type RecordID string

// StoredRecord is a record read back from the store.
type StoredRecord struct {
	Metadata
	Image       []byte
	ContentType string
}

// Option configures a Store.
type Option func(*Store)

// WithCacheTTL caches List results for ttl. Zero disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Store) { s.cacheTTL = ttl }
}

// WithMetrics records store operations.
func WithMetrics(m *metrics.HistoryMetrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithLocation sets the time zone identifiers are written and parsed in.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) { s.loc = loc }
}

// Store owns the history collection on top of a backend. Writes and deletes
// are serialized; listing sees a snapshot.
type Store struct {
	backend  backend.Backend
	loc      *time.Location
	cacheTTL time.Duration
	metrics  *metrics.HistoryMetrics

	mu    sync.Mutex
	cache *cache.Cache
	// generation changes on every write so a List that raced a write does
	// not cache its stale result.
	generation atomic.Uint64
}

// New returns a store over b.
func New(b backend.Backend, opts ...Option) *Store {
	s := &Store{
		backend: b,
		loc:     time.Local,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cacheTTL > 0 {
		// No janitor goroutine; the single entry expires lazily on read.
		s.cache = cache.New(s.cacheTTL, 0)
	}
	return s
}

// Backend returns the name of the underlying backend.
func (s *Store) Backend() string {
	return s.backend.Name()
}

// Append stores rec under an identifier derived from its timestamp and
// label and returns the identifier. When the identifier is taken the
// timestamp is advanced a second at a time until a free one is found.
// A nil error means the image is durably stored.
func (s *Store) Append(ctx context.Context, rec Record) (id RecordID, err error) {
	start := time.Now()
	defer func() { s.observe(metrics.OpAppend, start, err) }()

	label := NormalizeLabel(rec.Label)
	if err := s.validateRecord(label, rec); err != nil {
		return "", err
	}

	contentType := http.DetectContentType(rec.Image)
	ext := extensionFor(contentType)
	createdAt := rec.CreatedAt.In(s.loc).Truncate(time.Second)

	s.mu.Lock()
	defer s.mu.Unlock()

	ident, err := s.store(ctx, createdAt, label, ext, rec.Image, contentType)
	if err != nil {
		return "", err
	}

	s.invalidate()
	if s.metrics != nil {
		s.metrics.RecordImageSize(len(rec.Image))
	}
	GetLogger().Info("detection recorded",
		logger.String("id", ident),
		logger.String("label", label),
		logger.String("backend", s.backend.Name()),
		logger.Int("bytes", len(rec.Image)))
	return RecordID(ident), nil
}

func (s *Store) validateRecord(label string, rec Record) error {
	var reason string
	switch {
	case label == "":
		reason = "label is empty"
	case len(rec.Image) == 0:
		reason = "image is empty"
	case rec.CreatedAt.IsZero():
		reason = "timestamp is not set"
	}
	if reason == "" {
		if err := ValidateLabel(label); err != nil {
			return errors.New(err).
				Component("history").
				Category(errors.CategoryValidation).
				Context("label", label).
				Build()
		}
		return nil
	}
	return errors.Newf("cannot record detection: %s", reason).
		Component("history").
		Category(errors.CategoryValidation).
		Build()
}

// store writes the image under the first identifier at or after t that is
// not used under any image extension and returns that identifier. Backends
// implementing backend.Creator also catch identifiers taken by other
// processes after the keys were listed. Callers hold s.mu.
func (s *Store) store(ctx context.Context, t time.Time, label, ext string, image []byte, contentType string) (string, error) {
	taken, err := s.identifiers(ctx)
	if err != nil {
		return "", s.persistenceError("append", FormatIdentifier(t, label), err)
	}

	for step := range maxCollisionSteps {
		ident := FormatIdentifier(t, label)
		if _, ok := taken[ident]; !ok {
			err := s.put(ctx, backend.Object{
				Key:         ident + ext,
				Data:        image,
				ContentType: contentType,
				Label:       label,
				CreatedAt:   t,
			})
			if err == nil {
				if step > 0 {
					GetLogger().Debug("identifier collision resolved",
						logger.String("label", label),
						logger.Int("seconds_advanced", step))
				}
				return ident, nil
			}
			if !errors.Is(err, backend.ErrExists) {
				return "", s.persistenceError("append", ident, err)
			}
			GetLogger().Debug("identifier taken by another writer", logger.String("id", ident))
		}
		if s.metrics != nil {
			s.metrics.RecordCollision()
		}
		t = t.Add(time.Second)
	}
	return "", errors.Newf("no free identifier for %q within %d seconds", label, maxCollisionSteps).
		Component("history").
		Category(errors.CategoryPersistence).
		Build()
}

func (s *Store) put(ctx context.Context, obj backend.Object) error {
	if c, ok := s.backend.(backend.Creator); ok {
		return c.Create(ctx, obj)
	}
	return s.backend.Put(ctx, obj)
}

// identifiers returns the identifiers of every stored image.
func (s *Store) identifiers(ctx context.Context) (map[string]struct{}, error) {
	keys, err := s.backend.Keys(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if imageExtension(key) != "" {
			ids[StripExtension(key)] = struct{}{}
		}
	}
	return ids, nil
}

// List returns every record newest first. Keys without an image extension
// are ignored; identifiers that cannot be parsed are listed with degraded
// metadata. A store that has never been written lists as empty.
func (s *Store) List(ctx context.Context) (entries []Metadata, err error) {
	if s.cache != nil {
		if cached, ok := s.cache.Get(listCacheKey); ok {
			if s.metrics != nil {
				s.metrics.RecordCacheLookup(true)
			}
			return slices.Clone(cached.([]Metadata)), nil
		}
		if s.metrics != nil {
			s.metrics.RecordCacheLookup(false)
		}
	}

	start := time.Now()
	defer func() { s.observe(metrics.OpList, start, err) }()

	gen := s.generation.Load()
	keys, err := s.backend.Keys(ctx)
	if err != nil {
		return nil, s.persistenceError("list", "", err)
	}

	entries = make([]Metadata, 0, len(keys))
	for _, key := range keys {
		if imageExtension(key) == "" {
			continue
		}
		md := ParseIdentifier(key, s.loc)
		if md.Malformed {
			GetLogger().Debug("listing record with degraded metadata", logger.Error(CheckIdentifier(key)))
			if s.metrics != nil {
				s.metrics.RecordMalformed()
			}
		}
		entries = append(entries, md)
	}

	// The fixed-width timestamp prefix makes reverse lexical order newest first.
	slices.SortStableFunc(entries, func(a, b Metadata) int {
		return cmp.Compare(b.ID, a.ID)
	})

	if s.cache != nil && s.generation.Load() == gen {
		s.cache.SetDefault(listCacheKey, slices.Clone(entries))
	}
	return entries, nil
}

// Get reads a record back. id may carry its image extension. Without one
// the extension is matched case-insensitively, as List does.
func (s *Store) Get(ctx context.Context, id string) (rec StoredRecord, err error) {
	start := time.Now()
	defer func() { s.observe(metrics.OpGet, start, err) }()

	candidates := candidateKeys(id)
	for _, key := range candidates {
		if verr := backend.ValidateKey(key); verr != nil {
			return StoredRecord{}, backend.InvalidKey(s.backend.Name(), verr)
		}
	}

	rec, found, err := s.getFirst(ctx, id, candidates)
	if found || err != nil || imageExtension(id) != "" {
		return rec, err
	}

	// Stored under an extension in another case, like "X.JPG".
	keys, err := s.storedKeys(ctx, id)
	if err != nil {
		return StoredRecord{}, s.persistenceError("get", id, err)
	}
	keys = slices.DeleteFunc(keys, func(k string) bool { return slices.Contains(candidates, k) })
	rec, _, err = s.getFirst(ctx, id, keys)
	return rec, err
}

// getFirst returns the first of keys that exists. It reports found false
// with a not-found error when none does.
func (s *Store) getFirst(ctx context.Context, id string, keys []string) (StoredRecord, bool, error) {
	for _, key := range keys {
		obj, err := s.backend.Get(ctx, key)
		if errors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return StoredRecord{}, false, s.persistenceError("get", id, err)
		}
		return StoredRecord{
			Metadata:    ParseIdentifier(key, s.loc),
			Image:       obj.Data,
			ContentType: obj.ContentType,
		}, true, nil
	}
	return StoredRecord{}, false, s.notFound(id)
}

// Delete removes a record, every key List shows under id. A record that does
// not exist yields an error for which errors.IsNotFound reports true; the
// history is left unchanged.
func (s *Store) Delete(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() {
		if !errors.IsNotFound(err) {
			s.observe(metrics.OpDelete, start, err)
		}
	}()

	for _, key := range candidateKeys(id) {
		if verr := backend.ValidateKey(key); verr != nil {
			return backend.InvalidKey(s.backend.Name(), verr)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.storedKeys(ctx, id)
	if err != nil {
		return s.persistenceError("delete", id, err)
	}

	deleted := false
	for _, key := range keys {
		derr := s.backend.Delete(ctx, key)
		if errors.IsNotFound(derr) {
			continue
		}
		if derr != nil {
			return s.persistenceError("delete", id, derr)
		}
		deleted = true
	}
	if !deleted {
		return s.notFound(id)
	}

	s.invalidate()
	GetLogger().Info("history record deleted", logger.String("id", id))
	return nil
}

// storedKeys returns the keys stored under id. An id with an image extension
// names exactly one key; otherwise every image key whose identifier is id
// matches, whatever the case of its extension.
func (s *Store) storedKeys(ctx context.Context, id string) ([]string, error) {
	if imageExtension(id) != "" {
		return []string{id}, nil
	}
	keys, err := s.backend.Keys(ctx)
	if err != nil {
		return nil, err
	}
	var matched []string
	for _, key := range keys {
		if imageExtension(key) != "" && StripExtension(key) == id {
			matched = append(matched, key)
		}
	}
	return matched, nil
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// candidateKeys returns the backend keys id may be stored under.
func candidateKeys(id string) []string {
	if imageExtension(id) != "" {
		return []string{id}
	}
	keys := make([]string, len(imageExtensions))
	for i, ext := range imageExtensions {
		keys[i] = id + ext
	}
	return keys
}

func (s *Store) invalidate() {
	s.generation.Add(1)
	if s.cache != nil {
		s.cache.Delete(listCacheKey)
	}
}

func (s *Store) observe(op string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordOperation(op, s.backend.Name(), time.Since(start), err)
	}
}

func (s *Store) notFound(id string) error {
	return errors.New(fmt.Errorf("%w: %s", ErrNotFound, id)).
		Component("history").
		Category(errors.CategoryNotFound).
		Context("id", id).
		Build()
}

// persistenceError keeps validation and cancellation causes recognizable and
// files everything else as a persistence failure.
func (s *Store) persistenceError(op, id string, err error) error {
	if errors.IsValidation(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.New(err).
		Component("history").
		Category(errors.CategoryPersistence).
		Context("operation", op).
		Context("id", id).
		Context("backend", s.backend.Name()).
		Build()
}
