// Package storagetest provides the behavioural tests every history backend
// must pass.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ikancheck/ikancheck/internal/errors"
	"github.com/ikancheck/ikancheck/internal/history/backend"
)

// Factory returns a fresh, empty backend. The test closes it.
type Factory func(t *testing.T) backend.Backend

// jpegMagic is enough of a JPEG header for content checks.
var jpegMagic = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}

// Run executes the backend contract against backends produced by newBackend.
func Run(t *testing.T, newBackend Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, b backend.Backend)
	}{
		{"EmptyStoreHasNoKeys", testEmptyStore},
		{"PutGetRoundTrip", testPutGet},
		{"PutOverwrites", testPutOverwrites},
		{"ExistsTracksPutAndDelete", testExists},
		{"DeleteMissingKey", testDeleteMissing},
		{"GetMissingKey", testGetMissing},
		{"KeysListsEveryObject", testKeys},
		{"RejectsInvalidKeys", testInvalidKeys},
		{"HonoursCancelledContext", testCancelledContext},
		{"ConcurrentPuts", testConcurrentPuts},
		{"CreateKeepsExistingKey", testCreateKeepsExisting},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBackend(t)
			t.Cleanup(func() { _ = b.Close() })
			tt.fn(t, b)
		})
	}
}

func object(key string, data []byte) backend.Object {
	return backend.Object{
		Key:         key,
		Data:        data,
		ContentType: backend.ContentTypeForKey(key),
		Label:       "Healthy Fish",
		CreatedAt:   time.Date(2025, 1, 15, 13, 45, 2, 0, time.UTC),
	}
}

func testEmptyStore(t *testing.T, b backend.Backend) {
	keys, err := b.Keys(t.Context())
	require.NoError(t, err)
	assert.NotNil(t, keys)
	assert.Empty(t, keys)
}

func testPutGet(t *testing.T, b backend.Backend) {
	ctx := t.Context()
	key := "20250115_134502_Healthy Fish.jpg"

	require.NoError(t, b.Put(ctx, object(key, jpegMagic)))

	got, err := b.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, key, got.Key)
	assert.Equal(t, jpegMagic, got.Data)
	assert.Equal(t, "image/jpeg", got.ContentType)
}

func testPutOverwrites(t *testing.T, b backend.Backend) {
	ctx := t.Context()
	key := "20250115_134502_Parasitic diseases.png"

	require.NoError(t, b.Put(ctx, object(key, []byte("first"))))
	require.NoError(t, b.Put(ctx, object(key, []byte("second"))))

	got, err := b.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got.Data)

	keys, err := b.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func testExists(t *testing.T, b backend.Backend) {
	ctx := t.Context()
	key := "20250115_134502_Bacterial gill disease.jpg"

	ok, err := b.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Put(ctx, object(key, jpegMagic)))
	ok, err = b.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, b.Delete(ctx, key))
	ok, err = b.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testDeleteMissing(t *testing.T, b backend.Backend) {
	ctx := t.Context()
	require.NoError(t, b.Put(ctx, object("20250115_134502_Healthy Fish.jpg", jpegMagic)))

	err := b.Delete(ctx, "20240101_000000_Healthy Fish.jpg")
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrNotFound)
	assert.True(t, errors.IsNotFound(err))

	keys, err := b.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1, "a failed delete must not touch other keys")
}

func testGetMissing(t *testing.T, b backend.Backend) {
	_, err := b.Get(t.Context(), "20250115_134502_Healthy Fish.jpg")
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func testKeys(t *testing.T, b backend.Backend) {
	ctx := t.Context()
	want := []string{
		"20250115_134502_Healthy Fish.jpg",
		"20250116_080000_Fungal diseases Saprolegniasis.png",
		"20250117_235959_Viral diseases White tail disease.jpeg",
	}
	for _, key := range want {
		require.NoError(t, b.Put(ctx, object(key, jpegMagic)))
	}

	keys, err := b.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, want, keys)
}

func testInvalidKeys(t *testing.T, b backend.Backend) {
	ctx := t.Context()
	for _, key := range []string{"", "../escape.jpg", "a/b.jpg", ".hidden.jpg"} {
		err := b.Put(ctx, object(key, jpegMagic))
		require.Error(t, err, "key %q", key)
		assert.ErrorIs(t, err, backend.ErrInvalidKey, "key %q", key)
	}
}

func testCancelledContext(t *testing.T, b backend.Backend) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err := b.Put(ctx, object("20250115_134502_Healthy Fish.jpg", jpegMagic))
	require.Error(t, err)

	keys, err := b.Keys(t.Context())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func testConcurrentPuts(t *testing.T, b backend.Backend) {
	ctx := t.Context()
	const n = 10

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Go(func() {
			key := fmt.Sprintf("20250115_1345%02d_Healthy Fish.jpg", i)
			errs <- b.Put(ctx, object(key, jpegMagic))
		})
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	keys, err := b.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, n)
}

func testCreateKeepsExisting(t *testing.T, b backend.Backend) {
	c, ok := b.(backend.Creator)
	if !ok {
		t.Skipf("%s replaces keys on every write", b.Name())
	}
	ctx := t.Context()
	key := "20250115_134502_Healthy Fish.jpg"

	require.NoError(t, c.Create(ctx, object(key, []byte("first"))))
	err := c.Create(ctx, object(key, []byte("second")))
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrExists)

	got, err := b.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), got.Data)
}
