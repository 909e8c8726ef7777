// Package azblobstore keeps history images as block blobs in one Azure Blob
// Storage container. The label and detection time travel as blob metadata.
package azblobstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/ikancheck/ikancheck/internal/errors"
	"github.com/ikancheck/ikancheck/internal/history/backend"
	"github.com/ikancheck/ikancheck/internal/logger"
)

// Name is the backend name used in logs and metrics.
const Name = "azure"

// Metadata keys. Azure normalizes metadata names, so lookups ignore case.
const (
	metaLabel     = "label"
	metaCreatedAt = "createdat"
)

const (
	defaultMaxRetries = 3
	defaultTryTimeout = 30 * time.Second
)

// Config holds Azure Blob Storage connection parameters. Either
// ConnectionString, or AccountName with AccountKey, must be set.
type Config struct {
	ConnectionString string
	AccountName      string
	AccountKey       string
	// ServiceURL overrides the default https://<account>.blob.core.windows.net/.
	ServiceURL string
	Container  string
}

func (c Config) validate() error {
	var problems []string
	if strings.TrimSpace(c.Container) == "" {
		problems = append(problems, "container is required")
	}
	if c.ConnectionString == "" && (c.AccountName == "" || c.AccountKey == "") {
		problems = append(problems, "either a connection string or account name and key are required")
	}
	if len(problems) > 0 {
		return errors.Newf("azure history backend: %s", strings.Join(problems, "; ")).
			Component("history").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

func (c Config) serviceURL() string {
	if c.ServiceURL != "" {
		return c.ServiceURL
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net/", c.AccountName)
}

// Store is an Azure Blob Storage backend.
type Store struct {
	client    *azblob.Client
	container string

	mu             sync.Mutex
	containerReady bool
}

var _ backend.Backend = (*Store)(nil)

// New creates the Azure client. No request is made until the first operation.
func New(cfg Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	opts := &azblob.ClientOptions{
		ClientOptions: policy.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries: defaultMaxRetries,
				TryTimeout: defaultTryTimeout,
			},
		},
	}

	var (
		client *azblob.Client
		err    error
	)
	if cfg.ConnectionString != "" {
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, opts)
	} else {
		var cred *azblob.SharedKeyCredential
		cred, err = azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if err == nil {
			client, err = azblob.NewClientWithSharedKeyCredential(cfg.serviceURL(), cred, opts)
		}
	}
	if err != nil {
		return nil, errors.New(fmt.Errorf("create storage client: %w", err)).
			Component("history").
			Category(errors.CategoryConfiguration).
			Context("container", cfg.Container).
			Build()
	}

	return &Store{client: client, container: cfg.Container}, nil
}

// Name implements backend.Backend.
func (s *Store) Name() string { return Name }

// ensureContainer creates the container once per process.
func (s *Store) ensureContainer(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.containerReady {
		return nil
	}
	_, err := s.client.CreateContainer(ctx, s.container, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return err
	}
	s.containerReady = true
	GetLogger().Info("storage container ready", logger.String("container", s.container))
	return nil
}

// Put uploads obj as a block blob. The upload is committed when it returns.
func (s *Store) Put(ctx context.Context, obj backend.Object) error {
	if err := backend.ValidateKey(obj.Key); err != nil {
		return backend.InvalidKey(Name, err)
	}
	if err := s.ensureContainer(ctx); err != nil {
		return backend.Persistence(Name, "create_container", err)
	}

	contentType := obj.ContentType
	if contentType == "" {
		contentType = backend.ContentTypeForKey(obj.Key)
	}

	_, err := s.client.UploadBuffer(ctx, s.container, obj.Key, obj.Data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
		Metadata:    encodeMetadata(obj),
	})
	if err != nil {
		return backend.Persistence(Name, "put", fmt.Errorf("upload blob %s: %w", obj.Key, err))
	}
	return nil
}

// Get downloads the blob stored under key.
func (s *Store) Get(ctx context.Context, key string) (backend.Object, error) {
	if err := backend.ValidateKey(key); err != nil {
		return backend.Object{}, backend.InvalidKey(Name, err)
	}

	resp, err := s.client.DownloadStream(ctx, s.container, key, nil)
	if err != nil {
		if isMissing(err) {
			return backend.Object{}, backend.NotFound(Name, key)
		}
		return backend.Object{}, backend.Persistence(Name, "get", fmt.Errorf("download blob %s: %w", key, err))
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return backend.Object{}, backend.Persistence(Name, "get", err)
	}

	obj := backend.Object{Key: key, Data: data, ContentType: backend.ContentTypeForKey(key)}
	if resp.ContentType != nil && *resp.ContentType != "" {
		obj.ContentType = *resp.ContentType
	}
	obj.Label, obj.CreatedAt = decodeMetadata(resp.Metadata)
	return obj, nil
}

// Exists reports whether a blob exists at key.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := backend.ValidateKey(key); err != nil {
		return false, backend.InvalidKey(Name, err)
	}

	blobClient := s.client.ServiceClient().NewContainerClient(s.container).NewBlobClient(key)
	if _, err := blobClient.GetProperties(ctx, nil); err != nil {
		if isMissing(err) {
			return false, nil
		}
		return false, backend.Persistence(Name, "exists", fmt.Errorf("check blob existence %s: %w", key, err))
	}
	return true, nil
}

// Delete removes the blob at key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := backend.ValidateKey(key); err != nil {
		return backend.InvalidKey(Name, err)
	}

	if _, err := s.client.DeleteBlob(ctx, s.container, key, nil); err != nil {
		if isMissing(err) {
			return backend.NotFound(Name, key)
		}
		return backend.Persistence(Name, "delete", fmt.Errorf("delete blob %s: %w", key, err))
	}
	return nil
}

// Keys lists every blob in the container. A missing container is empty.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	keys := []string{}
	pager := s.client.NewListBlobsFlatPager(s.container, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			if bloberror.HasCode(err, bloberror.ContainerNotFound) {
				return []string{}, nil
			}
			return nil, backend.Persistence(Name, "list", err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				keys = append(keys, *item.Name)
			}
		}
	}
	return keys, nil
}

// Close is a no-op; the client holds no resources that need releasing.
func (s *Store) Close() error { return nil }

func isMissing(err error) bool {
	return bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound)
}

// encodeMetadata stores the label URL-escaped because metadata values must be ASCII.
func encodeMetadata(obj backend.Object) map[string]*string {
	meta := map[string]*string{}
	if obj.Label != "" {
		v := url.QueryEscape(obj.Label)
		meta[metaLabel] = &v
	}
	if !obj.CreatedAt.IsZero() {
		v := obj.CreatedAt.UTC().Format(time.RFC3339)
		meta[metaCreatedAt] = &v
	}
	return meta
}

func decodeMetadata(meta map[string]*string) (label string, createdAt time.Time) {
	for k, v := range meta {
		if v == nil {
			continue
		}
		switch strings.ToLower(k) {
		case metaLabel:
			if decoded, err := url.QueryUnescape(*v); err == nil {
				label = decoded
			}
		case metaCreatedAt:
			if t, err := time.Parse(time.RFC3339, *v); err == nil {
				createdAt = t
			}
		}
	}
	return label, createdAt
}
