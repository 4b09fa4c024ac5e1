// Package modelcache keeps a local copy of downloaded meshes so a model stays
// viewable after its signed upstream URL expires.
package modelcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"itera/internal/domain"
	"itera/internal/storage"
)

// DefaultKey is the single slot used for the current project's model.
const DefaultKey = "current-model"

const (
	keyPrefix          = "models/"
	defaultHTTPTimeout = 2 * time.Minute
	maxModelBytes      = 512 << 20
)

type Options struct {
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

type Cache struct {
	blobs  *storage.FileStore
	client *http.Client
	logger zerolog.Logger
	group  singleflight.Group
}

func New(blobs *storage.FileStore, opts Options) *Cache {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Cache{blobs: blobs, client: client, logger: opts.Logger}
}

func blobKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		key = DefaultKey
	}
	return keyPrefix + key
}

func (c *Cache) Put(ctx context.Context, key string, data []byte) error {
	_, err := c.blobs.Write(ctx, blobKey(key), data)
	return err
}

// Get returns the cached bytes, or false when the slot is empty.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.blobs.Read(ctx, blobKey(key))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.blobs.Delete(ctx, blobKey(key))
}

// FetchAndCache downloads url into the slot and returns the local file path.
// When the download fails a previously cached copy is returned instead; the
// error surfaces only when the slot is empty. Concurrent calls for the same
// slot share one download.
func (c *Cache) FetchAndCache(ctx context.Context, url, key string) (string, error) {
	bk := blobKey(key)
	v, err, _ := c.group.Do(bk, func() (any, error) {
		data, fetchErr := c.download(ctx, url)
		if fetchErr == nil {
			if _, err := c.blobs.Write(ctx, bk, data); err != nil {
				return "", err
			}
			return c.blobs.Path(bk)
		}
		path, ok, err := c.Restore(ctx, key)
		if err != nil || !ok {
			return "", fetchErr
		}
		c.logger.Warn().Err(fetchErr).Str("key", key).Msg("model download failed, serving cached copy")
		return path, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Restore returns the local path of a cached model, or false when nothing is
// cached.
func (c *Cache) Restore(ctx context.Context, key string) (string, bool, error) {
	_, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return "", false, err
	}
	path, err := c.blobs.Path(blobKey(key))
	if err != nil {
		return "", false, err
	}
	return path, true, nil
}

func (c *Cache) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build model request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch model: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch model: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxModelBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	if len(data) > maxModelBytes {
		return nil, fmt.Errorf("fetch model: body exceeds %d bytes", maxModelBytes)
	}
	return data, nil
}
