package project

import (
	"context"
	"errors"

	"itera/internal/domain"
	"itera/internal/storage"
)

// SnapshotKey is the blob the project snapshot is written to.
const SnapshotKey = "itera-project.json"

// Persister stores the serialized snapshot. Load returns domain.ErrNotFound
// when nothing has been saved yet.
type Persister interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
	Clear(ctx context.Context) error
}

// BlobPersister keeps the snapshot in a FileStore.
type BlobPersister struct {
	blobs *storage.FileStore
	key   string
}

func NewBlobPersister(blobs *storage.FileStore) *BlobPersister {
	return &BlobPersister{blobs: blobs, key: SnapshotKey}
}

func (p *BlobPersister) Load(ctx context.Context) ([]byte, error) {
	return p.blobs.Read(ctx, p.key)
}

func (p *BlobPersister) Save(ctx context.Context, data []byte) error {
	_, err := p.blobs.Write(ctx, p.key, data)
	return err
}

func (p *BlobPersister) Clear(ctx context.Context) error {
	err := p.blobs.Delete(ctx, p.key)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}

var _ Persister = (*BlobPersister)(nil)
