package blobstore

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ledgerwell/decisioning/internal/domain"
)

// DomainAdapter narrows Store down to domain.BlobStore's hash-addressed
// Put/Get shape: every object lives under a fixed prefix keyed by hash,
// and a missing key is reported as (nil, false, nil) instead of an error.
type DomainAdapter struct {
	store  *Store
	prefix string
}

// NewDomainAdapter wraps store so it satisfies domain.BlobStore. prefix
// namespaces hash-addressed objects from the tenant-scoped keys RuleVersionKey
// / ModelSnapshotKey / ExportArchiveKey already occupy in the same bucket.
func NewDomainAdapter(store *Store, prefix string) *DomainAdapter {
	return &DomainAdapter{store: store, prefix: prefix}
}

func (a *DomainAdapter) key(hash string) string {
	return a.prefix + "/" + hash
}

func (a *DomainAdapter) Put(ctx context.Context, hash string, data []byte) error {
	_, err := a.store.Put(ctx, a.key(hash), data)
	return err
}

func (a *DomainAdapter) Get(ctx context.Context, hash string) ([]byte, bool, error) {
	data, err := a.store.Get(ctx, a.key(hash))
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

var _ domain.BlobStore = (*DomainAdapter)(nil)
