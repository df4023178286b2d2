package blobstore

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notFoundAPI struct{ *fakeAPI }

func (f *notFoundAPI) GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if _, ok := f.objects[*in.Key]; !ok {
		return nil, &types.NoSuchKey{}
	}
	return f.fakeAPI.GetObject(ctx, in, opts...)
}

func TestDomainAdapterPutGetRoundTrips(t *testing.T) {
	s, _ := testStore()
	a := NewDomainAdapter(s, "blobs")

	require.NoError(t, a.Put(context.Background(), "abc123", []byte("weights")))

	data, ok, err := a.Get(context.Background(), "abc123")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("weights"), data)
}

func TestDomainAdapterGetMissingHashReturnsFalseNotError(t *testing.T) {
	fa := newFakeAPI()
	nf := &notFoundAPI{fa}
	s := &Store{client: nf, uploader: fa, bucket: "test-bucket", log: zerolog.Nop()}
	a := NewDomainAdapter(s, "blobs")

	data, ok, err := a.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, data)
}

func TestDomainAdapterKeyIncludesPrefix(t *testing.T) {
	s, fa := testStore()
	a := NewDomainAdapter(s, "blobs")

	require.NoError(t, a.Put(context.Background(), "h1", []byte("x")))
	_, ok := fa.objects["blobs/h1"]
	assert.True(t, ok)
}
