package engineerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesKind(t *testing.T) {
	base := errors.New("boom")
	wrapped := New(KindStorage, "store.Put", base)

	assert.True(t, Is(wrapped, KindStorage))
	assert.False(t, Is(wrapped, KindIngest))
	assert.ErrorIs(t, wrapped, base)
}

func TestErrorString(t *testing.T) {
	e := New(KindInvariant, "jebuilder.Build", errors.New("unbalanced"))
	assert.Contains(t, e.Error(), "jebuilder.Build")
	assert.Contains(t, e.Error(), "invariant")
	assert.Contains(t, e.Error(), "unbalanced")
}
