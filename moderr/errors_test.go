package moderr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	assert := assert.New(t)

	err := fmt.Errorf("resolving item: %w", Conflict("queue item %d is already resolved", 12))
	assert.True(errors.Is(err, ErrResolutionConflict))
	assert.False(errors.Is(err, ErrNotFound))
	assert.Equal(KindResolutionConflict, KindOf(err))
	assert.Equal("queue item 12 is already resolved", MessageOf(err))

	plain := errors.New("disk on fire")
	assert.Equal(KindInternal, KindOf(plain))
	assert.Equal("internal error", MessageOf(plain))

	upstream := errors.New("dial tcp: timeout")
	cu := ClassifierUnavailable(upstream)
	assert.True(errors.Is(cu, upstream))
	assert.True(errors.Is(cu, ErrClassifierUnavailable))
}
