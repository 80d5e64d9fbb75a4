package retrypolicy

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/finikit/storesync/errs"
)

func TestNextDelayExponential(t *testing.T) {
	p := NewPolicy(100*time.Millisecond, 5)

	assert.Equal(t, 100*time.Millisecond, p.NextDelay(0))
	assert.Equal(t, 200*time.Millisecond, p.NextDelay(1))
	assert.Equal(t, 400*time.Millisecond, p.NextDelay(2))
	assert.Equal(t, 800*time.Millisecond, p.NextDelay(3))
	// 封顶为基准延迟的 8 倍
	assert.Equal(t, 800*time.Millisecond, p.NextDelay(4))
	assert.Equal(t, 800*time.Millisecond, p.NextDelay(20))
	assert.Equal(t, 100*time.Millisecond, p.NextDelay(-1))
}

func TestIsRetryable(t *testing.T) {
	p := NewPolicy(100*time.Millisecond, 3)

	assert.True(t, p.IsRetryable(errs.ErrTransientRemote))
	assert.True(t, p.IsRetryable(fmt.Errorf("fetch: %w", errs.ErrTransientRemote)))
	assert.True(t, p.IsRetryable(errs.ErrLockConflict))
	assert.True(t, p.IsRetryable(errs.ErrTimeout))

	assert.False(t, p.IsRetryable(errs.ErrAuth))
	assert.False(t, p.IsRetryable(errs.ErrPermanentRemote))
	assert.False(t, p.IsRetryable(errs.ErrConsistencyViolation))
	assert.False(t, p.IsRetryable(errs.ErrDuplicateTransaction))
}

func TestRepairDefaults(t *testing.T) {
	p := NewPolicy(0, 0)
	assert.Equal(t, 200*time.Millisecond, p.BaseDelay)
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, p.BaseDelay<<3, p.MaxDelay)
}
