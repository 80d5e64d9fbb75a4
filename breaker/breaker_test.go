package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOpensAfterThreshold(t *testing.T) {
	b := NewBreaker(WithFailureThreshold(3), WithCooldown(time.Minute))

	assert.True(t, b.Allow("store-1"))
	b.RecordFailure("store-1")
	b.RecordFailure("store-1")
	assert.True(t, b.Allow("store-1"))
	b.RecordFailure("store-1")

	// 连续失败达到阈值，熔断
	assert.False(t, b.Allow("store-1"))
	assert.Equal(t, StateOpen, b.State("store-1").State)

	// 其他 key 的计数器独立
	assert.True(t, b.Allow("store-2"))
}

func TestSuccessResetsCounter(t *testing.T) {
	b := NewBreaker(WithFailureThreshold(3), WithCooldown(time.Minute))

	b.RecordFailure("store-1")
	b.RecordFailure("store-1")
	b.RecordSuccess("store-1")
	b.RecordFailure("store-1")
	b.RecordFailure("store-1")

	assert.True(t, b.Allow("store-1"))
	assert.Equal(t, StateClosed, b.State("store-1").State)
}

func TestHalfOpenSingleProbe(t *testing.T) {
	b := NewBreaker(WithFailureThreshold(1), WithCooldown(20*time.Millisecond))

	b.RecordFailure("store-1")
	assert.False(t, b.Allow("store-1"))

	time.Sleep(30 * time.Millisecond)

	// 冷却结束后只放行一次试探调用
	assert.True(t, b.Allow("store-1"))
	assert.False(t, b.Allow("store-1"))
	assert.Equal(t, StateHalfOpen, b.State("store-1").State)
}

func TestProbeSuccessCloses(t *testing.T) {
	b := NewBreaker(WithFailureThreshold(1), WithCooldown(20*time.Millisecond))

	b.RecordFailure("store-1")
	time.Sleep(30 * time.Millisecond)
	assert.True(t, b.Allow("store-1"))

	b.RecordSuccess("store-1")
	assert.Equal(t, StateClosed, b.State("store-1").State)
	assert.True(t, b.Allow("store-1"))
}

func TestUnreportedProbeExpires(t *testing.T) {
	b := NewBreaker(WithFailureThreshold(1), WithCooldown(20*time.Millisecond))

	b.RecordFailure("store-1")
	time.Sleep(30 * time.Millisecond)

	// 试探调用被放行后，调用方在真正发起远端调用之前中止，成败都没有回报
	assert.True(t, b.Allow("store-1"))
	assert.False(t, b.Allow("store-1"))

	// 再经过一个冷却周期后，作废的试探不能永久卡死熔断器
	time.Sleep(30 * time.Millisecond)
	assert.True(t, b.Allow("store-1"))

	b.RecordSuccess("store-1")
	assert.Equal(t, StateClosed, b.State("store-1").State)
}

func TestProbeFailureReopens(t *testing.T) {
	b := NewBreaker(WithFailureThreshold(1), WithCooldown(20*time.Millisecond))

	b.RecordFailure("store-1")
	time.Sleep(30 * time.Millisecond)
	assert.True(t, b.Allow("store-1"))

	b.RecordFailure("store-1")
	assert.Equal(t, StateOpen, b.State("store-1").State)
	assert.False(t, b.Allow("store-1"))
}
