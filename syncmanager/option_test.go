package syncmanager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRepairDefaults(t *testing.T) {
	o := &Options{}
	repair(o)

	assert.Equal(t, 30*time.Second, o.Timeout)
	assert.Equal(t, time.Minute, o.LockTTL)
	assert.True(t, o.VerifyKinds[KindFull])
	assert.False(t, o.VerifyKinds[KindIncremental])
	assert.NotNil(t, o.Locks)
	assert.NotNil(t, o.Breaker)
	assert.NotNil(t, o.Runner)
	assert.NotNil(t, o.Policy)
}

func TestRepairClampsStuckGrace(t *testing.T) {
	// 卡死判定早于任务超时会让恢复轮询回滚仍在执行的事务
	o := &Options{Timeout: 40 * time.Second, StuckGrace: time.Second}
	repair(o)
	assert.Equal(t, 80*time.Second, o.StuckGrace)
}
