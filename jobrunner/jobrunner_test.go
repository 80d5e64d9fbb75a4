package jobrunner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finikit/storesync/errs"
)

func TestSubmitSuccess(t *testing.T) {
	runner := NewRunner()
	res, err := runner.Submit(context.Background(), "job-1", time.Second, func(ctx context.Context) (interface{}, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 42, res.Value)
	assert.Greater(t, res.ExecutionTime, time.Duration(0))
}

func TestDeduplicateInflight(t *testing.T) {
	runner := NewRunner()
	var calls int32
	release := make(chan struct{})

	work := func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "done", nil
	}

	var wg sync.WaitGroup
	results := make([]*Result, 2)
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := runner.Submit(context.Background(), "job-1", time.Second, work)
			require.NoError(t, err)
			results[i] = res
		}()
	}

	// 等两个提交方都挂上去再放行
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	// work 只执行一次，两个调用方拿到同一份结果
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, results[0], results[1])
	assert.Equal(t, "done", results[0].Value)
}

func TestCapacityExceeded(t *testing.T) {
	runner := NewRunner(WithMaxConcurrent(1))
	release := make(chan struct{})

	go func() {
		_, _ = runner.Submit(context.Background(), "job-slow", time.Second, func(ctx context.Context) (interface{}, error) {
			<-release
			return nil, nil
		})
	}()
	time.Sleep(50 * time.Millisecond)

	_, err := runner.Submit(context.Background(), "job-2", time.Second, func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrCapacityExceeded))
	close(release)
}

func TestTimeout(t *testing.T) {
	runner := NewRunner()
	res, err := runner.Submit(context.Background(), "job-1", 30*time.Millisecond, func(ctx context.Context) (interface{}, error) {
		select {
		case <-time.After(time.Second):
			return "late", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrTimeout))
	assert.Equal(t, StatusFailed, res.Status)
}

func TestHistoryAndStats(t *testing.T) {
	runner := NewRunner(WithHistorySize(2))

	for _, jobID := range []string{"a", "b", "c"} {
		_, err := runner.Submit(context.Background(), jobID, time.Second, func(ctx context.Context) (interface{}, error) {
			return jobID, nil
		})
		require.NoError(t, err)
	}
	_, err := runner.Submit(context.Background(), "d", time.Second, func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)

	// 只保留最近 2 条历史
	assert.Nil(t, runner.Get("a"))
	assert.Nil(t, runner.Get("b"))
	assert.NotNil(t, runner.Get("c"))
	assert.NotNil(t, runner.Get("d"))
	assert.Equal(t, StatusFailed, runner.Get("d").Status)

	stats := runner.Stats()
	assert.Equal(t, 0, stats.Running)
	assert.Equal(t, int64(3), stats.Completed)
	assert.Equal(t, int64(1), stats.Failed)
	assert.GreaterOrEqual(t, stats.AvgExecutionTime, time.Duration(0))
}

func TestGetRunning(t *testing.T) {
	runner := NewRunner()
	release := make(chan struct{})

	go func() {
		_, _ = runner.Submit(context.Background(), "job-1", time.Second, func(ctx context.Context) (interface{}, error) {
			<-release
			return nil, nil
		})
	}()
	time.Sleep(50 * time.Millisecond)

	res := runner.Get("job-1")
	require.NotNil(t, res)
	assert.Equal(t, StatusRunning, res.Status)
	close(release)
}
