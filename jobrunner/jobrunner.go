package jobrunner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/finikit/storesync/errs"
	"github.com/finikit/storesync/log"
)

// Status 任务状态
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Result 一次任务执行的最终结果
type Result struct {
	JobID         string
	Status        Status
	Value         interface{}
	Err           error
	ExecutionTime time.Duration
	FinishedAt    time.Time
}

// Work 任务体，必须感知 ctx 取消；超时后任务会被标记失败，但底层操作不保证被抢占
type Work func(ctx context.Context) (interface{}, error)

// Runner 有界并发的异步任务执行器
//  1. 以 jobID 为粒度对进行中的任务去重：重复提交会挂靠到已有的执行上，共享同一份结果
//  2. 全局并发度达到上限后新提交快速失败（capacity），不做无限排队
//  3. 每个任务带截止时间，超时即判定失败
//  4. 保留最近 N 条执行历史供查询
type Runner struct {
	mux      sync.Mutex
	inflight map[string]*inflightJob
	history  []*Result
	sem      *semaphore.Weighted
	opts     *Options

	completed     int64
	failed        int64
	totalExecTime time.Duration
}

type inflightJob struct {
	done chan struct{} // 关闭即代表执行结束，挂靠方在此等待
	res  *Result
}

type Options struct {
	// MaxConcurrent 全局并发度上限
	MaxConcurrent int
	// HistorySize 历史结果保留条数
	HistorySize int
	// DefaultTimeout 调用方未指定超时时使用的默认截止时长
	DefaultTimeout time.Duration
}

type Option func(*Options)

func WithMaxConcurrent(max int) Option {
	if max <= 0 {
		max = 8
	}
	return func(o *Options) {
		o.MaxConcurrent = max
	}
}

func WithHistorySize(size int) Option {
	if size <= 0 {
		size = 128
	}
	return func(o *Options) {
		o.HistorySize = size
	}
}

func WithDefaultTimeout(timeout time.Duration) Option {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return func(o *Options) {
		o.DefaultTimeout = timeout
	}
}

func repair(o *Options) {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 8
	}
	if o.HistorySize <= 0 {
		o.HistorySize = 128
	}
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = 30 * time.Second
	}
}

func NewRunner(opts ...Option) *Runner {
	runner := Runner{
		inflight: make(map[string]*inflightJob),
		opts:     &Options{},
	}
	for _, opt := range opts {
		opt(runner.opts)
	}
	repair(runner.opts)
	runner.sem = semaphore.NewWeighted(int64(runner.opts.MaxConcurrent))
	return &runner
}

// Submit 提交一个任务并同步等待其结果
// 同 jobID 的任务正在执行时，本次提交不会再次调用 work，而是等待在途执行结束并返回同一份结果
func (r *Runner) Submit(ctx context.Context, jobID string, timeout time.Duration, work Work) (*Result, error) {
	if timeout <= 0 {
		timeout = r.opts.DefaultTimeout
	}

	r.mux.Lock()
	if existing, ok := r.inflight[jobID]; ok {
		r.mux.Unlock()
		// 幂等挂靠：等待在途执行完成
		select {
		case <-existing.done:
			return existing.res, existing.res.Err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	// 并发度已满，快速失败而不是排队
	if !r.sem.TryAcquire(1) {
		r.mux.Unlock()
		return nil, fmt.Errorf("%w: running jobs reached limit %d", errs.ErrCapacityExceeded, r.opts.MaxConcurrent)
	}

	job := &inflightJob{done: make(chan struct{})}
	r.inflight[jobID] = job
	r.mux.Unlock()

	res := r.execute(ctx, jobID, timeout, work)

	r.mux.Lock()
	job.res = res
	delete(r.inflight, jobID)
	r.recordLocked(res)
	r.mux.Unlock()

	r.sem.Release(1)
	close(job.done)
	return res, res.Err
}

// execute 带截止时间地运行任务体
// 超时只是判定手段，不抢占底层操作：work 必须自己感知 ctx 取消，
// 超时后迟到的结果会被丢弃
func (r *Runner) execute(ctx context.Context, jobID string, timeout time.Duration, work Work) *Result {
	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value interface{}
		err   error
	}
	outCh := make(chan outcome, 1)
	go func() {
		value, err := work(cctx)
		outCh <- outcome{value: value, err: err}
	}()

	res := &Result{JobID: jobID}
	select {
	case out := <-outCh:
		res.Value = out.value
		res.Err = out.err
	case <-cctx.Done():
		res.Err = fmt.Errorf("%w: job %s exceeded %v", errs.ErrTimeout, jobID, timeout)
		log.ErrorContextf(ctx, "job timed out, job id: %s, timeout: %v", jobID, timeout)
	}

	res.ExecutionTime = time.Since(start)
	res.FinishedAt = time.Now()
	if res.Err != nil {
		res.Status = StatusFailed
	} else {
		res.Status = StatusCompleted
	}
	return res
}

func (r *Runner) recordLocked(res *Result) {
	if res.Status == StatusFailed {
		r.failed++
	} else {
		r.completed++
	}
	r.totalExecTime += res.ExecutionTime

	r.history = append(r.history, res)
	if len(r.history) > r.opts.HistorySize {
		r.history = r.history[len(r.history)-r.opts.HistorySize:]
	}
}

// Get 查询任务结果；在途任务返回 running 状态的占位结果，未知任务返回 nil
func (r *Runner) Get(jobID string) *Result {
	r.mux.Lock()
	defer r.mux.Unlock()

	if _, ok := r.inflight[jobID]; ok {
		return &Result{JobID: jobID, Status: StatusRunning}
	}
	for i := len(r.history) - 1; i >= 0; i-- {
		if r.history[i].JobID == jobID {
			return r.history[i]
		}
	}
	return nil
}

// Stats 执行器整体统计
type Stats struct {
	Running          int
	Completed        int64
	Failed           int64
	AvgExecutionTime time.Duration
}

func (r *Runner) Stats() Stats {
	r.mux.Lock()
	defer r.mux.Unlock()

	stats := Stats{
		Running:   len(r.inflight),
		Completed: r.completed,
		Failed:    r.failed,
	}
	if total := r.completed + r.failed; total > 0 {
		stats.AvgExecutionTime = r.totalExecTime / time.Duration(total)
	}
	return stats
}
