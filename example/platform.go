package example

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/finikit/storesync/adapter"
	"github.com/finikit/storesync/errs"
)

// StaticPlatform 远端平台适配器的内存实现
// 演示与联调用：预置每个资源的快照，可注入若干次瞬时失败模拟远端抖动
type StaticPlatform struct {
	mux       sync.Mutex
	snapshots map[string]*adapter.Snapshot
	// failures 资源剩余的瞬时失败次数，模拟网络超时/5xx
	failures map[string]int
}

func NewStaticPlatform() *StaticPlatform {
	return &StaticPlatform{
		snapshots: make(map[string]*adapter.Snapshot),
		failures:  make(map[string]int),
	}
}

// SetSnapshot 预置资源的远端快照
func (p *StaticPlatform) SetSnapshot(resourceID string, snap *adapter.Snapshot) {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.snapshots[resourceID] = snap
}

// FailNext 让资源接下来 n 次拉取返回瞬时错误
func (p *StaticPlatform) FailNext(resourceID string, n int) {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.failures[resourceID] = n
}

func (p *StaticPlatform) FetchSnapshot(ctx context.Context, resourceID string, creds adapter.Credentials) (*adapter.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if creds.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token", errs.ErrAuth)
	}

	p.mux.Lock()
	defer p.mux.Unlock()

	if p.failures[resourceID] > 0 {
		p.failures[resourceID]--
		return nil, fmt.Errorf("%w: simulated upstream 503", errs.ErrTransientRemote)
	}

	snap, ok := p.snapshots[resourceID]
	if !ok {
		return nil, fmt.Errorf("%w: resource %s", errs.ErrNotFound, resourceID)
	}

	cp := *snap
	cp.FetchedAt = time.Now()
	return &cp, nil
}
