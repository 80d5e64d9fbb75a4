package example

import (
	"context"
	"fmt"
	"sync"

	"github.com/finikit/storesync/adapter"
)

// Document 向量索引中的一条文档
// namespace 把一个资源一个业务板块的文档隔离在独立分区里
type Document struct {
	ID        string
	Namespace string
	Text      string
	Fields    map[string]interface{}
}

// MemoryVectorIndex 内存实现的向量索引适配器
// 单实例部署/测试用；生产部署换成真实向量库的适配器即可，协调器不感知差异
type MemoryVectorIndex struct {
	mux sync.RWMutex
	// resourceID -> namespace -> docID -> document
	resources map[string]map[string]map[string]*Document
}

func NewMemoryVectorIndex() *MemoryVectorIndex {
	return &MemoryVectorIndex{
		resources: make(map[string]map[string]map[string]*Document),
	}
}

// Reindex 根据快照全量重建资源的索引文档
// 输入永远是关系库里的快照，而不是远端平台的原始数据
func (v *MemoryVectorIndex) Reindex(ctx context.Context, resourceID string, snap *adapter.Snapshot) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if snap == nil {
		return 0, v.DeleteAll(ctx, resourceID)
	}

	namespaces := make(map[string]map[string]*Document)
	written := 0
	for section, fields := range snap.Sections() {
		if len(fields) == 0 {
			continue
		}
		namespace := fmt.Sprintf("%s-%s", resourceID, section)
		docs := make(map[string]*Document, len(fields))
		for key, val := range fields {
			docID := fmt.Sprintf("%s:%s", namespace, key)
			docs[docID] = &Document{
				ID:        docID,
				Namespace: namespace,
				Text:      fmt.Sprintf("%s %s: %v", section, key, val),
				Fields:    map[string]interface{}{section + "." + key: val},
			}
			written++
		}
		namespaces[section] = docs
	}

	v.mux.Lock()
	v.resources[resourceID] = namespaces
	v.mux.Unlock()
	return written, nil
}

// DeleteAll 删除资源名下的全部文档
func (v *MemoryVectorIndex) DeleteAll(ctx context.Context, resourceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mux.Lock()
	delete(v.resources, resourceID)
	v.mux.Unlock()
	return nil
}

// Describe 返回资源的索引概要：文档总数与全部采样字段，一致性校验读取
func (v *MemoryVectorIndex) Describe(ctx context.Context, resourceID string) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.mux.RLock()
	defer v.mux.RUnlock()

	meta := make(map[string]interface{})
	namespaces, ok := v.resources[resourceID]
	if !ok {
		return meta, nil
	}
	count := 0
	for _, docs := range namespaces {
		for _, doc := range docs {
			count++
			for path, val := range doc.Fields {
				meta[path] = val
			}
		}
	}
	meta["documents"] = count
	return meta, nil
}
