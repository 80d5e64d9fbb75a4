package adapter

import (
	"strings"
	"time"
)

// Snapshot 一个资源在某一时刻的业务数据全貌
// 按业务板块分节，各节均为松散的 kv 结构，字段集合由远端平台决定
type Snapshot struct {
	ResourceID string                 `json:"resourceID"`
	Profile    map[string]interface{} `json:"profile"`   // 店铺档案
	Catalog    map[string]interface{} `json:"catalog"`   // 商品目录
	Orders     map[string]interface{} `json:"orders"`    // 订单汇总
	Customers  map[string]interface{} `json:"customers"` // 客户汇总
	FetchedAt  time.Time              `json:"fetchedAt"`
}

// Sections 按节名返回全部分节
func (s *Snapshot) Sections() map[string]map[string]interface{} {
	return map[string]map[string]interface{}{
		"profile":   s.Profile,
		"catalog":   s.Catalog,
		"orders":    s.Orders,
		"customers": s.Customers,
	}
}

// Field 以 section.key 形式的路径取字段值
func (s *Snapshot) Field(path string) (interface{}, bool) {
	section, key, found := strings.Cut(path, ".")
	if !found {
		return nil, false
	}
	fields, ok := s.Sections()[section]
	if !ok || fields == nil {
		return nil, false
	}
	val, ok := fields[key]
	return val, ok
}

// FieldPaths 枚举快照内全部字段路径
func (s *Snapshot) FieldPaths() []string {
	var paths []string
	for name, fields := range s.Sections() {
		for key := range fields {
			paths = append(paths, name+"."+key)
		}
	}
	return paths
}
