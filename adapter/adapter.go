package adapter

import "context"

// 外部系统适配层
// 协调器只依赖这里定义的接口，具体实现（远端电商平台、关系库、向量索引）由使用方注入，
// 依赖方向在构造期固定，不存在运行时的动态装载

// Credentials 访问远端平台所需的凭证
type Credentials struct {
	AccessToken string `json:"accessToken"`
	ShopDomain  string `json:"shopDomain"`
}

// Platform 远端电商平台适配器
// 远端平台是三个系统中唯一无法回滚的一方，协调器只会读取它
type Platform interface {
	// FetchSnapshot 拉取资源的权威快照
	// 错误必须可区分：凭证失效返回 errs.ErrAuth，资源不存在返回 errs.ErrNotFound，
	// 网络超时/5xx 返回 errs.ErrTransientRemote
	FetchSnapshot(ctx context.Context, resourceID string, creds Credentials) (*Snapshot, error)
}

// Relational 关系库适配器，应用查询的事实来源
type Relational interface {
	// Upsert 写入快照并返回被覆盖的旧快照，资源首次写入时返回 nil
	Upsert(ctx context.Context, resourceID string, snap *Snapshot) (prev *Snapshot, err error)
	// ReadCurrent 读取当前快照，不存在时返回 nil
	ReadCurrent(ctx context.Context, resourceID string) (*Snapshot, error)
	// Delete 删除资源的快照
	Delete(ctx context.Context, resourceID string) error
}

// VectorIndex 向量索引适配器，语义检索的事实来源
// 索引内容永远从关系库的快照重新推导，保证两份拷贝不会彼此矛盾
type VectorIndex interface {
	// Reindex 根据快照重建资源的全部索引文档，返回写入的文档数
	Reindex(ctx context.Context, resourceID string, snap *Snapshot) (documentsWritten int, err error)
	// DeleteAll 删除资源名下的全部索引文档
	DeleteAll(ctx context.Context, resourceID string) error
	// Describe 返回资源当前的索引概要（文档数与采样字段），供一致性校验读取
	Describe(ctx context.Context, resourceID string) (map[string]interface{}, error)
}
