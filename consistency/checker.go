package consistency

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/demdxx/gocast"

	"github.com/finikit/storesync/adapter"
)

// Severity 不一致的严重级别
type Severity string

const (
	SeverityCritical Severity = "critical" // 身份/金额类字段，出现即判定事务失败
	SeverityHigh     Severity = "high"     // 库存类字段，记录但不失败
	SeverityMedium   Severity = "medium"   // 描述类字段
	SeverityLow      Severity = "low"      // 时间戳等
)

// Level 校验级别
type Level string

const (
	// LevelBasic 只校验 critical 与 high 级别的字段
	LevelBasic Level = "basic"
	// LevelFull 校验全部采样字段
	LevelFull Level = "full"
)

// Discrepancy 一处不一致
type Discrepancy struct {
	Field      string
	Severity   Severity
	Relational interface{}
	Vector     interface{}
}

// Report 一次校验的结果
// Score 为采样字段中匹配的比例，无论事务成败都会被记录用于观测
type Report struct {
	ResourceID    string
	Score         float64
	SampledFields int
	Discrepancies []Discrepancy
	CheckedAt     time.Time
}

// HasCritical 是否存在 critical 级别的不一致
func (r *Report) HasCritical() bool {
	for _, d := range r.Discrepancies {
		if d.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// Checker 跨系统一致性校验器
// 纯只读比较器，永远不修改任何状态，既可以在 verify 阶段调用，
// 也可以由定时审计任务在事务之外独立调用
type Checker struct {
	relational adapter.Relational
	vector     adapter.VectorIndex
}

func NewChecker(relational adapter.Relational, vector adapter.VectorIndex) *Checker {
	return &Checker{
		relational: relational,
		vector:     vector,
	}
}

// Check 抽样比对关系库与向量索引
// fields 为空时按 level 自动选取采样字段；返回的 Report 永远非空（除非读取失败）
func (c *Checker) Check(ctx context.Context, resourceID string, fields []string, level Level) (*Report, error) {
	snap, err := c.relational.ReadCurrent(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("read relational snapshot: %w", err)
	}
	meta, err := c.vector.Describe(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("describe vector index: %w", err)
	}

	report := &Report{
		ResourceID: resourceID,
		CheckedAt:  time.Now(),
	}

	// 两边都为空视作一致
	if snap == nil && len(meta) == 0 {
		report.Score = 1
		return report, nil
	}
	if snap == nil {
		report.Discrepancies = append(report.Discrepancies, Discrepancy{
			Field:    "snapshot",
			Severity: SeverityCritical,
			Vector:   fmt.Sprintf("%d keys", len(meta)),
		})
		return report, nil
	}

	if len(fields) == 0 {
		fields = c.sampleFields(snap, level)
	}

	matched := 0
	for _, field := range fields {
		report.SampledFields++
		relVal, _ := snap.Field(field)
		vecVal, ok := meta[field]
		if !ok {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				Field:      field,
				Severity:   severityFor(field),
				Relational: relVal,
			})
			continue
		}
		if equalLoose(relVal, vecVal) {
			matched++
			continue
		}
		report.Discrepancies = append(report.Discrepancies, Discrepancy{
			Field:      field,
			Severity:   severityFor(field),
			Relational: relVal,
			Vector:     vecVal,
		})
	}

	if report.SampledFields > 0 {
		report.Score = float64(matched) / float64(report.SampledFields)
	} else {
		report.Score = 1
	}
	return report, nil
}

// sampleFields 按校验级别选取采样字段
func (c *Checker) sampleFields(snap *adapter.Snapshot, level Level) []string {
	paths := snap.FieldPaths()
	sort.Strings(paths)
	if level == LevelFull {
		return paths
	}
	var sampled []string
	for _, path := range paths {
		switch severityFor(path) {
		case SeverityCritical, SeverityHigh:
			sampled = append(sampled, path)
		}
	}
	return sampled
}

// severityFor 字段路径到严重级别的映射
// 身份与金额类字段为 critical，库存类为 high，时间戳为 low，其余为 medium
func severityFor(field string) Severity {
	key := field
	if idx := strings.Index(field, "."); idx >= 0 {
		key = field[idx+1:]
	}
	switch {
	case key == "id" || key == "name" || key == "currency" ||
		strings.Contains(key, "total") || strings.Contains(key, "revenue") ||
		strings.Contains(key, "price") || strings.Contains(key, "amount"):
		return SeverityCritical
	case strings.Contains(key, "stock") || strings.Contains(key, "inventory") ||
		strings.Contains(key, "count"):
		return SeverityHigh
	case strings.Contains(key, "_at") || strings.Contains(key, "updated") ||
		strings.Contains(key, "created"):
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// equalLoose 宽松比较
// 两边存储介质不同，数值可能以 int/float/string 等不同形态出现，先归一再比较
func equalLoose(a, b interface{}) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return math.Abs(af-bf) < 1e-9
		}
	}
	return gocast.ToString(a) == gocast.ToString(b)
}

func toFloat(v interface{}) (float64, bool) {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return gocast.ToFloat64(v), true
	case string:
		f, err := strconv.ParseFloat(v.(string), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
