package consistency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finikit/storesync/adapter"
)

type fakeRelational struct {
	snap *adapter.Snapshot
}

func (f *fakeRelational) Upsert(ctx context.Context, resourceID string, snap *adapter.Snapshot) (*adapter.Snapshot, error) {
	prev := f.snap
	f.snap = snap
	return prev, nil
}

func (f *fakeRelational) ReadCurrent(ctx context.Context, resourceID string) (*adapter.Snapshot, error) {
	return f.snap, nil
}

func (f *fakeRelational) Delete(ctx context.Context, resourceID string) error {
	f.snap = nil
	return nil
}

type fakeVector struct {
	meta map[string]interface{}
}

func (f *fakeVector) Reindex(ctx context.Context, resourceID string, snap *adapter.Snapshot) (int, error) {
	return len(f.meta), nil
}

func (f *fakeVector) DeleteAll(ctx context.Context, resourceID string) error {
	f.meta = nil
	return nil
}

func (f *fakeVector) Describe(ctx context.Context, resourceID string) (map[string]interface{}, error) {
	return f.meta, nil
}

func snapshot() *adapter.Snapshot {
	return &adapter.Snapshot{
		ResourceID: "store-42",
		Profile: map[string]interface{}{
			"name":     "Tienda Uno",
			"currency": "ARS",
		},
		Orders: map[string]interface{}{
			"total_revenue": 1520.5,
		},
		Catalog: map[string]interface{}{
			"stock_items": 34,
			"description": "summer catalog",
		},
		FetchedAt: time.Now(),
	}
}

func TestCheckAllMatching(t *testing.T) {
	checker := NewChecker(
		&fakeRelational{snap: snapshot()},
		&fakeVector{meta: map[string]interface{}{
			"profile.name":         "Tienda Uno",
			"profile.currency":     "ARS",
			"orders.total_revenue": 1520.5,
			"catalog.stock_items":  34,
		}},
	)

	report, err := checker.Check(context.Background(), "store-42", nil, LevelBasic)
	require.NoError(t, err)
	assert.Equal(t, float64(1), report.Score)
	assert.Empty(t, report.Discrepancies)
	assert.False(t, report.HasCritical())
	assert.Equal(t, 4, report.SampledFields)
}

func TestCheckNumericNormalization(t *testing.T) {
	// 两边介质不同，数值形态可能是 string/int/float，归一后应视为一致
	checker := NewChecker(
		&fakeRelational{snap: snapshot()},
		&fakeVector{meta: map[string]interface{}{
			"orders.total_revenue": "1520.5",
		}},
	)

	report, err := checker.Check(context.Background(), "store-42", []string{"orders.total_revenue"}, LevelBasic)
	require.NoError(t, err)
	assert.Equal(t, float64(1), report.Score)
}

func TestCheckCriticalDiscrepancy(t *testing.T) {
	checker := NewChecker(
		&fakeRelational{snap: snapshot()},
		&fakeVector{meta: map[string]interface{}{
			"profile.name":         "Tienda Dos",
			"profile.currency":     "ARS",
			"orders.total_revenue": 1520.5,
			"catalog.stock_items":  34,
		}},
	)

	report, err := checker.Check(context.Background(), "store-42", nil, LevelBasic)
	require.NoError(t, err)
	assert.True(t, report.HasCritical())
	assert.Less(t, report.Score, float64(1))
	require.Len(t, report.Discrepancies, 1)
	assert.Equal(t, "profile.name", report.Discrepancies[0].Field)
	assert.Equal(t, SeverityCritical, report.Discrepancies[0].Severity)
}

func TestCheckHighSeverityAtBasicLevel(t *testing.T) {
	// basic 级别的采样覆盖 critical 与 high 字段，库存类不一致必须被发现
	checker := NewChecker(
		&fakeRelational{snap: snapshot()},
		&fakeVector{meta: map[string]interface{}{
			"profile.name":         "Tienda Uno",
			"profile.currency":     "ARS",
			"orders.total_revenue": 1520.5,
			"catalog.stock_items":  12,
		}},
	)

	report, err := checker.Check(context.Background(), "store-42", nil, LevelBasic)
	require.NoError(t, err)
	assert.Less(t, report.Score, float64(1))
	assert.False(t, report.HasCritical())
	require.Len(t, report.Discrepancies, 1)
	assert.Equal(t, "catalog.stock_items", report.Discrepancies[0].Field)
	assert.Equal(t, SeverityHigh, report.Discrepancies[0].Severity)
}

func TestCheckMissingVectorField(t *testing.T) {
	checker := NewChecker(
		&fakeRelational{snap: snapshot()},
		&fakeVector{meta: map[string]interface{}{}},
	)

	report, err := checker.Check(context.Background(), "store-42", []string{"catalog.stock_items"}, LevelFull)
	require.NoError(t, err)
	require.Len(t, report.Discrepancies, 1)
	assert.Equal(t, SeverityHigh, report.Discrepancies[0].Severity)
	assert.False(t, report.HasCritical())
}

func TestCheckEmptyBothSides(t *testing.T) {
	checker := NewChecker(&fakeRelational{}, &fakeVector{})
	report, err := checker.Check(context.Background(), "store-42", nil, LevelBasic)
	require.NoError(t, err)
	assert.Equal(t, float64(1), report.Score)
	assert.False(t, report.HasCritical())
}

func TestSeverityMapping(t *testing.T) {
	assert.Equal(t, SeverityCritical, severityFor("profile.name"))
	assert.Equal(t, SeverityCritical, severityFor("orders.total_revenue"))
	assert.Equal(t, SeverityCritical, severityFor("catalog.price_avg"))
	assert.Equal(t, SeverityHigh, severityFor("catalog.stock_items"))
	assert.Equal(t, SeverityLow, severityFor("profile.updated_at"))
	assert.Equal(t, SeverityMedium, severityFor("catalog.description"))
}
