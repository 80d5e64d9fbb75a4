package errs_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/finikit/storesync/errs"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errs.Kind
	}{
		{name: "transient remote", err: fmt.Errorf("%w: 503", errs.ErrTransientRemote), want: errs.KindTransient},
		{name: "lock conflict", err: errs.ErrLockConflict, want: errs.KindTransient},
		{name: "timeout", err: fmt.Errorf("%w: exceeded 30s", errs.ErrTimeout), want: errs.KindTransient},
		{name: "context deadline", err: context.DeadlineExceeded, want: errs.KindTransient},
		{name: "auth", err: errs.ErrAuth, want: errs.KindPermanent},
		{name: "not found", err: errs.ErrNotFound, want: errs.KindPermanent},
		{name: "permanent remote", err: errs.ErrPermanentRemote, want: errs.KindPermanent},
		{name: "unknown", err: errors.New("boom"), want: errs.KindPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errs.Classify(tt.err))
		})
	}
}

func TestClassifySurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("platform fetch: %w", fmt.Errorf("%w: connection reset", errs.ErrTransientRemote))
	assert.Equal(t, errs.KindTransient, errs.Classify(err))
}

func TestAny(t *testing.T) {
	err := fmt.Errorf("acquire lock: %w", errs.ErrLockConflict)
	assert.True(t, errs.Any(err, errs.ErrAuth, errs.ErrLockConflict))
	assert.False(t, errs.Any(err, errs.ErrAuth, errs.ErrNotFound))
	assert.False(t, errs.Any(nil, errs.ErrAuth))
}
