package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestOpenWithRetry(t *testing.T) {
	a, _ := NewPipe()

	attempts := 0
	open := func() (Driver, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("device busy")
		}
		return a, nil
	}

	driver, err := OpenWithRetry(context.Background(), open,
		WithLog(zaptest.NewLogger(t).Sugar()),
		WithRetryInterval(time.Millisecond, 5*time.Millisecond),
	)
	require.NoError(t, err)
	require.Same(t, a, driver)
	require.Equal(t, 3, attempts)
}

func TestOpenWithRetryCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	open := func() (Driver, error) {
		return nil, errors.New("no such device")
	}

	_, err := OpenWithRetry(ctx, open, WithRetryInterval(time.Millisecond, 5*time.Millisecond))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
