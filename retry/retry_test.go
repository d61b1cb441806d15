package retry

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := testPolicy().Do(context.Background(), testLogger(), "op", func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoExhaustsBoundedAttempts(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := testPolicy().Do(context.Background(), testLogger(), "op", func() error {
		attempts++
		return errors.New("always failing")
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts, "must stop at MaxAttempts")
}

func TestDoStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("protocol violation")
	attempts := 0
	err := testPolicy().Do(context.Background(), testLogger(), "op", func() error {
		attempts++
		return Permanent(errors.Wrap(sentinel, "context"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts, "permanent errors must not be retried")
	assert.True(t, errors.Is(err, sentinel), "inner error must be preserved")
}

func TestDoHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Policy{MaxAttempts: 10, InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second}.
		Do(ctx, testLogger(), "op", func() error {
			attempts++
			cancel()
			return errors.New("failing")
		})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestIsPermanent(t *testing.T) {
	t.Parallel()

	assert.True(t, IsPermanent(Permanent(errors.New("x"))))
	assert.False(t, IsPermanent(errors.New("x")))
	assert.NoError(t, Permanent(nil))
}
