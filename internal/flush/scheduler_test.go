package flush

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/projmeta/internal/logging"
	"go.uber.org/zap/zapcore"
)

func TestScheduler_SingleRequest(t *testing.T) {
	var flushes atomic.Int64
	s := NewScheduler(10*time.Millisecond, func(ctx context.Context) error {
		flushes.Add(1)
		return nil
	}, nil)
	defer s.Close()

	s.Request()

	require.Eventually(t, func() bool {
		return flushes.Load() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_CoalescesBurst(t *testing.T) {
	var flushes atomic.Int64
	s := NewScheduler(50*time.Millisecond, func(ctx context.Context) error {
		flushes.Add(1)
		return nil
	}, nil)
	defer s.Close()

	for i := 0; i < 20; i++ {
		s.Request()
	}

	require.Eventually(t, func() bool {
		return flushes.Load() == 1
	}, time.Second, 5*time.Millisecond)

	// Quiet period: no further flushes appear.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(1), flushes.Load())
}

func TestScheduler_RearmDuringFlush(t *testing.T) {
	var flushes atomic.Int64
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	s := NewScheduler(5*time.Millisecond, func(ctx context.Context) error {
		if flushes.Add(1) == 1 {
			once.Do(func() { close(started) })
			<-release
		}
		return nil
	}, nil)
	defer s.Close()

	s.Request()
	<-started

	// Dirty signal while the first flush is in flight.
	s.Request()
	close(release)

	require.Eventually(t, func() bool {
		return flushes.Load() == 2
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_NoRequestAfterClose(t *testing.T) {
	var flushes atomic.Int64
	s := NewScheduler(5*time.Millisecond, func(ctx context.Context) error {
		flushes.Add(1)
		return nil
	}, nil)

	s.Close()
	s.Request()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int64(0), flushes.Load())
}

func TestScheduler_CloseWaitsForPending(t *testing.T) {
	var flushes atomic.Int64
	s := NewScheduler(10*time.Millisecond, func(ctx context.Context) error {
		flushes.Add(1)
		return nil
	}, nil)

	s.Request()
	s.Close()

	// The pending job completed before Close returned.
	assert.Equal(t, int64(1), flushes.Load())
}

func TestScheduler_CloseIdempotent(t *testing.T) {
	s := NewScheduler(time.Millisecond, func(ctx context.Context) error { return nil }, nil)
	s.Close()
	s.Close()
}

func TestScheduler_FlushErrorLoggedNotRetried(t *testing.T) {
	tl := logging.NewTestLogger()
	var flushes atomic.Int64
	s := NewScheduler(5*time.Millisecond, func(ctx context.Context) error {
		flushes.Add(1)
		return errors.New("disk full")
	}, tl.Logger)
	defer s.Close()

	s.Request()

	require.Eventually(t, func() bool {
		return flushes.Load() == 1
	}, time.Second, 5*time.Millisecond)
	tl.AssertLogged(t, zapcore.ErrorLevel, "metadata flush failed")

	// No automatic retry beyond the next natural dirty signal.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int64(1), flushes.Load())

	s.Request()
	require.Eventually(t, func() bool {
		return flushes.Load() == 2
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_DefaultDelay(t *testing.T) {
	s := NewScheduler(0, func(ctx context.Context) error { return nil }, nil)
	defer s.Close()
	assert.Equal(t, DefaultDelay, s.delay)
}
