package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitializeSuccess(t *testing.T) {
	var calls int32
	a := New(func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	assert.Equal(t, Uninitialized, a.State())
	assert.False(t, a.IsReady())

	require.NoError(t, a.Initialize(context.Background()))
	assert.Equal(t, Ready, a.State())
	assert.True(t, a.IsReady())
	assert.NoError(t, a.Err())

	require.NoError(t, a.Initialize(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestInitializeFailureIsTerminal(t *testing.T) {
	var calls int32
	a := New(func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("module load failed")
	})

	err := a.Initialize(context.Background())
	require.Error(t, err)
	assert.Equal(t, "module load failed", err.Error())

	var initErr *InitError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, Failed, a.State())

	again := a.Initialize(context.Background())
	assert.Same(t, initErr, again)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, initErr, a.Err())
}

func TestConcurrentInitializeWaits(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})

	var calls int32
	a := New(func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		close(started)
		<-release
		return nil
	})

	var wg sync.WaitGroup
	errs := make([]error, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[0] = a.Initialize(context.Background())
	}()

	<-started
	assert.Equal(t, Initializing, a.State())

	for i := 1; i < len(errs); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = a.Initialize(context.Background())
		}(i)
	}

	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, Ready, a.State())
}

func TestInitializeCallerCancelled(t *testing.T) {
	release := make(chan struct{})
	a := New(func(ctx context.Context) error {
		<-release
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := a.Initialize(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, a.Initialize(context.Background()))
	assert.Equal(t, Ready, a.State())
}

func TestNilInitFunc(t *testing.T) {
	a := New(nil)
	require.NoError(t, a.Initialize(context.Background()))
	assert.True(t, a.IsReady())
}

func TestStateTransitionsLogged(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	a := New(func(context.Context) error { return nil }, WithLogger(zap.New(core)))

	require.NoError(t, a.Initialize(context.Background()))

	entries := logs.FilterMessage("module state changed").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "initializing", entries[0].ContextMap()["to"])
	assert.Equal(t, "ready", entries[1].ContextMap()["to"])
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "uninitialized", Uninitialized.String())
	assert.Equal(t, "initializing", Initializing.String())
	assert.Equal(t, "ready", Ready.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "unknown", State(42).String())
}
