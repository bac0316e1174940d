package provision

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateReturnsPortInRange(t *testing.T) {
	cfg := testConfig()
	a := NewPortAllocator(cfg, newFakeStore(), freeProbe)

	port, err := a.Allocate(context.Background(), func(ctx context.Context, port int) error {
		return nil
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, port, cfg.PortMin)
	assert.LessOrEqual(t, port, cfg.PortMax)
}

func TestAllocateSkipsReservedPorts(t *testing.T) {
	cfg := testConfig()
	cfg.PortMin = 25500
	cfg.PortMax = 25501
	cfg.ReservedPorts = []int{25500}
	a := NewPortAllocator(cfg, newFakeStore(), freeProbe)

	for i := 0; i < 10; i++ {
		port, err := a.Allocate(context.Background(), func(ctx context.Context, port int) error {
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 25501, port)
	}
}

func TestAllocateAllPortsReserved(t *testing.T) {
	cfg := testConfig()
	cfg.PortMin = 25500
	cfg.PortMax = 25500
	cfg.ReservedPorts = []int{25500}
	a := NewPortAllocator(cfg, newFakeStore(), freeProbe)

	_, err := a.Allocate(context.Background(), func(ctx context.Context, port int) error {
		return nil
	})
	assert.ErrorIs(t, err, ErrPortSpaceExhausted)
}

func TestAllocateRetriesOnCommitCollision(t *testing.T) {
	cfg := testConfig()
	a := NewPortAllocator(cfg, newFakeStore(), freeProbe)

	attempts := 0
	port, err := a.Allocate(context.Background(), func(ctx context.Context, port int) error {
		attempts++
		if attempts < 3 {
			return ErrPortTaken
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.NotZero(t, port)
}

func TestAllocateExhaustedSinglePortRange(t *testing.T) {
	// Scenario: a range of size 1 whose only port is already held. The call
	// must fail with ErrPortSpaceExhausted instead of hanging.
	cfg := testConfig()
	cfg.PortMin = 25500
	cfg.PortMax = 25500
	store := newFakeStore()
	store.seedActive("holder", 25500, "us-east")
	a := NewPortAllocator(cfg, store, freeProbe)

	_, err := a.Allocate(context.Background(), func(ctx context.Context, port int) error {
		t.Fatal("commit must not run for an occupied port")
		return nil
	})
	assert.ErrorIs(t, err, ErrPortSpaceExhausted)
}

func TestAllocateExhaustedByCommit(t *testing.T) {
	// The bookkeeping view is stale (reports free) and the constrained write
	// keeps losing; the retry budget must end the loop.
	cfg := testConfig()
	cfg.PortMin = 25500
	cfg.PortMax = 25500
	a := NewPortAllocator(cfg, newFakeStore(), freeProbe)

	attempts := 0
	_, err := a.Allocate(context.Background(), func(ctx context.Context, port int) error {
		attempts++
		return ErrPortTaken
	})
	assert.ErrorIs(t, err, ErrPortSpaceExhausted)
	assert.Equal(t, cfg.MaxAttempts, attempts)
}

func TestAllocateSkipsHostBoundPorts(t *testing.T) {
	// The live probe defends against ports bound outside our bookkeeping.
	cfg := testConfig()
	cfg.PortMin = 25500
	cfg.PortMax = 25501
	busy := map[int]bool{25500: true}
	a := NewPortAllocator(cfg, newFakeStore(), func(port int) bool {
		return !busy[port]
	})

	for i := 0; i < 10; i++ {
		port, err := a.Allocate(context.Background(), func(ctx context.Context, port int) error {
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 25501, port)
	}
}

func TestAllocateConcurrentForcedCollision(t *testing.T) {
	// Two allocators race over a two-port range with a shared store. The
	// store's constraint decides the race: both must end up with distinct
	// ports, never the same one.
	cfg := testConfig()
	cfg.PortMin = 25500
	cfg.PortMax = 25501
	store := newFakeStore()
	store.stalePortView = true // force the decision onto the constrained commit

	commit := func(ctx context.Context, port int) error {
		return store.CreateServer(ctx, activeServer(port))
	}

	var wg sync.WaitGroup
	ports := make([]int, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a := NewPortAllocator(cfg, store, freeProbe)
			ports[i], errs[i] = a.Allocate(context.Background(), commit)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.NotEqual(t, ports[0], ports[1], "both allocators committed the same port")
}

func TestAllocateManyConcurrentDistinctPorts(t *testing.T) {
	cfg := testConfig()
	store := newFakeStore()

	const n = 16
	var wg sync.WaitGroup
	ports := make([]int, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a := NewPortAllocator(cfg, store, freeProbe)
			ports[i], errs[i] = a.Allocate(context.Background(), func(ctx context.Context, port int) error {
				return store.CreateServer(ctx, activeServer(port))
			})
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[ports[i]], "port %d allocated twice", ports[i])
		seen[ports[i]] = true
	}
}

func TestAllocateStoreFailure(t *testing.T) {
	store := newFakeStore()
	store.portInUseErr = errors.New("connection refused")
	a := NewPortAllocator(testConfig(), store, freeProbe)

	_, err := a.Allocate(context.Background(), func(ctx context.Context, port int) error {
		return nil
	})
	var pErr *PersistenceError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, "port lookup", pErr.Op)
}

func TestAllocateContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := NewPortAllocator(testConfig(), newFakeStore(), freeProbe)
	_, err := a.Allocate(ctx, func(ctx context.Context, port int) error {
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
