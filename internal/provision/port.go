package provision

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net"
	"time"

	"github.com/wenwu/saas-platform/gamehost-service/internal/config"
)

// PortStore is the bookkeeping side of allocation: which ports are already
// held by a server in provisioning or running status.
type PortStore interface {
	PortInUse(ctx context.Context, port int) (bool, error)
}

// ProbeFunc reports whether a port is free on the host network stack. It is a
// defensive heuristic against processes the bookkeeping never saw; the store's
// unique constraint remains authoritative either way.
type ProbeFunc func(port int) bool

// ListenProbe checks a candidate by briefly binding it.
func ListenProbe(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

// PortAllocator finds a conflict-free port in the configured range. A
// candidate must pass the store check and the live probe, and then survive the
// caller's constrained commit; only the commit decides the race between
// concurrent allocators.
type PortAllocator struct {
	store    PortStore
	probe    ProbeFunc
	min, max int
	reserved map[int]bool
	attempts int
	backoff  time.Duration
	jitter   time.Duration
}

func NewPortAllocator(cfg config.ProvisioningConfig, store PortStore, probe ProbeFunc) *PortAllocator {
	if probe == nil {
		probe = ListenProbe
	}
	reserved := make(map[int]bool, len(cfg.ReservedPorts))
	for _, p := range cfg.ReservedPorts {
		reserved[p] = true
	}
	return &PortAllocator{
		store:    store,
		probe:    probe,
		min:      cfg.PortMin,
		max:      cfg.PortMax,
		reserved: reserved,
		attempts: cfg.MaxAttempts,
		backoff:  cfg.BackoffBase,
		jitter:   cfg.BackoffJitter,
	}
}

// Allocate runs the bounded allocation loop. commit must attempt the
// constrained write that reserves the port, returning ErrPortTaken when a
// concurrent writer won the race; that outcome is a collision, not a failure,
// and triggers another attempt after a jittered pause. Any other commit error
// aborts the loop as-is. When the attempt budget runs out the caller gets
// ErrPortSpaceExhausted rather than an unbounded wait.
func (a *PortAllocator) Allocate(ctx context.Context, commit func(ctx context.Context, port int) error) (int, error) {
	for attempt := 0; attempt < a.attempts; attempt++ {
		if attempt > 0 {
			if err := a.pause(ctx); err != nil {
				return 0, err
			}
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		port, ok := a.candidate()
		if !ok {
			// Every port in the range is reserved.
			return 0, ErrPortSpaceExhausted
		}

		inUse, err := a.store.PortInUse(ctx, port)
		if err != nil {
			return 0, &PersistenceError{Op: "port lookup", Err: err}
		}
		if inUse {
			continue
		}

		if !a.probe(port) {
			log.Printf("[PortAllocator] Port %d busy on host but free in bookkeeping, skipping", port)
			continue
		}

		err = commit(ctx, port)
		if errors.Is(err, ErrPortTaken) {
			continue
		}
		if err != nil {
			return 0, err
		}
		return port, nil
	}

	return 0, ErrPortSpaceExhausted
}

// candidate picks a random non-reserved port from the range. Randomness here
// is load spreading, not security; collisions are resolved by the commit.
func (a *PortAllocator) candidate() (int, bool) {
	size := a.max - a.min + 1
	offset := rand.Intn(size)
	for i := 0; i < size; i++ {
		port := a.min + (offset+i)%size
		if !a.reserved[port] {
			return port, true
		}
	}
	return 0, false
}

// pause sleeps for the base backoff plus jitter, so allocators racing for the
// same candidate range do not retry in lockstep.
func (a *PortAllocator) pause(ctx context.Context) error {
	d := a.backoff
	if a.jitter > 0 {
		d += time.Duration(rand.Int63n(int64(a.jitter)))
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
