package provision

import (
	"context"
	"fmt"
	"sort"
)

// RegionStore supplies live utilization for the load-spreading policy.
type RegionStore interface {
	// CountActiveByRegion returns the number of servers in provisioning or
	// running status per region code.
	CountActiveByRegion(ctx context.Context) (map[string]int, error)
}

// Assignment is a chosen region and an address from its pool.
type Assignment struct {
	Region string
	IP     string
}

// RegionAssigner hands out logical addresses from the operator-configured
// region pool table. It does not allocate real infrastructure. A region's
// capacity is its pool size minus its active servers; a requested region that
// is full fails outright instead of silently falling back elsewhere.
type RegionAssigner struct {
	pools map[string][]string
	store RegionStore
}

func NewRegionAssigner(pools map[string][]string, store RegionStore) *RegionAssigner {
	return &RegionAssigner{pools: pools, store: store}
}

// Assign picks the preferred region, or the least-loaded one when the caller
// has no preference.
func (r *RegionAssigner) Assign(ctx context.Context, preferred string) (Assignment, error) {
	counts, err := r.store.CountActiveByRegion(ctx)
	if err != nil {
		return Assignment{}, &PersistenceError{Op: "region utilization", Err: err}
	}

	if preferred != "" {
		pool, ok := r.pools[preferred]
		if !ok {
			return Assignment{}, fmt.Errorf("%w: unknown region %q", ErrInvalidSpec, preferred)
		}
		return r.fromPool(preferred, pool, counts[preferred])
	}

	// No preference: fewest active servers wins. Iterate in sorted order so
	// ties break deterministically.
	codes := make([]string, 0, len(r.pools))
	for code := range r.pools {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	best := ""
	for _, code := range codes {
		free := len(r.pools[code]) - counts[code]
		if free > 0 && (best == "" || counts[code] < counts[best]) {
			best = code
		}
	}
	if best == "" {
		return Assignment{}, fmt.Errorf("%w: all region pools are full", ErrRegionCapacityExhausted)
	}
	return r.fromPool(best, r.pools[best], counts[best])
}

func (r *RegionAssigner) fromPool(code string, pool []string, active int) (Assignment, error) {
	if active >= len(pool) {
		return Assignment{}, fmt.Errorf("%w: region %q has no free address slots", ErrRegionCapacityExhausted, code)
	}
	// Round-robin over the pool by utilization; servers share addresses and
	// are distinguished by their globally unique port.
	return Assignment{Region: code, IP: pool[active%len(pool)]}, nil
}
