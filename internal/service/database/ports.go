package database

import (
	"sync"

	"github.com/Datify-sh/Datify/internal/domain"
)

// portAllocator hands out host ports from the configured range. Ports in
// use are read from the store at allocation time; the reserved set only
// covers allocations that have not been persisted yet, so two concurrent
// creates cannot pick the same port before either row exists.
type portAllocator struct {
	mu       sync.Mutex
	start    int
	end      int
	reserved map[int]struct{}
}

func newPortAllocator(start, end int) *portAllocator {
	return &portAllocator{start: start, end: end, reserved: make(map[int]struct{})}
}

// reserve picks the lowest free port not in used and not already reserved.
// The returned release func drops the reservation; call it once the port is
// persisted on a row or the create has failed.
func (a *portAllocator) reserve(used []int) (int, func(), error) {
	taken := make(map[int]struct{}, len(used))
	for _, p := range used {
		taken[p] = struct{}{}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for port := a.start; port <= a.end; port++ {
		if _, ok := taken[port]; ok {
			continue
		}
		if _, ok := a.reserved[port]; ok {
			continue
		}
		a.reserved[port] = struct{}{}
		reserved := port
		release := func() {
			a.mu.Lock()
			delete(a.reserved, reserved)
			a.mu.Unlock()
		}
		return reserved, release, nil
	}
	return 0, nil, domain.NewError(domain.CodePortExhausted, "no free ports in %d-%d", a.start, a.end)
}
