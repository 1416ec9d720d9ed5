package placer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tidegate/tidegate/pkg/types"
)

// ErrInsufficientCapacity is returned when placement cannot satisfy the
// requested durability with the sharks currently known.
var ErrInsufficientCapacity = errors.New("insufficient storage capacity")

// Placer selects sharks to hold an object's replicas.
type Placer interface {
	// Place picks `copies` sharks able to hold sizeBytes each, spread
	// across datacenters where possible.
	Place(ctx context.Context, copies int, sizeBytes int64) ([]types.Replica, error)
	// Refresh replaces the known shark set.
	Refresh(sharks []*types.Shark)
}

// RoundRobinPlacer spreads replicas across sharks round-robin,
// preferring distinct datacenters for successive copies.
type RoundRobinPlacer struct {
	mu     sync.RWMutex
	sharks []*types.Shark
	idx    uint64
}

// NewRoundRobinPlacer creates a placer with the given sharks.
func NewRoundRobinPlacer(sharks []*types.Shark) *RoundRobinPlacer {
	return &RoundRobinPlacer{sharks: sharks}
}

func (p *RoundRobinPlacer) Refresh(sharks []*types.Shark) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sharks = sharks
}

func (p *RoundRobinPlacer) Place(ctx context.Context, copies int, sizeBytes int64) ([]types.Replica, error) {
	if copies <= 0 {
		return nil, fmt.Errorf("placer: invalid copy count %d", copies)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	n := len(p.sharks)
	if n == 0 {
		return nil, ErrInsufficientCapacity
	}

	start := int(atomic.AddUint64(&p.idx, 1) % uint64(n))

	var replicas []types.Replica
	usedSharks := make(map[string]bool)
	usedDCs := make(map[string]bool)

	// First pass prefers sharks in datacenters not yet holding a copy;
	// second pass relaxes that when there are fewer DCs than copies.
	for pass := 0; pass < 2 && len(replicas) < copies; pass++ {
		for i := 0; i < n && len(replicas) < copies; i++ {
			s := p.sharks[(start+i)%n]
			if usedSharks[s.ID] || s.ReadOnly || s.FreeBytes() < uint64(sizeBytes) {
				continue
			}
			if pass == 0 && usedDCs[s.Datacenter] {
				continue
			}
			usedSharks[s.ID] = true
			usedDCs[s.Datacenter] = true
			replicas = append(replicas, types.Replica{
				Datacenter: s.Datacenter,
				SharkID:    s.ID,
			})
		}
	}

	if len(replicas) < copies {
		return nil, ErrInsufficientCapacity
	}
	return replicas, nil
}
