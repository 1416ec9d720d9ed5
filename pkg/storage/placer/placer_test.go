package placer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidegate/tidegate/pkg/types"
)

func testSharks() []*types.Shark {
	return []*types.Shark{
		{ID: "s1", Datacenter: "east-1", TotalBytes: 1 << 30},
		{ID: "s2", Datacenter: "east-1", TotalBytes: 1 << 30},
		{ID: "s3", Datacenter: "east-2", TotalBytes: 1 << 30},
		{ID: "s4", Datacenter: "east-3", TotalBytes: 1 << 30},
	}
}

func TestPlaceSpreadsDatacenters(t *testing.T) {
	t.Parallel()
	p := NewRoundRobinPlacer(testSharks())

	replicas, err := p.Place(context.Background(), 3, 1024)
	require.NoError(t, err)
	require.Len(t, replicas, 3)

	dcs := make(map[string]bool)
	for _, r := range replicas {
		dcs[r.Datacenter] = true
	}
	assert.Len(t, dcs, 3, "three copies should land in three datacenters")
}

func TestPlaceRelaxesWhenFewerDatacentersThanCopies(t *testing.T) {
	t.Parallel()
	p := NewRoundRobinPlacer([]*types.Shark{
		{ID: "s1", Datacenter: "east-1", TotalBytes: 1 << 30},
		{ID: "s2", Datacenter: "east-1", TotalBytes: 1 << 30},
	})

	replicas, err := p.Place(context.Background(), 2, 1024)
	require.NoError(t, err)
	require.Len(t, replicas, 2)
	assert.NotEqual(t, replicas[0].SharkID, replicas[1].SharkID)
}

func TestPlaceNeverReusesShark(t *testing.T) {
	t.Parallel()
	p := NewRoundRobinPlacer(testSharks())

	replicas, err := p.Place(context.Background(), 4, 1024)
	require.NoError(t, err)
	seen := make(map[string]bool)
	for _, r := range replicas {
		assert.False(t, seen[r.SharkID])
		seen[r.SharkID] = true
	}
}

func TestPlaceInsufficientCapacity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		sharks []*types.Shark
		copies int
		size   int64
	}{
		{
			name:   "no sharks",
			sharks: nil,
			copies: 1,
			size:   1,
		},
		{
			name:   "more copies than sharks",
			sharks: testSharks(),
			copies: 5,
			size:   1024,
		},
		{
			name: "sharks too full",
			sharks: []*types.Shark{
				{ID: "s1", Datacenter: "east-1", TotalBytes: 100, UsedBytes: 90},
			},
			copies: 1,
			size:   50,
		},
		{
			name: "read-only sharks excluded",
			sharks: []*types.Shark{
				{ID: "s1", Datacenter: "east-1", TotalBytes: 1 << 30, ReadOnly: true},
			},
			copies: 1,
			size:   1024,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := NewRoundRobinPlacer(tt.sharks)
			_, err := p.Place(context.Background(), tt.copies, tt.size)
			assert.ErrorIs(t, err, ErrInsufficientCapacity)
		})
	}
}

func TestPlaceInvalidCopies(t *testing.T) {
	t.Parallel()
	p := NewRoundRobinPlacer(testSharks())
	_, err := p.Place(context.Background(), 0, 1024)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInsufficientCapacity)
}

func TestRefresh(t *testing.T) {
	t.Parallel()
	p := NewRoundRobinPlacer(nil)
	_, err := p.Place(context.Background(), 1, 1)
	require.ErrorIs(t, err, ErrInsufficientCapacity)

	p.Refresh(testSharks())
	replicas, err := p.Place(context.Background(), 2, 1024)
	require.NoError(t, err)
	assert.Len(t, replicas, 2)
}
