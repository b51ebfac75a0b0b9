package routing

import (
	"container/heap"
	"time"

	"github.com/agvflow/agvflow/core/graph"
	"github.com/agvflow/agvflow/core/model"
)

// TimeWindowFinder is uniform-cost Dijkstra with time-window pruning: a
// candidate edge is discarded when the estimated arrival at the neighbor
// lands within the slot tolerance of an existing claim on that node. The
// arrival estimate for hop k is Now + k·SlotDuration.
type TimeWindowFinder struct{}

// Name implements Finder.
func (TimeWindowFinder) Name() model.Strategy { return model.StrategyDijkstra }

// FindPath implements Finder. With empty constraints it degenerates to plain
// Dijkstra over unit edges.
func (TimeWindowFinder) FindPath(g *graph.Graph, start, end model.NodeID, c Constraints) ([]model.NodeID, error) {
	if !g.Contains(start) || !g.Contains(end) {
		return nil, ErrNoPathFound
	}
	if start == end {
		return []model.NodeID{start}, nil
	}

	open := &astarHeap{}
	heap.Init(open)
	seq := 0
	best := map[model.NodeID]int{start: 0}
	heap.Push(open, &astarNode{node: start, g: 0, f: 0, seq: seq})

	for open.Len() > 0 {
		cur := heap.Pop(open).(*astarNode)
		if cur.node == end {
			return reconstruct(cur), nil
		}
		if cost, ok := best[cur.node]; ok && cur.g > cost {
			continue
		}
		for _, nb := range g.Neighbors(cur.node) {
			if c.Blocked[nb] {
				continue
			}
			ng := cur.g + 1
			if cost, ok := best[nb]; ok && ng >= cost {
				continue
			}
			if c.SlotDuration > 0 && len(c.Occupied) > 0 {
				arrival := c.Now.Add(time.Duration(ng) * c.SlotDuration)
				if c.collides(nb, arrival) {
					continue
				}
			}
			best[nb] = ng
			seq++
			heap.Push(open, &astarNode{node: nb, g: ng, f: ng, seq: seq, parent: cur})
		}
	}
	return nil, ErrNoPathFound
}
