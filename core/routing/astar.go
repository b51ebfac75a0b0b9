package routing

import (
	"container/heap"

	"github.com/agvflow/agvflow/core/graph"
	"github.com/agvflow/agvflow/core/model"
)

// AStarFinder is grid A* with the Manhattan heuristic. Uniform edge cost 1
// keeps the heuristic admissible; equal f values are broken by discovery
// order, so the returned path is stable across runs.
type AStarFinder struct{}

// Name implements Finder.
func (AStarFinder) Name() model.Strategy { return model.StrategyAStar }

type astarNode struct {
	node   model.NodeID
	g      int
	f      int
	seq    int // discovery order, the tie-break
	parent *astarNode
	index  int // heap index
}

type astarHeap []*astarNode

func (h astarHeap) Len() int { return len(h) }
func (h astarHeap) Less(i, j int) bool {
	if h[i].f != h[j].f {
		return h[i].f < h[j].f
	}
	return h[i].seq < h[j].seq
}
func (h astarHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *astarHeap) Push(x any) {
	n := x.(*astarNode)
	n.index = len(*h)
	*h = append(*h, n)
}
func (h *astarHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[0 : n-1]
	return x
}

// FindPath implements Finder. A* plans over the static topology; of the
// constraints only Blocked is honored, time windows are not.
func (AStarFinder) FindPath(g *graph.Graph, start, end model.NodeID, c Constraints) ([]model.NodeID, error) {
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
	heap.Push(open, &astarNode{node: start, g: 0, f: g.Manhattan(start, end), seq: seq})

	for open.Len() > 0 {
		cur := heap.Pop(open).(*astarNode)
		if cur.node == end {
			return reconstruct(cur), nil
		}
		if cost, ok := best[cur.node]; ok && cur.g > cost {
			continue // stale entry
		}
		for _, nb := range g.Neighbors(cur.node) {
			if c.Blocked[nb] {
				continue
			}
			ng := cur.g + 1
			if cost, ok := best[nb]; ok && ng >= cost {
				continue
			}
			best[nb] = ng
			seq++
			heap.Push(open, &astarNode{
				node:   nb,
				g:      ng,
				f:      ng + g.Manhattan(nb, end),
				seq:    seq,
				parent: cur,
			})
		}
	}
	return nil, ErrNoPathFound
}

func reconstruct(n *astarNode) []model.NodeID {
	var rev []model.NodeID
	for ; n != nil; n = n.parent {
		rev = append(rev, n.node)
	}
	path := make([]model.NodeID, len(rev))
	for i, id := range rev {
		path[len(rev)-1-i] = id
	}
	return path
}
