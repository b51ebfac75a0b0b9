// Package graph holds the static transport topology. The node set and its
// adjacency are fixed at startup; all lookups are read-only afterwards, so the
// graph is safe to share between the engine and concurrent route planners.
package graph

import (
	"fmt"
	"sort"

	"github.com/agvflow/agvflow/core/model"
)

// Edge is an undirected link between two nodes.
type Edge struct {
	A model.NodeID `json:"a"`
	B model.NodeID `json:"b"`
}

// Coord is the grid position of a node, used by the Manhattan heuristic.
type Coord struct {
	Row int
	Col int
}

// Graph is an undirected adjacency graph with precomputed grid coordinates.
type Graph struct {
	adj    map[model.NodeID][]model.NodeID
	coords map[model.NodeID]Coord
}

// NewGrid builds a rows×cols grid graph with nodes numbered 1..rows*cols in
// row-major order and 4-connectivity. Edges listed in removed are absent from
// the adjacency in both directions.
func NewGrid(rows, cols int, removed []Edge) (*Graph, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("grid dimensions must be positive, got %dx%d", rows, cols)
	}
	skip := make(map[Edge]bool, len(removed))
	for _, e := range removed {
		skip[normalize(e)] = true
	}
	g := &Graph{
		adj:    make(map[model.NodeID][]model.NodeID, rows*cols),
		coords: make(map[model.NodeID]Coord, rows*cols),
	}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			id := model.NodeID(r*cols + c + 1)
			g.coords[id] = Coord{Row: r, Col: c}
			g.adj[id] = nil
		}
	}
	link := func(a, b model.NodeID) {
		if skip[normalize(Edge{A: a, B: b})] {
			return
		}
		g.adj[a] = append(g.adj[a], b)
		g.adj[b] = append(g.adj[b], a)
	}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			id := model.NodeID(r*cols + c + 1)
			if c+1 < cols {
				link(id, id+1)
			}
			if r+1 < rows {
				link(id, id+model.NodeID(cols))
			}
		}
	}
	// Sorted neighbor order keeps path search deterministic.
	for id := range g.adj {
		sort.Slice(g.adj[id], func(i, j int) bool { return g.adj[id][i] < g.adj[id][j] })
	}
	return g, nil
}

func normalize(e Edge) Edge {
	if e.A > e.B {
		e.A, e.B = e.B, e.A
	}
	return e
}

// NodeCount returns the number of nodes in the topology.
func (g *Graph) NodeCount() int { return len(g.adj) }

// Contains reports whether the node exists.
func (g *Graph) Contains(id model.NodeID) bool {
	_, ok := g.adj[id]
	return ok
}

// Neighbors returns the adjacent nodes of id in ascending order. The returned
// slice must not be mutated.
func (g *Graph) Neighbors(id model.NodeID) []model.NodeID { return g.adj[id] }

// Adjacent reports whether a and b share an edge.
func (g *Graph) Adjacent(a, b model.NodeID) bool {
	for _, n := range g.adj[a] {
		if n == b {
			return true
		}
	}
	return false
}

// Manhattan returns the grid distance between two nodes.
func (g *Graph) Manhattan(a, b model.NodeID) int {
	ca, cb := g.coords[a], g.coords[b]
	return abs(ca.Row-cb.Row) + abs(ca.Col-cb.Col)
}

// ValidWalk reports whether path is a sequence of pairwise-adjacent nodes.
func (g *Graph) ValidWalk(path []model.NodeID) bool {
	for i := 1; i < len(path); i++ {
		if !g.Adjacent(path[i-1], path[i]) {
			return false
		}
	}
	return true
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
