package routing

import (
	"github.com/agvflow/agvflow/core/graph"
	"github.com/agvflow/agvflow/core/model"
)

// ACOFinder is a documented approximation: it delegates to Grid-A* instead of
// running pheromone-based optimization. The Finder interface is the seam for
// substituting a genuine ant-colony implementation without touching callers.
type ACOFinder struct{}

// Name implements Finder.
func (ACOFinder) Name() model.Strategy { return model.StrategyACO }

// FindPath implements Finder by falling back to the A* route.
func (ACOFinder) FindPath(g *graph.Graph, start, end model.NodeID, c Constraints) ([]model.NodeID, error) {
	return AStarFinder{}.FindPath(g, start, end, c)
}
