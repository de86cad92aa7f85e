package viz

import (
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/astromechza/talking-todos/pkg/store"
)

// graphviz keeps global state in its C library
var renderMu sync.Mutex

func short(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// RenderToSVG draws the change graph of the store: one node per change, with an
// edge from each dependency to the change that followed it.
func RenderToSVG(s *store.Store, w io.Writer) error {
	renderMu.Lock()
	defer renderMu.Unlock()

	g := graphviz.New()
	defer g.Close()

	graph, err := g.Graph()
	if err != nil {
		return fmt.Errorf("failed to setup graph: %w", err)
	}
	defer graph.Close()

	changes, err := s.Changes()
	if err != nil {
		return fmt.Errorf("failed to generate changes: %w", err)
	}

	nodeMap := make(map[string]*cgraph.Node)
	edges := 0
	for _, change := range changes {
		n, err := graph.CreateNode(change.Hash().String())
		if err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		n.SetShape(cgraph.BoxShape)
		n.SetLabel(fmt.Sprintf("%s %s@%d\\n%s", short(change.Hash().String(), 8), short(change.ActorID(), 8), change.ActorSeq(), change.Message()))
		nodeMap[n.Name()] = n

		for _, hash := range change.Dependencies() {
			parent, ok := nodeMap[hash.String()]
			if !ok {
				continue
			}
			edges++
			if _, err := graph.CreateEdge(strconv.Itoa(edges), parent, n); err != nil {
				return fmt.Errorf("failed to create edge: %w", err)
			}
		}
	}

	if err := g.Render(graph, graphviz.SVG, w); err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}
	return nil
}
