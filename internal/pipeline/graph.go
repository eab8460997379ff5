package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// End is the pseudo-node a router returns to stop the graph.
const End = "__end__"

// Sentinel errors for the pipeline package.
var (
	// ErrNodeAlreadyRegistered is returned when adding a duplicate node.
	ErrNodeAlreadyRegistered = errors.New("node already registered")

	// ErrNodeNotFound is returned when an edge or router names an unknown node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrNoEntry is returned when running a graph without an entry node.
	ErrNoEntry = errors.New("graph has no entry node")

	// ErrMaxSteps is returned when a run exceeds the step limit.
	ErrMaxSteps = errors.New("graph exceeded max steps")
)

// Node is one step of a graph. Nodes mutate the shared State.
type Node interface {
	Name() string
	Run(ctx context.Context, state *State) error
}

// NodeFunc adapts a function to the Node interface.
type NodeFunc struct {
	name string
	fn   func(ctx context.Context, state *State) error
}

// NewNode creates a Node from fn.
func NewNode(name string, fn func(ctx context.Context, state *State) error) NodeFunc {
	return NodeFunc{name: name, fn: fn}
}

func (n NodeFunc) Name() string                                { return n.name }
func (n NodeFunc) Run(ctx context.Context, state *State) error { return n.fn(ctx, state) }

// Router picks the next node from the state after a node runs.
type Router func(state *State) string

// Graph is a directed graph of nodes with conditional edges. Cycles are
// allowed; MaxSteps bounds how many nodes a single run may execute.
type Graph struct {
	mu       sync.RWMutex
	nodes    map[string]Node
	order    []string // Maintains registration order
	routes   map[string]Router
	entry    string
	maxSteps int
}

// NewGraph creates an empty graph.
func NewGraph(maxSteps int) *Graph {
	if maxSteps <= 0 {
		maxSteps = 25
	}
	return &Graph{
		nodes:    make(map[string]Node),
		order:    make([]string, 0),
		routes:   make(map[string]Router),
		maxSteps: maxSteps,
	}
}

// AddNode adds a node to the graph.
// Returns an error if a node with the same name is already registered.
func (g *Graph) AddNode(n Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	name := n.Name()
	if name == End {
		return fmt.Errorf("node name %q is reserved", End)
	}
	if _, exists := g.nodes[name]; exists {
		return fmt.Errorf("%w: %s", ErrNodeAlreadyRegistered, name)
	}

	g.nodes[name] = n
	g.order = append(g.order, name)
	return nil
}

// AddEdge adds an unconditional edge.
func (g *Graph) AddEdge(from, to string) {
	g.AddConditionalEdge(from, func(*State) string { return to })
}

// AddConditionalEdge sets the router that runs after from.
func (g *Graph) AddConditionalEdge(from string, route Router) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.routes[from] = route
}

// SetEntry sets the first node.
func (g *Graph) SetEntry(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entry = name
}

// Nodes returns node names in registration order.
func (g *Graph) Nodes() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	names := make([]string, len(g.order))
	copy(names, g.order)
	return names
}

// Validate checks that the entry node and every routed-from node exist.
func (g *Graph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.entry == "" {
		return ErrNoEntry
	}
	if _, ok := g.nodes[g.entry]; !ok {
		return fmt.Errorf("%w: entry %q", ErrNodeNotFound, g.entry)
	}
	for from := range g.routes {
		if _, ok := g.nodes[from]; !ok {
			return fmt.Errorf("%w: edge from %q", ErrNodeNotFound, from)
		}
	}
	return nil
}

// Run executes nodes from the entry until a router returns End or a node
// has no outgoing edge.
func (g *Graph) Run(ctx context.Context, state *State) error {
	if err := g.Validate(); err != nil {
		return err
	}

	g.mu.RLock()
	current := g.entry
	g.mu.RUnlock()

	for step := 0; ; step++ {
		if step >= g.maxSteps {
			return fmt.Errorf("%w (%d)", ErrMaxSteps, g.maxSteps)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		g.mu.RLock()
		node, ok := g.nodes[current]
		route := g.routes[current]
		g.mu.RUnlock()
		if !ok {
			return fmt.Errorf("%w: %s", ErrNodeNotFound, current)
		}

		state.Steps = append(state.Steps, current)
		if err := node.Run(ctx, state); err != nil {
			return fmt.Errorf("node %s: %w", current, err)
		}

		if route == nil {
			return nil
		}
		next := route(state)
		if next == End || next == "" {
			return nil
		}
		current = next
	}
}
