// Package graph builds and queries the adjacency structure of a workflow definition.
package graph

import (
	"slices"

	"github.com/dukex/playbook/pkg/conditional"
	"github.com/dukex/playbook/pkg/models"
)

// Outcome selects which outgoing edge of a node is meant.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Edge connects a node to the step named by its success or failure target.
type Edge struct {
	From    string  `json:"from"`
	To      string  `json:"to"`
	Outcome Outcome `json:"outcome"`
	// Back marks an edge that closes an optional-only cycle. Back edges never gate readiness.
	Back bool `json:"back,omitempty"`
}

// Graph is the validated, read-only shape of a definition.
type Graph struct {
	definitionID string
	order        []string
	nodes        map[string]*models.StepSpec
	outgoing     map[string][]Edge
	incoming     map[string][]Edge
	back         []Edge
}

// Build validates the definition and derives its adjacency.
func Build(def *models.WorkflowDefinition) (*Graph, error) {
	verr := &GraphValidationError{DefinitionID: def.ID}

	g := &Graph{
		definitionID: def.ID,
		nodes:        make(map[string]*models.StepSpec, len(def.Steps)),
		outgoing:     make(map[string][]Edge, len(def.Steps)),
		incoming:     make(map[string][]Edge, len(def.Steps)),
	}

	if len(def.Steps) == 0 {
		verr.add("definition has no steps")

		return nil, verr
	}

	for i, step := range def.Steps {
		if step == nil {
			verr.add("step %d is empty", i)

			continue
		}

		if step.ID == "" {
			verr.add("step %d has no id", i)

			continue
		}

		if _, dup := g.nodes[step.ID]; dup {
			verr.add("duplicate step id %q", step.ID)

			continue
		}

		g.nodes[step.ID] = step
		g.order = append(g.order, step.ID)
	}

	for _, id := range g.order {
		validateStep(g.nodes[id], verr)
	}

	for _, id := range g.order {
		step := g.nodes[id]
		g.addEdge(step, step.OnSuccessStepID, OutcomeSuccess, verr)
		g.addEdge(step, step.OnFailureStepID, OutcomeFailure, verr)
	}

	if len(verr.Problems) > 0 {
		return nil, verr
	}

	g.checkCycles(verr)

	if len(verr.Problems) > 0 {
		return nil, verr
	}

	g.classifyBackEdges()

	return g, nil
}

func validateStep(step *models.StepSpec, verr *GraphValidationError) {
	if step.Kind == "" {
		verr.add("step %q has no kind", step.ID)
	}

	if step.MaxRetries < 0 {
		verr.add("step %q: max retries must be >= 0, got %d", step.ID, step.MaxRetries)
	}

	if step.TimeoutSeconds <= 0 {
		verr.add("step %q: timeout must be > 0, got %v", step.ID, step.TimeoutSeconds)
	}

	if step.Condition != nil {
		if err := conditional.Validate(*step.Condition); err != nil {
			verr.add("step %q: %v", step.ID, err)
		}
	}
}

func (g *Graph) addEdge(step *models.StepSpec, target string, outcome Outcome, verr *GraphValidationError) {
	if target == "" {
		return
	}

	if target == step.ID {
		verr.add("step %q lists itself as its own %s target", step.ID, outcome)

		return
	}

	if _, ok := g.nodes[target]; !ok {
		verr.add("step %q: %s target %q does not exist", step.ID, outcome, target)

		return
	}

	g.outgoing[step.ID] = append(g.outgoing[step.ID], Edge{From: step.ID, To: target, Outcome: outcome})
}

// checkCycles rejects any strongly connected component with a required node in it.
func (g *Graph) checkCycles(verr *GraphValidationError) {
	index := 0
	indices := make(map[string]int, len(g.order))
	lowlink := make(map[string]int, len(g.order))
	onStack := make(map[string]bool, len(g.order))
	stack := make([]string, 0, len(g.order))

	var strongConnect func(id string)
	strongConnect = func(id string) {
		indices[id] = index
		lowlink[id] = index
		index++

		stack = append(stack, id)
		onStack[id] = true

		for _, e := range g.outgoing[id] {
			if _, seen := indices[e.To]; !seen {
				strongConnect(e.To)
				lowlink[id] = min(lowlink[id], lowlink[e.To])
			} else if onStack[e.To] {
				lowlink[id] = min(lowlink[id], indices[e.To])
			}
		}

		if lowlink[id] != indices[id] {
			return
		}

		var component []string

		for {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[top] = false
			component = append(component, top)

			if top == id {
				break
			}
		}

		if len(component) < 2 {
			return
		}

		slices.Sort(component)

		for _, member := range component {
			if !g.nodes[member].IsOptional {
				verr.add("cycle %v contains required step %q", component, member)

				return
			}
		}
	}

	for _, id := range g.order {
		if _, seen := indices[id]; !seen {
			strongConnect(id)
		}
	}
}

// classifyBackEdges runs a depth-first search from the roots, then from any node still
// unvisited, and marks edges into the active path as back edges.
func (g *Graph) classifyBackEdges() {
	const (
		white = iota
		grey
		black
	)

	color := make(map[string]int, len(g.order))

	var visit func(id string)
	visit = func(id string) {
		color[id] = grey

		edges := g.outgoing[id]
		for i := range edges {
			switch color[edges[i].To] {
			case grey:
				edges[i].Back = true
			case white:
				visit(edges[i].To)
			}
		}

		color[id] = black
	}

	hasIncoming := make(map[string]bool, len(g.order))
	for _, id := range g.order {
		for _, e := range g.outgoing[id] {
			hasIncoming[e.To] = true
		}
	}

	for _, id := range g.order {
		if !hasIncoming[id] && color[id] == white {
			visit(id)
		}
	}

	for _, id := range g.order {
		if color[id] == white {
			visit(id)
		}
	}

	for _, id := range g.order {
		for _, e := range g.outgoing[id] {
			if e.Back {
				g.back = append(g.back, e)

				continue
			}

			g.incoming[e.To] = append(g.incoming[e.To], e)
		}
	}
}

// DefinitionID returns the id of the definition the graph was built from.
func (g *Graph) DefinitionID() string {
	return g.definitionID
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.order)
}

// Order returns node ids in definition order.
func (g *Graph) Order() []string {
	return slices.Clone(g.order)
}

// Node returns the step spec of a node, or nil.
func (g *Graph) Node(id string) *models.StepSpec {
	return g.nodes[id]
}

// Incoming returns the forward edges that target the node.
func (g *Graph) Incoming(id string) []Edge {
	return slices.Clone(g.incoming[id])
}

// Outgoing returns every edge leaving the node, back edges included.
func (g *Graph) Outgoing(id string) []Edge {
	return slices.Clone(g.outgoing[id])
}

// BackEdges returns the edges that close optional-only cycles.
func (g *Graph) BackEdges() []Edge {
	return slices.Clone(g.back)
}

// Roots returns the nodes without incoming forward edges.
func (g *Graph) Roots() []string {
	var roots []string

	for _, id := range g.order {
		if len(g.incoming[id]) == 0 {
			roots = append(roots, id)
		}
	}

	return roots
}

// DownstreamOf returns the target of the node's edge for the outcome, or false when terminal.
func (g *Graph) DownstreamOf(nodeID string, outcome Outcome) (string, bool) {
	step, ok := g.nodes[nodeID]
	if !ok {
		return "", false
	}

	var target string

	switch outcome {
	case OutcomeSuccess:
		target = step.OnSuccessStepID
	case OutcomeFailure:
		target = step.OnFailureStepID
	}

	return target, target != ""
}

// Descendants returns every node reachable from id over forward edges, in definition order.
func (g *Graph) Descendants(id string) []string {
	seen := map[string]bool{}
	queue := []string{id}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, e := range g.outgoing[current] {
			if e.Back || seen[e.To] {
				continue
			}

			seen[e.To] = true
			queue = append(queue, e.To)
		}
	}

	var out []string

	for _, nid := range g.order {
		if seen[nid] && nid != id {
			out = append(out, nid)
		}
	}

	return out
}
