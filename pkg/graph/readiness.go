package graph

import "github.com/dukex/playbook/pkg/models"

// EdgeState is how a terminal (or not yet terminal) predecessor resolved one of its edges.
type EdgeState int

const (
	// EdgePending means the predecessor has not reached a terminal state.
	EdgePending EdgeState = iota
	// EdgeFired means the predecessor took this edge.
	EdgeFired
	// EdgeNotTaken means the predecessor took the other edge or none.
	EdgeNotTaken
	// EdgeBlocked means a required predecessor did not reach the edge this target depends on.
	EdgeBlocked
)

func (s EdgeState) String() string {
	switch s {
	case EdgeFired:
		return "fired"
	case EdgeNotTaken:
		return "not_taken"
	case EdgeBlocked:
		return "blocked"
	default:
		return "pending"
	}
}

// Resolution is the scheduling verdict for a pending node.
type Resolution int

const (
	Waiting Resolution = iota
	Ready
	Blocked
	NotTaken
)

// States maps node ids to their live state.
type States map[string]*models.NodeState

// EdgeStateOf applies the routing table to a single edge.
//
//	COMPLETED            success fired,   failure not taken
//	FAILED optional      success fired,   failure not taken
//	FAILED required      success blocked, failure fired
//	BLOCKED              both blocked
//	SKIPPED by branch    both not taken
//	SKIPPED by condition success fired,   failure not taken
//	SKIPPED by operator  success blocked, failure not taken
func (g *Graph) EdgeStateOf(e Edge, states States) EdgeState {
	from := g.nodes[e.From]

	st, ok := states[e.From]
	if !ok || from == nil || !st.Status.IsTerminal() {
		return EdgePending
	}

	success := e.Outcome == OutcomeSuccess

	switch st.Status {
	case models.NodeStatusCompleted:
		return pick(success, EdgeFired, EdgeNotTaken)
	case models.NodeStatusFailed:
		if from.IsOptional {
			return pick(success, EdgeFired, EdgeNotTaken)
		}

		return pick(success, EdgeBlocked, EdgeFired)
	case models.NodeStatusBlocked:
		return EdgeBlocked
	case models.NodeStatusSkipped:
		switch st.SkipKind {
		case models.SkipKindCondition:
			return pick(success, EdgeFired, EdgeNotTaken)
		case models.SkipKindOperator:
			return pick(success, EdgeBlocked, EdgeNotTaken)
		default:
			return EdgeNotTaken
		}
	default:
		return EdgePending
	}
}

func pick(success bool, onSuccess, onFailure EdgeState) EdgeState {
	if success {
		return onSuccess
	}

	return onFailure
}

// Resolve decides what should happen to a pending node given its predecessors.
// Each predecessor is judged by all of its edges into the node: it lets the node through
// when any of them fired, even if its other edge is blocked. A blocking predecessor then
// wins over everything, any pending one keeps the node waiting, and any firing one makes
// it ready. A node whose predecessors all took other edges is skipped.
func (g *Graph) Resolve(id string, states States) Resolution {
	if st, ok := states[id]; ok && st.Forced {
		return Ready
	}

	if len(g.incoming[id]) == 0 {
		return Ready
	}

	var pending, fired bool

	for _, p := range g.predecessorStates(id, states) {
		switch p.state {
		case EdgeBlocked:
			return Blocked
		case EdgePending:
			pending = true
		case EdgeFired:
			fired = true
		case EdgeNotTaken:
		}
	}

	switch {
	case pending:
		return Waiting
	case fired:
		return Ready
	default:
		return NotTaken
	}
}

// predecessorStates folds the edges into id per source node, in incoming order.
func (g *Graph) predecessorStates(id string, states States) []predecessorState {
	var (
		out   []predecessorState
		index = make(map[string]int)
	)

	for _, e := range g.incoming[id] {
		state := g.EdgeStateOf(e, states)

		i, seen := index[e.From]
		if !seen {
			index[e.From] = len(out)
			out = append(out, predecessorState{from: e.From, state: state})

			continue
		}

		if rank(state) > rank(out[i].state) {
			out[i].state = state
		}
	}

	return out
}

type predecessorState struct {
	from  string
	state EdgeState
}

// rank orders the edge states of one predecessor: a fired edge overrides a blocked one.
func rank(s EdgeState) int {
	switch s {
	case EdgeFired:
		return 3
	case EdgeBlocked:
		return 2
	case EdgePending:
		return 1
	default:
		return 0
	}
}

// ReadyNodes returns the pending nodes that may start now, in definition order.
func (g *Graph) ReadyNodes(states States) []string {
	var ready []string

	for _, id := range g.order {
		st, ok := states[id]
		if !ok || st.Status != models.NodeStatusPending {
			continue
		}

		if g.Resolve(id, states) == Ready {
			ready = append(ready, id)
		}
	}

	return ready
}

// BlockedBy returns the predecessors whose edges currently block the node.
func (g *Graph) BlockedBy(id string, states States) []string {
	var blockers []string

	for _, p := range g.predecessorStates(id, states) {
		if p.state == EdgeBlocked {
			blockers = append(blockers, p.from)
		}
	}

	return blockers
}
