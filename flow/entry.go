package flow

import "context"

// Condition gates a branch or loop. It is evaluated on a step context
// whose InputData is the upstream value (for branches) or the body's
// latest output (for loops). Conditions run to completion; they cannot
// suspend. A condition error fails the enclosing entry.
type Condition func(ctx context.Context, sc *StepContext) (bool, error)

// BranchPair couples a predicate with the step it gates inside a
// conditional entry. Predicates are evaluated in order; the first match
// wins.
type BranchPair struct {
	When Condition
	Step *Step
}

type entryKind int

const (
	kindStep entryKind = iota
	kindParallel
	kindConditional
	kindLoop
	kindForeach
)

func (k entryKind) String() string {
	switch k {
	case kindStep:
		return "step"
	case kindParallel:
		return "parallel"
	case kindConditional:
		return "conditional"
	case kindLoop:
		return "loop"
	case kindForeach:
		return "foreach"
	}
	return "unknown"
}

type loopKind int

const (
	loopDoWhile loopKind = iota
	loopDoUntil
)

func (k loopKind) String() string {
	if k == loopDoUntil {
		return "do-until"
	}
	return "do-while"
}

// flowEntry is one node of a committed flow. Exactly the fields for its
// kind are populated.
type flowEntry struct {
	kind entryKind

	// kindStep, kindLoop, kindForeach
	step *Step

	// kindParallel
	steps []*Step

	// kindConditional
	branches []BranchPair

	// kindLoop
	loop      loopKind
	condition Condition

	// kindForeach
	concurrency int
}

// GraphNode is the serializable adjacency view of a flow entry, built at
// Commit for diagnostics and carried into snapshots. Predicates and
// mapping functions are not portable; they are reduced to opaque
// markers.
type GraphNode struct {
	Type        string      `json:"type"`
	StepID      string      `json:"stepId,omitempty"`
	Description string      `json:"description,omitempty"`
	Children    []GraphNode `json:"children,omitempty"`
	Condition   string      `json:"condition,omitempty"`
	LoopKind    string      `json:"loopKind,omitempty"`
	Concurrency int         `json:"concurrency,omitempty"`
}

// opaqueCondition is the marker replacing non-portable functions in the
// serialized graph.
const opaqueCondition = "<function>"

func (e *flowEntry) graphNode() GraphNode {
	node := GraphNode{Type: e.kind.String()}
	switch e.kind {
	case kindStep:
		node.StepID = e.step.ID
		node.Description = e.step.Description
	case kindParallel:
		for _, s := range e.steps {
			node.Children = append(node.Children, GraphNode{
				Type:        "step",
				StepID:      s.ID,
				Description: s.Description,
			})
		}
	case kindConditional:
		node.Condition = opaqueCondition
		for _, b := range e.branches {
			node.Children = append(node.Children, GraphNode{
				Type:        "step",
				StepID:      b.Step.ID,
				Description: b.Step.Description,
				Condition:   opaqueCondition,
			})
		}
	case kindLoop:
		node.StepID = e.step.ID
		node.Description = e.step.Description
		node.Condition = opaqueCondition
		node.LoopKind = e.loop.String()
	case kindForeach:
		node.StepID = e.step.ID
		node.Description = e.step.Description
		node.Concurrency = e.concurrency
	}
	return node
}
