package engine

import (
	"fmt"

	"github.com/aretw0/caretree/pkg/domain"
)

// Outcome is the authoritative result of replaying a response history.
type Outcome struct {
	FinalPriority domain.Priority `json:"finalPriority"`
	TotalScore    int             `json:"totalScore"`

	// FinalNodeID is the terminal node reached, the dead-end node, or while
	// pending the node awaiting an answer.
	FinalNodeID string `json:"finalNodeId"`

	EndedUnexpectedly bool `json:"endedUnexpectedly,omitempty"`

	// Responses is the history with scores re-captured from the version.
	Responses []domain.Response `json:"-"`
}

// ReplayPath replays a history with the default engine.
func ReplayPath(v *domain.ProtocolVersion, responses []domain.Response) (Outcome, error) {
	return Default.Replay(v, responses)
}

// Replay walks a recorded history from the entry node. Every response must answer
// the node the previous one led to; scores come from the version, never from the
// records. The node reached after the last response decides the priority.
func (e *Engine) Replay(v *domain.ProtocolVersion, responses []domain.Response) (Outcome, error) {
	g, err := NewGraph(v)
	if err != nil {
		return Outcome{}, err
	}
	if len(responses) > e.maxHops {
		return Outcome{}, fmt.Errorf("%w: %d responses, limit %d", domain.ErrHopLimit, len(responses), e.maxHops)
	}

	current := g.Entry()
	out := Outcome{Responses: make([]domain.Response, 0, len(responses))}

	if len(responses) == 0 {
		out.FinalNodeID = current.ID
		out.FinalPriority = domain.PriorityPending
		if current.Kind.IsTerminal() {
			out.FinalPriority = ClassifyTerminal(current, 0)
		}
		return out, nil
	}

	for i, r := range responses {
		field := fmt.Sprintf("responses[%d]", i)
		last := i == len(responses)-1

		if r.NodeID == "" {
			return Outcome{}, domain.Invalid(field+".nodeId", "is required")
		}
		node, ok := g.Node(r.NodeID)
		if !ok {
			return Outcome{}, domain.Invalid(field+".nodeId", "unknown node %q", r.NodeID)
		}
		if node.ID != current.ID {
			return Outcome{}, domain.Invalid(field+".nodeId", "answered %q but the path is at %q", node.ID, current.ID)
		}

		if node.Kind == domain.KindQuestion && r.Value.IsEmpty() {
			return Outcome{}, domain.Invalid(field+".responseValue", "is required for question %q", node.ID)
		}
		value, err := r.Value.As(node.ExpectedInput())
		if err != nil {
			return Outcome{}, domain.Invalid(field+".responseValue", "%v", err)
		}

		out.TotalScore += node.ScoreValue
		out.Responses = append(out.Responses, domain.Response{
			NodeID:       node.ID,
			Value:        value,
			ScoreApplied: node.ScoreValue,
		})

		// A record on a terminal node closes the path (older clients stored one).
		if node.Kind.IsTerminal() {
			if !last {
				return Outcome{}, domain.Invalid(field, "response after terminal node %q", node.ID)
			}
			out.FinalNodeID = node.ID
			out.FinalPriority = ClassifyTerminal(node, out.TotalScore)
			return out, nil
		}

		next, ok := g.Next(node.ID, value)
		if !ok {
			if !last {
				return Outcome{}, domain.Invalid(field, "response after dead end at %q", node.ID)
			}
			out.FinalNodeID = node.ID
			out.FinalPriority = ClassifyByScore(out.TotalScore)
			out.EndedUnexpectedly = true
			return out, nil
		}
		current = next
	}

	out.FinalNodeID = current.ID
	if current.Kind.IsTerminal() {
		out.FinalPriority = ClassifyTerminal(current, out.TotalScore)
	} else {
		out.FinalPriority = domain.PriorityPending
	}
	return out, nil
}
