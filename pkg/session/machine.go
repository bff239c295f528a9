package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/caretree/pkg/domain"
	"github.com/aretw0/caretree/pkg/engine"
	"github.com/google/uuid"
)

// Step is the outcome of a state machine transition.
type Step struct {
	Session *domain.Session `json:"session"`

	// Node is the node the operator must answer next. Nil once complete.
	Node *domain.Node `json:"nextNode,omitempty"`
	// Hints lists the exact-match answers available from Node.
	Hints []string `json:"hints,omitempty"`

	Complete bool `json:"isComplete"`
	// TerminalNode is the designated terminal that resolved the session, if any.
	TerminalNode *domain.Node `json:"terminalNode,omitempty"`
	// EndedUnexpectedly is set when a dead end resolved the session.
	EndedUnexpectedly bool `json:"endedUnexpectedly,omitempty"`
}

// Result is a read-only projection of a session.
type Result struct {
	SessionID         string               `json:"sessionId"`
	Status            domain.SessionStatus `json:"status"`
	FinalPriority     domain.Priority      `json:"finalPriority"`
	TotalScore        int                  `json:"totalScore"`
	Answered          int                  `json:"answered"`
	CurrentNodeID     string               `json:"currentNodeId,omitempty"`
	FinalNodeID       string               `json:"finalNodeId,omitempty"`
	EndedUnexpectedly bool                 `json:"endedUnexpectedly,omitempty"`
	Synced            bool                 `json:"synced"`
}

// Machine applies the session transitions. It holds no session state and is safe
// for concurrent use; callers serialize access per session.
type Machine struct {
	engine *engine.Engine
	now    func() time.Time
	newID  func() string
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithEngine sets the decision engine (and thus the hop limit).
func WithEngine(e *engine.Engine) MachineOption {
	return func(m *Machine) {
		m.engine = e
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) MachineOption {
	return func(m *Machine) {
		m.now = now
	}
}

// WithIDGenerator overrides session ID generation.
func WithIDGenerator(fn func() string) MachineOption {
	return func(m *Machine) {
		m.newID = fn
	}
}

// NewMachine creates a Machine with random UUID session IDs.
func NewMachine(opts ...MachineOption) *Machine {
	m := &Machine{
		engine: engine.Default,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Engine returns the decision engine in use.
func (m *Machine) Engine() *engine.Engine {
	return m.engine
}

// Start creates a pending session positioned at the version's entry node.
// A version whose only usable entry is a terminal node resolves immediately.
func (m *Machine) Start(v *domain.ProtocolVersion, operatorID string) (Step, error) {
	if v == nil {
		return Step{}, domain.ErrVersionNotFound
	}
	g, err := engine.NewGraph(v)
	if err != nil {
		if errors.Is(err, domain.ErrEmptyProtocol) {
			return Step{}, fmt.Errorf("%w: %w", domain.ErrNoEntryNode, err)
		}
		return Step{}, err
	}

	now := m.now()
	entry := g.Entry()
	s := &domain.Session{
		ID:            m.newID(),
		OperatorID:    operatorID,
		ProtocolID:    v.ProtocolID,
		VersionID:     v.ID,
		Responses:     []domain.Response{},
		FinalPriority: domain.PriorityPending,
		CurrentNodeID: entry.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if entry.Kind.IsTerminal() {
		return m.resolveAt(s, entry), nil
	}
	return Step{Session: s, Node: &entry, Hints: g.Hints(entry.ID)}, nil
}

// Respond records an answer to the current node and advances the session.
// The given session is not modified; the updated copy is returned in the Step.
func (m *Machine) Respond(s *domain.Session, v *domain.ProtocolVersion, nodeID string, value domain.ResponseValue) (Step, error) {
	if s.Status() == domain.StatusResolved {
		return Step{}, domain.ErrSessionComplete
	}
	g, err := engine.NewGraph(v)
	if err != nil {
		return Step{}, err
	}

	node, ok := g.Node(nodeID)
	if !ok {
		return Step{}, fmt.Errorf("%w: %s", domain.ErrNodeNotFound, nodeID)
	}
	if s.CurrentNodeID != "" && node.ID != s.CurrentNodeID {
		return Step{}, domain.Invalid("nodeId", "session is waiting on %q, not %q", s.CurrentNodeID, node.ID)
	}
	if len(s.Responses) >= m.engine.MaxHops() {
		return Step{}, fmt.Errorf("%w: %d responses", domain.ErrHopLimit, len(s.Responses))
	}
	if node.Kind == domain.KindQuestion && value.IsEmpty() {
		return Step{}, domain.Invalid("responseValue", "is required for question %q", node.ID)
	}
	typed, err := value.As(node.ExpectedInput())
	if err != nil {
		return Step{}, err
	}

	next := s.Clone()
	next.Responses = append(next.Responses, domain.Response{
		NodeID:       node.ID,
		Value:        typed,
		ScoreApplied: node.ScoreValue,
	})
	next.TotalScore = engine.AccumulateScore(next.Responses)
	next.UpdatedAt = m.now()

	target, ok := g.Next(node.ID, typed)
	switch {
	case !ok:
		next.FinalPriority = engine.ClassifyByScore(next.TotalScore)
		next.EndedUnexpectedly = true
		next.CurrentNodeID = ""
		next.FinalNodeID = node.ID
		return Step{Session: next, Complete: true, EndedUnexpectedly: true}, nil
	case target.Kind.IsTerminal():
		return m.resolveAt(next, target), nil
	}

	next.CurrentNodeID = target.ID
	return Step{Session: next, Node: &target, Hints: g.Hints(target.ID)}, nil
}

// Back removes the last response and returns the session to pending, facing the
// node that response answered.
func (m *Machine) Back(s *domain.Session, v *domain.ProtocolVersion) (Step, error) {
	if len(s.Responses) == 0 {
		return Step{}, domain.ErrNothingToUndo
	}
	g, err := engine.NewGraph(v)
	if err != nil {
		return Step{}, err
	}

	next := s.Clone()
	popped := next.Responses[len(next.Responses)-1]
	next.Responses = next.Responses[:len(next.Responses)-1]
	next.TotalScore = engine.AccumulateScore(next.Responses)
	next.FinalPriority = domain.PriorityPending
	next.EndedUnexpectedly = false
	next.FinalNodeID = ""
	next.CurrentNodeID = popped.NodeID
	next.UpdatedAt = m.now()

	node, ok := g.Node(popped.NodeID)
	if !ok {
		return Step{}, fmt.Errorf("%w: %s", domain.ErrNodeNotFound, popped.NodeID)
	}
	return Step{Session: next, Node: &node, Hints: g.Hints(node.ID)}, nil
}

// Current re-presents a session without transitioning it.
func (m *Machine) Current(s *domain.Session, v *domain.ProtocolVersion) (Step, error) {
	step := Step{Session: s.Clone()}
	if s.Status() == domain.StatusResolved {
		step.Complete = true
		step.EndedUnexpectedly = s.EndedUnexpectedly
		if !s.EndedUnexpectedly && s.FinalNodeID != "" {
			if g, err := engine.NewGraph(v); err == nil {
				if n, ok := g.Node(s.FinalNodeID); ok {
					step.TerminalNode = &n
				}
			}
		}
		return step, nil
	}

	g, err := engine.NewGraph(v)
	if err != nil {
		return Step{}, err
	}
	node, ok := g.Node(s.CurrentNodeID)
	if !ok {
		return Step{}, fmt.Errorf("%w: %s", domain.ErrNodeNotFound, s.CurrentNodeID)
	}
	step.Node = &node
	step.Hints = g.Hints(node.ID)
	return step, nil
}

// Result projects the session state. It never transitions.
func (m *Machine) Result(s *domain.Session) Result {
	return Result{
		SessionID:         s.ID,
		Status:            s.Status(),
		FinalPriority:     s.FinalPriority,
		TotalScore:        s.TotalScore,
		Answered:          len(s.Responses),
		CurrentNodeID:     s.CurrentNodeID,
		FinalNodeID:       s.FinalNodeID,
		EndedUnexpectedly: s.EndedUnexpectedly,
		Synced:            s.Synced,
	}
}

func (m *Machine) resolveAt(s *domain.Session, terminal domain.Node) Step {
	s.FinalPriority = engine.ClassifyTerminal(terminal, s.TotalScore)
	s.CurrentNodeID = ""
	s.FinalNodeID = terminal.ID
	return Step{Session: s, Complete: true, TerminalNode: &terminal}
}
