package game

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"example.com/twotruths/internal/commitment"
	"example.com/twotruths/internal/ledger"
	"example.com/twotruths/internal/narrative"
)

// Player is the authenticated participant of a session.
type Player struct {
	ID   string
	Name string
}

// GameSession is the state of one round. It is owned by its Coordinator.
type GameSession struct {
	ID     string
	Player Player

	Statements narrative.Statements
	// Order maps display position (0-based) to commitment slot.
	Order      [3]commitment.Slot
	Commitment commitment.Commitment
	Address    string
	tx         *ledger.Transaction

	History []narrative.Message

	Answer       string
	Result       string
	Verification string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *GameSession) statement(slot commitment.Slot) string {
	switch slot {
	case commitment.SlotTruth1:
		return s.Statements.Truth1
	case commitment.SlotTruth2:
		return s.Statements.Truth2
	default:
		return s.Statements.Lie
	}
}

func (s *GameSession) displayed() []string {
	out := make([]string, len(s.Order))
	for i, slot := range s.Order {
		out[i] = s.statement(slot)
	}
	return out
}

// candidate resolves an answer. Text equal to one of the committed statements
// names that statement; otherwise a display number 1..3 names the statement
// shown at that position; anything else is taken verbatim.
func (s *GameSession) candidate(answer string) string {
	for _, slot := range s.Order {
		if answer == s.statement(slot) {
			return answer
		}
	}
	if n, err := strconv.Atoi(strings.TrimSpace(answer)); err == nil && n >= 1 && n <= len(s.Order) {
		return s.statement(s.Order[n-1])
	}
	return answer
}

func (s *GameSession) opening() string {
	var b strings.Builder
	if s.Statements.Opening != "" {
		b.WriteString(s.Statements.Opening)
	} else {
		b.WriteString("Let's begin")
	}
	for i, st := range s.displayed() {
		fmt.Fprintf(&b, "\n%d. %s", i+1, st)
	}
	return b.String()
}

// SessionSnapshot is the serializable state of a session, stored in Redis and
// served by the audit endpoint.
type SessionSnapshot struct {
	SessionID  string `json:"sessionId"`
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName,omitempty"`

	State      State `json:"state"`
	Violations int   `json:"violations"`

	Algorithm     string                  `json:"algorithm,omitempty"`
	Commitment    string                  `json:"commitment,omitempty"`
	LedgerAddress string                  `json:"ledgerAddress,omitempty"`
	Ledger        *ledger.TransactionInfo `json:"ledger,omitempty"`

	// Statements in display order.
	Statements []string `json:"statements,omitempty"`
	Lie        string   `json:"lie,omitempty"`
	Turns      int      `json:"turns"`

	Answer       string `json:"answer,omitempty"`
	Result       string `json:"result,omitempty"`
	Verification string `json:"verification,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Public hides the lie and the answer until the session is resolved.
func (s SessionSnapshot) Public() SessionSnapshot {
	if s.State != StateResolved {
		s.Lie = ""
		s.Answer = ""
	}
	return s
}

func (s *GameSession) snapshot(m *Machine) SessionSnapshot {
	snap := SessionSnapshot{
		SessionID:    s.ID,
		PlayerID:     s.Player.ID,
		PlayerName:   s.Player.Name,
		State:        m.State(),
		Violations:   m.Violations(),
		Turns:        len(s.History) / 2,
		Answer:       s.Answer,
		Result:       s.Result,
		Verification: s.Verification,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
	if !s.Commitment.IsZero() {
		snap.Algorithm = string(s.Commitment.Algorithm)
		snap.Commitment = s.Commitment.Hex()
		snap.LedgerAddress = s.Address
		snap.Statements = s.displayed()
		snap.Lie = s.Statements.Lie
	}
	if s.tx != nil {
		info := s.tx.Info()
		snap.Ledger = &info
	}
	return snap
}
