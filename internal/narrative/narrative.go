// Package narrative produces the game master's statements and in-character
// chat replies.
package narrative

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a chat transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Statements is a generated round: two truths, one lie and the opening line
// the game master greets the player with.
type Statements struct {
	Truth1  string `json:"truth1"`
	Truth2  string `json:"truth2"`
	Lie     string `json:"lie"`
	Opening string `json:"opening"`
}

func (s Statements) validate() error {
	if strings.TrimSpace(s.Truth1) == "" || strings.TrimSpace(s.Truth2) == "" || strings.TrimSpace(s.Lie) == "" {
		return errors.New("empty statement")
	}
	if s.Truth1 == s.Truth2 || s.Truth1 == s.Lie || s.Truth2 == s.Lie {
		return errors.New("statements are not distinct")
	}
	return nil
}

// Generator is the text-generation collaborator of a session.
type Generator interface {
	Statements(ctx context.Context) (Statements, error)
	Reply(ctx context.Context, st Statements, history []Message, msg string) (string, error)
}

var ErrGenerator = errors.New("narrative: generation failed")

type GeneratorError struct {
	Backend string
	Err     error
}

func (e *GeneratorError) Error() string {
	return fmt.Sprintf("narrative: %s: %v", e.Backend, e.Err)
}

func (e *GeneratorError) Unwrap() error { return e.Err }

func (e *GeneratorError) Is(target error) bool { return target == ErrGenerator }

// completer sends a transcript to a chat model and returns the reply.
type completer interface {
	name() string
	complete(ctx context.Context, messages []Message) (string, error)
}

const systemPrompt = `You are the host of the party game "Two Truths and a Lie".
Your job is to produce three statements about yourself or a given topic: two true, one a plausible lie.
Guidelines:
1. The three statements must be different from each other.
2. Two statements must be true facts.
3. One statement must be a believable lie that is hard to tell apart from the truth.
4. Avoid lies or truths that are obvious.
5. Never reveal which statement is the lie before the player answers.
6. Keep a friendly, engaging tone suitable for a social game.`

const statementsPrompt = `Start a new round. Reply with JSON only, no prose, in exactly this shape:
{"truths":["<first true statement>","<second true statement>"],"lie":"<the lie>","opening":"<one short welcoming sentence>"}`

// LLM turns a chat model into a Generator.
type LLM struct {
	backend completer
}

func NewLLM(backend completer) *LLM {
	return &LLM{backend: backend}
}

func (g *LLM) Statements(ctx context.Context) (Statements, error) {
	out, err := g.backend.complete(ctx, []Message{
		{Role: RoleSystem, Content: systemPrompt},
		{Role: RoleUser, Content: statementsPrompt},
	})
	if err != nil {
		return Statements{}, &GeneratorError{Backend: g.backend.name(), Err: err}
	}
	st, err := parseStatements(out)
	if err != nil {
		return Statements{}, &GeneratorError{Backend: g.backend.name(), Err: err}
	}
	return st, nil
}

func (g *LLM) Reply(ctx context.Context, st Statements, history []Message, msg string) (string, error) {
	messages := make([]Message, 0, len(history)+2)
	messages = append(messages, Message{Role: RoleSystem, Content: hostPrompt(st)})
	messages = append(messages, history...)
	messages = append(messages, Message{Role: RoleUser, Content: msg})

	out, err := g.backend.complete(ctx, messages)
	if err != nil {
		return "", &GeneratorError{Backend: g.backend.name(), Err: err}
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", &GeneratorError{Backend: g.backend.name(), Err: errors.New("empty reply")}
	}
	return out, nil
}

func hostPrompt(st Statements) string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nThis round's statements (secret):\n")
	fmt.Fprintf(&b, "- true: %s\n- true: %s\n- lie: %s\n", st.Truth1, st.Truth2, st.Lie)
	b.WriteString("Answer the player's questions in character without giving the lie away.")
	return b.String()
}

func parseStatements(out string) (Statements, error) {
	out = strings.TrimSpace(out)
	out = strings.TrimPrefix(out, "```json")
	out = strings.TrimPrefix(out, "```")
	out = strings.TrimSuffix(out, "```")
	if i, j := strings.Index(out, "{"), strings.LastIndex(out, "}"); i >= 0 && j > i {
		out = out[i : j+1]
	}

	var raw struct {
		Truths  []string `json:"truths"`
		Lie     string   `json:"lie"`
		Opening string   `json:"opening"`
	}
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return Statements{}, fmt.Errorf("decode statements: %w", err)
	}
	if len(raw.Truths) != 2 {
		return Statements{}, fmt.Errorf("want 2 truths, got %d", len(raw.Truths))
	}
	st := Statements{
		Truth1:  strings.TrimSpace(raw.Truths[0]),
		Truth2:  strings.TrimSpace(raw.Truths[1]),
		Lie:     strings.TrimSpace(raw.Lie),
		Opening: strings.TrimSpace(raw.Opening),
	}
	if err := st.validate(); err != nil {
		return Statements{}, err
	}
	return st, nil
}
