package narrative

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const (
	BackendScripted = "scripted"
	BackendOpenAI   = "openai"
	BackendOllama   = "ollama"
)

type Options struct {
	Backend       string
	OpenAIKey     string
	OpenAIModel   string
	OpenAIBaseURL string
	OllamaURL     string
	OllamaModel   string
	Timeout       time.Duration
}

// New builds the generator selected by opts.Backend.
func New(opts Options) (Generator, error) {
	client := &http.Client{Timeout: opts.Timeout}
	switch opts.Backend {
	case BackendScripted, "":
		return NewScripted(DefaultStatements), nil
	case BackendOpenAI:
		return NewLLM(&OpenAI{BaseURL: opts.OpenAIBaseURL, APIKey: opts.OpenAIKey, Model: opts.OpenAIModel, Client: client}), nil
	case BackendOllama:
		return NewLLM(&Ollama{BaseURL: opts.OllamaURL, Model: opts.OllamaModel, Client: client}), nil
	default:
		return nil, fmt.Errorf("narrative: unknown backend %q", opts.Backend)
	}
}

var DefaultStatements = Statements{
	Truth1:  "I can answer questions in more than twenty languages.",
	Truth2:  "I have never tasted coffee.",
	Lie:     "I once won a chess tournament in Reykjavik.",
	Opening: "Let's begin! Two of these are true and one is a lie.",
}

// Scripted returns a fixed round and canned replies. Used for local
// development and tests; failures can be injected.
type Scripted struct {
	set Statements

	mu              sync.Mutex
	failStatements  int
	failReplies     int
	statementsCalls int
	replyCalls      int
}

func NewScripted(set Statements) *Scripted {
	return &Scripted{set: set}
}

// FailNext makes the next n Statements calls and m Reply calls fail.
func (s *Scripted) FailNext(n, m int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatements = n
	s.failReplies = m
}

func (s *Scripted) Calls() (statements, replies int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statementsCalls, s.replyCalls
}

func (s *Scripted) Statements(ctx context.Context) (Statements, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statementsCalls++
	if err := ctx.Err(); err != nil {
		return Statements{}, &GeneratorError{Backend: BackendScripted, Err: err}
	}
	if s.failStatements > 0 {
		s.failStatements--
		return Statements{}, &GeneratorError{Backend: BackendScripted, Err: errors.New("injected failure")}
	}
	return s.set, nil
}

func (s *Scripted) Reply(ctx context.Context, st Statements, history []Message, msg string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replyCalls++
	if err := ctx.Err(); err != nil {
		return "", &GeneratorError{Backend: BackendScripted, Err: err}
	}
	if s.failReplies > 0 {
		s.failReplies--
		return "", &GeneratorError{Backend: BackendScripted, Err: errors.New("injected failure")}
	}
	return fmt.Sprintf("You asked %q. I'm not giving anything away yet, which one do you think is the lie?", msg), nil
}
