package narrative

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

const DefaultOllamaBaseURL = "http://localhost:11434"

type Ollama struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

type ollamaRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type ollamaResponse struct {
	Model     string  `json:"model"`
	CreatedAt string  `json:"created_at"`
	Message   Message `json:"message"`
	Done      bool    `json:"done"`
}

func (o *Ollama) name() string { return "ollama" }

func (o *Ollama) complete(ctx context.Context, messages []Message) (string, error) {
	base := o.BaseURL
	if base == "" {
		base = DefaultOllamaBaseURL
	}

	var resp ollamaResponse
	if err := postJSON(ctx, o.Client, o.name(), strings.TrimSuffix(base, "/")+"/api/chat", nil,
		ollamaRequest{Model: o.Model, Messages: messages, Stream: false}, &resp); err != nil {
		return "", err
	}
	if resp.Message.Content == "" {
		return "", errors.New("empty response from ollama")
	}
	return resp.Message.Content, nil
}
