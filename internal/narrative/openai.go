package narrative

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAI talks to any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	BaseURL string
	APIKey  string
	Model   string
	Client  *http.Client
}

type openAIRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int     `json:"index"`
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
}

func (o *OpenAI) name() string { return "openai" }

func (o *OpenAI) complete(ctx context.Context, messages []Message) (string, error) {
	if o.APIKey == "" {
		return "", errors.New("openai api key not set")
	}
	base := o.BaseURL
	if base == "" {
		base = DefaultOpenAIBaseURL
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+o.APIKey)

	var resp openAIResponse
	if err := postJSON(ctx, o.Client, o.name(), strings.TrimSuffix(base, "/")+"/chat/completions", header,
		openAIRequest{Model: o.Model, Messages: messages}, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty response from openai")
	}
	return resp.Choices[0].Message.Content, nil
}
