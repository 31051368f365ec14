package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

type OllamaProvider struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3:latest"
	}
	return &OllamaProvider{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Model:   model,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

type ollamaChatReq struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type ollamaChatResp struct {
	Message Message `json:"message"`
	Error   string  `json:"error,omitempty"`
}

// Chat asks a local Ollama server for one non-streamed completion.
func (p *OllamaProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	call := backendCall{name: "ollama", client: p.Client, url: p.BaseURL + "/api/chat"}

	var out ollamaChatResp
	if err := call.post(ctx, ollamaChatReq{Model: p.Model, Messages: messages}, &out); err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", errors.New("ollama: " + out.Error)
	}
	return replyText(out.Message.Content)
}
