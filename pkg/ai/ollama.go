package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"quillchat/pkg/domain"
)

const defaultOllamaBaseURL = "http://127.0.0.1:11434"

// OllamaStreamer streams chat completions from the Ollama HTTP API.
type OllamaStreamer struct {
	baseURL      string
	model        string
	systemPrompt string
	timeout      time.Duration
	httpClient   *http.Client
}

// NewOllamaStreamer constructs a streaming generator for an Ollama server.
func NewOllamaStreamer(baseURL, model, systemPrompt string, timeout time.Duration) (*OllamaStreamer, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, fmt.Errorf("ollama generation model required")
	}
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	if timeout <= 0 {
		timeout = defaultGenerationTimeout
	}
	return &OllamaStreamer{
		baseURL:      strings.TrimRight(baseURL, "/"),
		model:        model,
		systemPrompt: strings.TrimSpace(systemPrompt),
		timeout:      timeout,
		httpClient:   &http.Client{},
	}, nil
}

// Stream implements StreamGenerator. The caller must drain the returned
// channel until it is closed.
func (g *OllamaStreamer) Stream(ctx context.Context, history []domain.ChatMessage) (<-chan StreamEvent, error) {
	if len(history) == 0 {
		return nil, fmt.Errorf("chat history required")
	}
	messages := make([]ollamaChatMessage, 0, len(history)+1)
	if g.systemPrompt != "" {
		messages = append(messages, ollamaChatMessage{Role: "system", Content: g.systemPrompt})
	}
	for _, msg := range history {
		messages = append(messages, ollamaChatMessage{Role: string(msg.Role), Content: msg.Content})
	}
	body, err := json.Marshal(ollamaChatRequest{
		Model:    g.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		defer cancel()
		var errResp ollamaErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error != "" {
			return nil, fmt.Errorf("ollama api error: %s", errResp.Error)
		}
		return nil, fmt.Errorf("ollama api error: %s", resp.Status)
	}

	events := make(chan StreamEvent)
	go func() {
		defer cancel()
		defer resp.Body.Close()
		defer close(events)

		var full strings.Builder
		decoder := json.NewDecoder(resp.Body)
		for {
			var chunk ollamaChatChunk
			if err := decoder.Decode(&chunk); err != nil {
				events <- StreamEvent{Type: EventError, Err: streamErrMessage(err)}
				return
			}
			if chunk.Error != "" {
				events <- StreamEvent{Type: EventError, Err: "model provider error"}
				return
			}
			if chunk.Message.Content != "" {
				full.WriteString(chunk.Message.Content)
				events <- StreamEvent{Type: EventToken, Content: chunk.Message.Content}
			}
			if chunk.Done {
				events <- StreamEvent{Type: EventDone, Content: full.String()}
				return
			}
		}
	}()
	return events, nil
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type ollamaChatChunk struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
	Error   string            `json:"error"`
}

type ollamaErrorResponse struct {
	Error string `json:"error"`
}
