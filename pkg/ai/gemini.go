package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"quillchat/pkg/domain"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiStreamer streams chat completions from the Google AI Studio
// (Gemini) API using its server-sent events endpoint.
type GeminiStreamer struct {
	apiKey       string
	baseURL      string
	model        string
	systemPrompt string
	timeout      time.Duration
	httpClient   *http.Client
}

// NewGeminiStreamer constructs a streaming generator for the Gemini API.
func NewGeminiStreamer(baseURL, apiKey, model, systemPrompt string, timeout time.Duration) (*GeminiStreamer, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key required")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, fmt.Errorf("gemini generation model required")
	}
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	if timeout <= 0 {
		timeout = defaultGenerationTimeout
	}
	return &GeminiStreamer{
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		model:        normalizeGeminiModel(model),
		systemPrompt: strings.TrimSpace(systemPrompt),
		timeout:      timeout,
		httpClient:   &http.Client{},
	}, nil
}

// Stream implements StreamGenerator. The caller must drain the returned
// channel until it is closed.
func (g *GeminiStreamer) Stream(ctx context.Context, history []domain.ChatMessage) (<-chan StreamEvent, error) {
	if len(history) == 0 {
		return nil, fmt.Errorf("chat history required")
	}
	reqBody := geminiGenerateRequest{
		Contents: make([]geminiContent, 0, len(history)),
	}
	if g.systemPrompt != "" {
		reqBody.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: g.systemPrompt}},
		}
	}
	for _, msg := range history {
		role := "user"
		if msg.Role == domain.RoleAssistant {
			role = "model"
		}
		reqBody.Contents = append(reqBody.Contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: msg.Content}},
		})
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", g.baseURL, g.model, g.apiKey)
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("gemini request: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		defer cancel()
		var errResp geminiErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return nil, fmt.Errorf("gemini api error: %s", errResp.Error.Message)
		}
		return nil, fmt.Errorf("gemini api error: %s", resp.Status)
	}

	events := make(chan StreamEvent)
	go func() {
		defer cancel()
		defer resp.Body.Close()
		defer close(events)

		var full strings.Builder
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" || payload == "[DONE]" {
				continue
			}
			var chunk geminiGenerateResponse
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				events <- StreamEvent{Type: EventError, Err: "model provider error"}
				return
			}
			if len(chunk.Candidates) == 0 {
				continue
			}
			for _, p := range chunk.Candidates[0].Content.Parts {
				if p.Text == "" {
					continue
				}
				full.WriteString(p.Text)
				events <- StreamEvent{Type: EventToken, Content: p.Text}
			}
		}
		if err := scanner.Err(); err != nil {
			events <- StreamEvent{Type: EventError, Err: streamErrMessage(err)}
			return
		}
		events <- StreamEvent{Type: EventDone, Content: full.String()}
	}()
	return events, nil
}

func normalizeGeminiModel(model string) string {
	return strings.TrimPrefix(strings.TrimSpace(model), "models/")
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerateRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

type geminiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
