package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"quillchat/pkg/domain"
)

const defaultGenerationTimeout = 120 * time.Second

// OpenAIStreamer streams chat completions from OpenAI or any
// OpenAI-compatible endpoint (vLLM, LiteLLM, OpenRouter, ...).
type OpenAIStreamer struct {
	client       openai.Client
	model        string
	systemPrompt string
	timeout      time.Duration
}

// NewOpenAIStreamer builds a streaming generator. baseURL can be empty for
// the OpenAI platform; apiKey can be empty for local models.
func NewOpenAIStreamer(baseURL, apiKey, model, systemPrompt string, timeout time.Duration) (*OpenAIStreamer, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, fmt.Errorf("openai generation model required")
	}
	options := []option.RequestOption{}
	if strings.TrimSpace(apiKey) != "" {
		options = append(options, option.WithAPIKey(strings.TrimSpace(apiKey)))
	}
	if strings.TrimSpace(baseURL) != "" {
		options = append(options, option.WithBaseURL(strings.TrimRight(strings.TrimSpace(baseURL), "/")))
	}
	if timeout <= 0 {
		timeout = defaultGenerationTimeout
	}
	return &OpenAIStreamer{
		client:       openai.NewClient(options...),
		model:        model,
		systemPrompt: strings.TrimSpace(systemPrompt),
		timeout:      timeout,
	}, nil
}

// Stream implements StreamGenerator. The caller must drain the returned
// channel until it is closed.
func (g *OpenAIStreamer) Stream(ctx context.Context, history []domain.ChatMessage) (<-chan StreamEvent, error) {
	if len(history) == 0 {
		return nil, fmt.Errorf("chat history required")
	}
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if g.systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(g.systemPrompt))
	}
	for _, msg := range history {
		switch msg.Role {
		case domain.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	stream := g.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(g.model),
		Messages: messages,
	})

	events := make(chan StreamEvent)
	go func() {
		defer cancel()
		defer close(events)
		acc := openai.ChatCompletionAccumulator{}
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			events <- StreamEvent{Type: EventToken, Content: delta}
		}
		if err := stream.Err(); err != nil {
			events <- StreamEvent{Type: EventError, Err: streamErrMessage(err)}
			return
		}
		full := ""
		if len(acc.Choices) > 0 {
			full = acc.Choices[0].Message.Content
		}
		events <- StreamEvent{Type: EventDone, Content: full}
	}()
	return events, nil
}

func streamErrMessage(err error) string {
	switch {
	case err == nil:
		return "generation failed"
	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), context.DeadlineExceeded.Error()):
		return "generation timed out"
	case errors.Is(err, context.Canceled) || strings.Contains(err.Error(), context.Canceled.Error()):
		return "generation canceled"
	}
	return "model provider error"
}
