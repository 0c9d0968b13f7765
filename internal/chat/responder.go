// Package chat produces the assistant replies for the chat endpoint.
package chat

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/theravoice/theravoice/internal/logger"
)

// SystemPrompt frames every model conversation
const SystemPrompt = "You are a compassionate mental health assistant. Provide warm, empathetic responses to users' concerns. Keep responses concise and supportive."

// CannedReplies are used when no model is configured or the model call fails
var CannedReplies = []string{
	"I understand you're feeling that way. Would you like to talk more about it?",
	"That sounds challenging. How does that make you feel?",
	"I'm here to listen. Can you tell me more about what's on your mind?",
	"It's okay to feel that way. Would you like to explore those feelings further?",
	"Thank you for sharing that with me. How can I support you right now?",
}

// Responder turns a user message into an assistant reply
type Responder interface {
	Reply(ctx context.Context, text string) (string, error)
}

// CannedResponder picks one of CannedReplies uniformly
type CannedResponder struct {
	pick func(n int) int
}

// NewCannedResponder creates a CannedResponder
func NewCannedResponder() *CannedResponder {
	return &CannedResponder{pick: rand.IntN}
}

// Reply implements Responder
func (c *CannedResponder) Reply(_ context.Context, _ string) (string, error) {
	return CannedReplies[c.pick(len(CannedReplies))], nil
}

// OpenAIConfig configures the model-backed responder
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// OpenAIResponder asks a chat completion model for the reply
type OpenAIResponder struct {
	client   *openai.Client
	model    string
	fallback *CannedResponder
	log      logger.Logger
}

// NewOpenAIResponder creates an OpenAIResponder
func NewOpenAIResponder(cfg OpenAIConfig, log logger.Logger) (*OpenAIResponder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if log == nil {
		log = logger.Default()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIResponder{
		client:   openai.NewClientWithConfig(clientConfig),
		model:    cfg.Model,
		fallback: NewCannedResponder(),
		log:      log.WithComponent(logger.ComponentChat),
	}, nil
}

// Reply implements Responder. Provider failures degrade to a canned reply.
func (o *OpenAIResponder) Reply(ctx context.Context, text string) (string, error) {
	reply, err := o.complete(ctx, text)
	if err != nil {
		o.log.WarnContext(ctx, "Chat completion failed, using canned reply", "model", o.model, "error", err)
		return o.fallback.Reply(ctx, text)
	}
	return reply, nil
}

func (o *OpenAIResponder) complete(ctx context.Context, text string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty chat response")
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", fmt.Errorf("empty chat response")
	}
	return reply, nil
}

var (
	_ Responder = (*CannedResponder)(nil)
	_ Responder = (*OpenAIResponder)(nil)
)
