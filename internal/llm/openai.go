package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/hackgods/sms-booking-engine/internal/conversation"
	"github.com/hackgods/sms-booking-engine/internal/metrics"
)

var ErrNoChoices = errors.New("llm: completion returned no choices")

// ChatClient is the part of *openai.Client the bridge uses.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type OpenAIBridge struct {
	client       ChatClient
	model        string
	timeout      time.Duration
	businessName string
	metrics      *metrics.Metrics
	log          zerolog.Logger
}

func NewOpenAIBridge(client ChatClient, model string, timeout time.Duration, businessName string, m *metrics.Metrics, logger zerolog.Logger) *OpenAIBridge {
	if model == "" {
		model = openai.GPT4oMini
	}
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	return &OpenAIBridge{
		client:       client,
		model:        model,
		timeout:      timeout,
		businessName: businessName,
		metrics:      m,
		log:          logger.With().Str("component", "llm").Logger(),
	}
}

var tools = []openai.Tool{
	{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        FuncBookAppointment,
			Description: "The client picked a service, a date and a time.",
			Parameters: jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"service": {Type: jsonschema.String, Description: "Service name exactly as listed"},
					"date":    {Type: jsonschema.String, Description: "Date as YYYY-MM-DD"},
					"time":    {Type: jsonschema.String, Description: "Start time as HH:MM, 24-hour"},
				},
				Required: []string{"service", "date", "time"},
			},
		},
	},
	{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        FuncCheckAvailability,
			Description: "The client wants to know open times for a service on a date.",
			Parameters: jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"service": {Type: jsonschema.String, Description: "Service name exactly as listed"},
					"date":    {Type: jsonschema.String, Description: "Date as YYYY-MM-DD"},
				},
				Required: []string{"date"},
			},
		},
	},
}

// Interpret asks the model for a tool call or a short reply. The call is
// bounded by the bridge timeout regardless of ctx.
func (b *OpenAIBridge) Interpret(ctx context.Context, req Request) (Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	start := time.Now()
	resp, err := b.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:       b.model,
		Messages:    b.messages(req),
		Tools:       tools,
		Temperature: 0,
		MaxTokens:   200,
	})
	latency := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
	}
	b.metrics.LLM(b.model, status, latency)
	b.log.Debug().Str("model", b.model).Dur("latency", latency).Str("status", status).Msg("llm completion finished")

	if err != nil {
		return nil, fmt.Errorf("llm: completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoices
	}

	msg := resp.Choices[0].Message
	for _, call := range msg.ToolCalls {
		if call.Type != openai.ToolTypeFunction {
			continue
		}
		args, err := decodeArgs(call.Function.Arguments)
		if err != nil {
			return nil, fmt.Errorf("llm: tool %s: %w", call.Function.Name, err)
		}
		return FunctionCall{Name: call.Function.Name, Args: args}, nil
	}
	return PlainText{Text: strings.TrimSpace(msg.Content)}, nil
}

func (b *OpenAIBridge) messages(req Request) []openai.ChatCompletionMessage {
	out := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(b.businessName, req)}}
	for _, turn := range req.History {
		role := openai.ChatMessageRoleUser
		if turn.Role == conversation.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: turn.Text})
	}
	if req.Message != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Message})
	}
	return out
}

func systemPrompt(business string, req Request) string {
	var b strings.Builder
	if business == "" {
		business = "the spa"
	}
	fmt.Fprintf(&b, "You help clients book appointments at %s by SMS. Today is %s (%s).\n", business, req.Today, req.Today.Weekday())
	b.WriteString("Services:\n")
	for _, svc := range req.Services {
		fmt.Fprintf(&b, "- %s (%d min, %s)\n", svc.Name, svc.DurationMinutes, svc.Price())
	}
	fmt.Fprintf(&b, "Current step: %s.", req.State.Step)
	if req.State.Date != nil {
		fmt.Fprintf(&b, " Chosen date: %s.", req.State.Date)
	}
	if req.State.Time != nil {
		fmt.Fprintf(&b, " Chosen time: %s.", req.State.Time)
	}
	b.WriteString("\nCall a tool when the client names a service, date or time. Otherwise answer in one short sentence and never invent open times.")
	return b.String()
}

// decodeArgs flattens the tool arguments into strings.
func decodeArgs(raw string) (map[string]string, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case string:
			out[k] = strings.TrimSpace(t)
		case nil:
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	return out, nil
}
