package conversations

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openaiclient "github.com/openai/openai-go/v2"
	openaioption "github.com/openai/openai-go/v2/option"
)

const (
	ReplyRisk    = "Dựa trên phân tích, rủi ro lớn nhất là điều khoản thanh toán."
	ReplyDefault = "Hệ thống đang phân tích..."

	historyWindow = 20
)

// ReplyInput is what a reply backend sees for one user turn. History is in
// session order and includes the triggering message.
type ReplyInput struct {
	JobSummary string
	History    []Message
	Text       string
}

// Replier produces the AI turn that follows a user message.
type Replier interface {
	Reply(ctx context.Context, in ReplyInput) (string, error)
}

// KeywordReplier answers from a fixed table.
type KeywordReplier struct{}

func (KeywordReplier) Reply(_ context.Context, in ReplyInput) (string, error) {
	return cannedReply(in.Text), nil
}

func cannedReply(text string) string {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "rủi ro") || strings.Contains(lower, "risk") {
		return ReplyRisk
	}
	return ReplyDefault
}

type chatCompleter interface {
	New(ctx context.Context, body openaiclient.ChatCompletionNewParams, opts ...openaioption.RequestOption) (*openaiclient.ChatCompletion, error)
}

// OpenAIReplier asks a chat completion model, grounded on the job's stored summary.
type OpenAIReplier struct {
	completions chatCompleter
	model       string
}

func NewOpenAIReplier(apiKey, baseURL, model string) (*OpenAIReplier, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai api key is required")
	}
	opts := []openaioption.RequestOption{
		openaioption.WithAPIKey(apiKey),
		openaioption.WithMaxRetries(0),
	}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, openaioption.WithBaseURL(baseURL))
	}
	client := openaiclient.NewClient(opts...)
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIReplier{completions: &client.Chat.Completions, model: model}, nil
}

func (r *OpenAIReplier) Reply(ctx context.Context, in ReplyInput) (string, error) {
	system := "Bạn là trợ lý pháp lý. Trả lời ngắn gọn bằng tiếng Việt về hợp đồng đã được phân tích."
	if in.JobSummary != "" {
		system += "\nTóm tắt phân tích: " + in.JobSummary
	}
	msgs := []openaiclient.ChatCompletionMessageParamUnion{openaiclient.SystemMessage(system)}

	history := in.History
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	for _, m := range history {
		switch m.Role {
		case RoleAI:
			msgs = append(msgs, openaiclient.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openaiclient.UserMessage(m.Content))
		}
	}
	// History normally ends with the triggering message.
	if len(history) == 0 {
		msgs = append(msgs, openaiclient.UserMessage(in.Text))
	}

	resp, err := r.completions.New(ctx, openaiclient.ChatCompletionNewParams{
		Model:    openaiclient.ChatModel(r.model),
		Messages: msgs,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("chat completion returned empty content")
	}
	return text, nil
}
