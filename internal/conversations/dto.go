package conversations

import (
	"strings"
	"time"
)

type postMessageRequest struct {
	Message string `json:"message"`
}

type messageResponse struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

func toMessageResponses(msgs []Message) []messageResponse {
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageResponse{
			ID:        m.ID,
			Role:      strings.ToLower(string(m.Role)),
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		})
	}
	return out
}
