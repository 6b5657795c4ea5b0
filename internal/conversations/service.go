package conversations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"contract-backend/internal/shared/metrics"
	"contract-backend/internal/shared/telemetry"
)

const MaxMessageRunes = 4000

// JobContext is what the conversation needs to know about the job it hangs off.
type JobContext struct {
	AccountID string
	Summary   string
}

// JobLookup resolves a job for ownership checks and reply grounding.
type JobLookup interface {
	JobContext(ctx context.Context, jobID string) (JobContext, error)
}

// TaskRunner runs fn outside the request path.
type TaskRunner interface {
	Go(name string, fn func(ctx context.Context)) error
}

type Service struct {
	Repo    Repo
	Jobs    JobLookup
	Replier Replier
	Tasks   TaskRunner
}

func NewService(repo Repo, jobs JobLookup, replier Replier, tasks TaskRunner) *Service {
	if replier == nil {
		replier = KeywordReplier{}
	}
	return &Service{Repo: repo, Jobs: jobs, Replier: replier, Tasks: tasks}
}

// PostMessage durably appends the user's message and schedules the reply.
// It returns once the user message is stored.
func (s *Service) PostMessage(ctx context.Context, accountID, jobID, text string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxMessageRunes {
		return Message{}, ErrMessageTooLong
	}
	job, err := s.ownedJob(ctx, accountID, jobID)
	if err != nil {
		return Message{}, err
	}

	session, err := s.Repo.EnsureSession(ctx, Session{
		ID:        uuid.NewString(),
		AccountID: accountID,
		JobID:     jobID,
		Title:     TitleDefault,
	})
	if err != nil {
		return Message{}, fmt.Errorf("ensure session: %w", err)
	}
	userMsg, err := s.Repo.AppendMessage(ctx, Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Role:      RoleUser,
		Content:   text,
	})
	if err != nil {
		return Message{}, fmt.Errorf("append user message: %w", err)
	}

	reply := func(taskCtx context.Context) { s.reply(taskCtx, session, job.Summary, userMsg) }
	if s.Tasks == nil {
		go reply(context.Background())
		return userMsg, nil
	}
	if err := s.Tasks.Go("conversation.reply", reply); err != nil {
		telemetry.Error("conversation.reply_schedule_failed", map[string]any{
			"job_id":     jobID,
			"session_id": session.ID,
			"error":      err,
		})
	}
	return userMsg, nil
}

// Fetch returns the job's conversation in session order. No session yields an empty list.
func (s *Service) Fetch(ctx context.Context, accountID, jobID string) ([]Message, error) {
	if _, err := s.ownedJob(ctx, accountID, jobID); err != nil {
		return nil, err
	}
	session, err := s.Repo.GetSessionByJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return []Message{}, nil
		}
		return nil, err
	}
	msgs, err := s.Repo.ListMessages(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}

func (s *Service) ownedJob(ctx context.Context, accountID, jobID string) (JobContext, error) {
	job, err := s.Jobs.JobContext(ctx, jobID)
	if err != nil {
		if errors.Is(err, ErrJobNotAvailable) {
			return JobContext{}, ErrJobNotAvailable
		}
		return JobContext{}, err
	}
	if job.AccountID != accountID {
		return JobContext{}, ErrJobNotAvailable
	}
	return job, nil
}

func (s *Service) reply(ctx context.Context, session Session, summary string, trigger Message) {
	history, err := s.Repo.ListMessages(ctx, session.ID)
	if err != nil {
		history = []Message{trigger}
	}
	text, err := s.Replier.Reply(ctx, ReplyInput{JobSummary: summary, History: history, Text: trigger.Content})
	if err != nil {
		telemetry.Warn("conversation.reply_fallback", map[string]any{
			"job_id":     session.JobID,
			"session_id": session.ID,
			"error":      err,
		})
		text = cannedReply(trigger.Content)
	}
	if _, err := s.Repo.AppendMessage(ctx, Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Role:      RoleAI,
		Content:   text,
	}); err != nil {
		telemetry.Error("conversation.reply_failed", map[string]any{
			"job_id":     session.JobID,
			"session_id": session.ID,
			"error":      err,
		})
		return
	}
	metrics.IncReplies()
}
