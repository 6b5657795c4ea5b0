package conversations

import "context"

type Repo interface {
	// GetSessionByJob returns ErrNotFound when the job has no session yet.
	GetSessionByJob(ctx context.Context, jobID string) (Session, error)
	// EnsureSession returns the job's session, creating s when none exists.
	EnsureSession(ctx context.Context, s Session) (Session, error)
	// AppendMessage stores m at the end of its session and returns it with Seq and CreatedAt set.
	AppendMessage(ctx context.Context, m Message) (Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]Message, error)
}
