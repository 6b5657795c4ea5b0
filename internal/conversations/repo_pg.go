package conversations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"contract-backend/internal/shared/storage/db"
)

type PGRepo struct {
	DB *sql.DB
}

func (r *PGRepo) GetSessionByJob(ctx context.Context, jobID string) (Session, error) {
	return getSessionByJob(ctx, r.DB, jobID)
}

func (r *PGRepo) EnsureSession(ctx context.Context, s Session) (Session, error) {
	return ensureSession(ctx, r.DB, s)
}

func (r *PGRepo) AppendMessage(ctx context.Context, m Message) (Message, error) {
	var out Message
	err := db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		var err error
		out, err = appendMessage(ctx, tx, m)
		return err
	})
	if err != nil {
		return Message{}, err
	}
	return out, nil
}

func (r *PGRepo) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT id, session_id, seq, role, content, created_at
FROM chat_messages
WHERE session_id = $1
ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Seq, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SeedTx ensures the job's session and appends msg using q, which is normally the
// transaction that also commits the analysis result.
func SeedTx(ctx context.Context, q db.DBTX, s Session, msg Message) error {
	session, err := ensureSession(ctx, q, s)
	if err != nil {
		return err
	}
	msg.SessionID = session.ID
	_, err = appendMessage(ctx, q, msg)
	return err
}

func getSessionByJob(ctx context.Context, q db.DBTX, jobID string) (Session, error) {
	var s Session
	err := q.QueryRowContext(ctx, `
SELECT id, account_id, job_id, title, created_at
FROM chat_sessions
WHERE job_id = $1`, jobID).Scan(&s.ID, &s.AccountID, &s.JobID, &s.Title, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

func ensureSession(ctx context.Context, q db.DBTX, s Session) (Session, error) {
	if _, err := q.ExecContext(ctx, `
INSERT INTO chat_sessions (id, account_id, job_id, title, created_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (job_id) DO NOTHING`, s.ID, s.AccountID, s.JobID, s.Title); err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	return getSessionByJob(ctx, q, s.JobID)
}

// appendMessage locks the session row before taking a seq, so messages of one
// session commit in seq order. q must be a transaction.
func appendMessage(ctx context.Context, q db.DBTX, m Message) (Message, error) {
	var locked string
	if err := q.QueryRowContext(ctx, `SELECT id FROM chat_sessions WHERE id = $1 FOR UPDATE`, m.SessionID).Scan(&locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Message{}, ErrNotFound
		}
		return Message{}, fmt.Errorf("lock session: %w", err)
	}
	err := q.QueryRowContext(ctx, `
INSERT INTO chat_messages (id, session_id, role, content)
VALUES ($1, $2, $3, $4)
RETURNING seq, created_at`, m.ID, m.SessionID, string(m.Role), m.Content).Scan(&m.Seq, &m.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}
