package conversations

import (
	"context"
	"sync"
	"time"
)

type MemoryRepo struct {
	mu       sync.RWMutex
	sessions map[string]Session // by job id
	messages map[string][]Message
	seq      int64
	last     time.Time
	now      func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		sessions: make(map[string]Session),
		messages: make(map[string][]Message),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepo) GetSessionByJob(ctx context.Context, jobID string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[jobID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (r *MemoryRepo) EnsureSession(ctx context.Context, s Session) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensureLocked(s), nil
}

func (r *MemoryRepo) AppendMessage(ctx context.Context, m Message) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appendLocked(m), nil
}

func (r *MemoryRepo) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Message(nil), r.messages[sessionID]...), nil
}

// Seed ensures the session and appends msg under one lock, so readers never see one without the other.
func (r *MemoryRepo) Seed(ctx context.Context, s Session, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	session := r.ensureLocked(s)
	msg.SessionID = session.ID
	r.appendLocked(msg)
	return nil
}

// DeleteByJob drops the job's session and its messages.
func (r *MemoryRepo) DeleteByJob(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[jobID]; ok {
		delete(r.messages, s.ID)
		delete(r.sessions, jobID)
	}
	return nil
}

func (r *MemoryRepo) ensureLocked(s Session) Session {
	if existing, ok := r.sessions[s.JobID]; ok {
		return existing
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = r.tickLocked()
	}
	r.sessions[s.JobID] = s
	return s
}

func (r *MemoryRepo) appendLocked(m Message) Message {
	r.seq++
	m.Seq = r.seq
	m.CreatedAt = r.tickLocked()
	r.messages[m.SessionID] = append(r.messages[m.SessionID], m)
	return m
}

// tickLocked returns a timestamp that never goes backwards.
func (r *MemoryRepo) tickLocked() time.Time {
	now := r.now()
	if now.Before(r.last) {
		now = r.last
	}
	r.last = now
	return now
}
