package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/learnhub/learnhub/internal/config"
	"github.com/learnhub/learnhub/internal/credits"
	"github.com/learnhub/learnhub/internal/database"
)

const (
	reasonChatMessage = "chat_message"
	refChatMessage    = "chat_message"
	defaultRecent     = 20
)

// Charger draws credits for a message.
type Charger interface {
	Consume(ctx context.Context, req credits.ConsumeRequest) (*credits.ConsumeResult, error)
}

// ClassroomAccess answers whether a user belongs to a classroom.
type ClassroomAccess interface {
	IsTeacher(ctx context.Context, classroomID, userID uuid.UUID) (bool, error)
	IsMember(ctx context.Context, classroomID, studentID uuid.UUID) (bool, error)
}

type Service struct {
	repo       Repository
	history    *History
	charger    Charger
	classrooms ClassroomAccess
	cost       decimal.Decimal
	now        func() time.Time
}

func NewService(repo Repository, history *History, charger Charger, classrooms ClassroomAccess, cfg config.ChatConfig) *Service {
	return &Service{
		repo:       repo,
		history:    history,
		charger:    charger,
		classrooms: classrooms,
		cost:       cfg.CreditsPerMessage,
		now:        time.Now,
	}
}

func (s *Service) CreateSession(ctx context.Context, userID uuid.UUID, req CreateSessionRequest) (*Session, error) {
	if req.ClassroomID != nil {
		ok, err := s.inClassroom(ctx, *req.ClassroomID, userID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrClassroomAccess
		}
	}

	now := s.now().UTC()
	sess := &Session{
		ID:          uuid.New(),
		UserID:      userID,
		ClassroomID: req.ClassroomID,
		Title:       strings.TrimSpace(req.Title),
		Subject:     strings.TrimSpace(req.Subject),
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) inClassroom(ctx context.Context, classroomID, userID uuid.UUID) (bool, error) {
	ok, err := s.classrooms.IsTeacher(ctx, classroomID, userID)
	if err != nil || ok {
		return ok, err
	}
	return s.classrooms.IsMember(ctx, classroomID, userID)
}

// owned loads a session and checks that userID owns it.
func (s *Service) owned(ctx context.Context, sessionID, userID uuid.UUID) (*Session, error) {
	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	if sess.UserID != userID {
		return nil, ErrNotSessionOwner
	}
	return sess, nil
}

// PostMessage charges the configured per-message cost and stores the user's
// message in the same transaction. Either both land or neither does.
func (s *Service) PostMessage(ctx context.Context, userID, sessionID uuid.UUID, content string) (*PostResult, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	sess, err := s.owned(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if !sess.IsActive {
		return nil, ErrSessionClosed
	}

	m := &Message{
		ID:             uuid.New(),
		SessionID:      sess.ID,
		Sender:         SenderUser,
		Content:        content,
		CreditsCharged: decimal.Zero,
	}

	res := &PostResult{Message: m}
	m.CreatedAt = s.now().UTC()
	if !s.cost.IsPositive() {
		if err := s.repo.InsertMessage(ctx, m); err != nil {
			return nil, fmt.Errorf("storing chat message: %w", err)
		}
		s.remember(ctx, m)
		return res, nil
	}

	m.CreditsCharged = s.cost
	charged, err := s.charger.Consume(ctx, credits.ConsumeRequest{
		UserID:        userID,
		Amount:        s.cost,
		Reason:        reasonChatMessage,
		ReferenceID:   m.ID.String(),
		ReferenceType: refChatMessage,
		ClassroomID:   sess.ClassroomID,
		ChatRoomID:    &sess.ID,
		Within: func(ctx context.Context, db database.DBTX) error {
			if err := s.repo.InsertMessageTx(ctx, db, m); err != nil {
				return fmt.Errorf("storing chat message: %w", err)
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	res.Balance = charged.Balance
	s.remember(ctx, m)
	return res, nil
}

// AppendAssistantMessage stores a reply produced by the AI service. Replies
// are free.
func (s *Service) AppendAssistantMessage(ctx context.Context, sessionID uuid.UUID, content string) (*Message, error) {
	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	if !sess.IsActive {
		return nil, ErrSessionClosed
	}
	m := &Message{
		ID:             uuid.New(),
		SessionID:      sess.ID,
		Sender:         SenderAssistant,
		Content:        content,
		CreditsCharged: decimal.Zero,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.repo.InsertMessage(ctx, m); err != nil {
		return nil, err
	}
	s.remember(ctx, m)
	return m, nil
}

func (s *Service) remember(ctx context.Context, m *Message) {
	if s.history == nil {
		return
	}
	if err := s.history.Append(ctx, m); err != nil {
		slog.Warn("caching chat history", "error", err, "session_id", m.SessionID)
	}
}

// Recent returns the latest messages of a session, from Redis when cached
// and from Postgres otherwise.
func (s *Service) Recent(ctx context.Context, userID, sessionID uuid.UUID, limit int) ([]Message, error) {
	if _, err := s.owned(ctx, sessionID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultRecent
	}
	if s.history != nil && limit > s.history.size {
		limit = s.history.size
	}
	if s.history != nil {
		msgs, err := s.history.Recent(ctx, sessionID, limit)
		if err == nil && len(msgs) > 0 {
			return msgs, nil
		}
		if err != nil {
			slog.Warn("reading chat history cache", "error", err, "session_id", sessionID)
		}
	}

	msgs, err := s.repo.RecentMessages(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}
	if s.history != nil && len(msgs) > 0 {
		if err := s.history.Fill(ctx, sessionID, msgs); err != nil {
			slog.Warn("refilling chat history cache", "error", err, "session_id", sessionID)
		}
	}
	return msgs, nil
}

func (s *Service) ListSessions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Session, int64, error) {
	return s.repo.ListSessions(ctx, userID, limit, offset)
}

func (s *Service) ListMessages(ctx context.Context, userID, sessionID uuid.UUID, limit, offset int) ([]Message, int64, error) {
	if _, err := s.owned(ctx, sessionID, userID); err != nil {
		return nil, 0, err
	}
	return s.repo.ListMessages(ctx, sessionID, limit, offset)
}

func (s *Service) Close(ctx context.Context, userID, sessionID uuid.UUID) error {
	sess, err := s.owned(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	if !sess.IsActive {
		return nil
	}
	if err := s.repo.CloseSession(ctx, sess.ID, s.now().UTC()); err != nil {
		return err
	}
	if s.history != nil {
		if err := s.history.Clear(ctx, sess.ID); err != nil {
			slog.Warn("clearing chat history cache", "error", err, "session_id", sess.ID)
		}
	}
	return nil
}
