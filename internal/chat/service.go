package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/aiverse/internal/ai"
	"github.com/suPer8Hu/aiverse/internal/common"
)

type Options struct {
	// ContextWindow caps how many messages, the new one included, are sent to
	// the provider. 0 replays the full transcript.
	ContextWindow int
	ReplyTimeout  time.Duration
	TitleTimeout  time.Duration
	// LockTTL is raised to cover a reply and a title call plus lockMargin.
	LockTTL  time.Duration
	LockWait time.Duration
}

const lockMargin = 10 * time.Second

func (o Options) withDefaults() Options {
	if o.ContextWindow < 0 || o.ContextWindow > 1000 {
		o.ContextWindow = 0
	}
	if o.ReplyTimeout <= 0 {
		o.ReplyTimeout = 90 * time.Second
	}
	if o.TitleTimeout <= 0 {
		o.TitleTimeout = 20 * time.Second
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 2 * time.Minute
	}
	if hold := o.ReplyTimeout + o.TitleTimeout + lockMargin; o.LockTTL < hold {
		o.LockTTL = hold
	}
	if o.LockWait <= 0 {
		o.LockWait = 30 * time.Second
	}
	return o
}

type Service struct {
	repo     *Repo
	provider ai.Provider
	titles   *TitleGenerator
	locker   Locker
	opts     Options
	now      func() time.Time
}

func NewService(repo *Repo, provider ai.Provider, locker Locker, opts Options) *Service {
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &Service{
		repo:     repo,
		provider: provider,
		titles:   NewTitleGenerator(provider),
		locker:   locker,
		opts:     opts.withDefaults(),
		now:      time.Now,
	}
}

func (s *Service) CreateSession(ctx context.Context, userID uint64) (*Session, error) {
	if userID == 0 {
		return nil, common.Validation("userId is required")
	}

	sid, err := common.NewULID()
	if err != nil {
		return nil, err
	}

	session := &Session{
		SessionID: sid,
		UserID:    userID,
		Title:     DefaultTitle,
		Messages:  []Message{},
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Service) ListSessions(ctx context.Context, userID uint64) ([]Session, error) {
	if userID == 0 {
		return nil, common.Validation("userId is required")
	}
	return s.repo.ListSessionsByOwner(ctx, userID)
}

// GetSession hides sessions of other users behind NotFound.
func (s *Service) GetSession(ctx context.Context, userID uint64, sessionID string) (*Session, error) {
	return s.loadOwned(ctx, userID, sessionID)
}

func (s *Service) History(ctx context.Context, userID uint64, sessionID string) ([]Message, error) {
	session, err := s.loadOwned(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	return session.Messages, nil
}

func (s *Service) DeleteSession(ctx context.Context, userID uint64, sessionID string) error {
	session, err := s.loadOwned(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	return s.repo.DeleteSession(ctx, session.SessionID)
}

// SendMessage runs one exchange: the user turn and the model reply are either
// both stored or neither is.
func (s *Service) SendMessage(ctx context.Context, userID uint64, sessionID string, content string) (reply string, title string, err error) {
	if strings.TrimSpace(content) == "" {
		return "", "", common.Validation("message is required")
	}
	sessionID, err = canonicalID(sessionID)
	if err != nil {
		return "", "", err
	}

	unlock, err := s.lock(ctx, sessionID)
	if err != nil {
		return "", "", err
	}
	defer unlock()

	// 1) load and verify ownership
	session, err := s.loadOwned(ctx, userID, sessionID)
	if err != nil {
		return "", "", err
	}

	// 2) replay the transcript in stored order, then the new turn
	history := session.Messages
	if w := s.opts.ContextWindow; w > 0 && len(history) > w-1 {
		history = history[len(history)-(w-1):]
	}
	providerMsgs := providerMessages(history)
	providerMsgs = append(providerMsgs, ai.Message{Role: ai.RoleUser, Content: content})

	// 3) call provider; nothing is mutated if it fails
	start := time.Now()
	rctx, cancel := context.WithTimeout(ctx, s.opts.ReplyTimeout)
	reply, err = s.provider.Chat(rctx, providerMsgs)
	cancel()
	providerCost := time.Since(start)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).
			Str("chat_id", sessionID).
			Dur("provider", providerCost).
			Msg("provider reply failed")
		return "", "", common.Upstream(err)
	}

	// 4) append both turns
	session.Append(RoleUser, content, s.now())
	session.Append(RoleModel, reply, s.now())

	// 5) first title once there is a full turn to read
	if session.Title == DefaultTitle && len(session.Messages) >= 2 {
		tctx, cancel := context.WithTimeout(ctx, s.opts.TitleTimeout)
		session.Title = s.titles.Generate(tctx, session.Messages)
		cancel()
	}

	// 6) persist as one write
	if err := s.repo.SaveSession(ctx, session); err != nil {
		return "", "", err
	}

	log.Ctx(ctx).Debug().
		Str("chat_id", sessionID).
		Int("messages", len(session.Messages)).
		Dur("provider", providerCost).
		Dur("total", time.Since(start)).
		Msg("chat exchange stored")

	return reply, session.Title, nil
}

// RefreshTitle recomputes the title even if one was set before. A provider
// failure keeps the current title.
func (s *Service) RefreshTitle(ctx context.Context, userID uint64, sessionID string) (string, error) {
	sessionID, err := canonicalID(sessionID)
	if err != nil {
		return "", err
	}
	unlock, err := s.lock(ctx, sessionID)
	if err != nil {
		return "", err
	}
	defer unlock()

	session, err := s.loadOwned(ctx, userID, sessionID)
	if err != nil {
		return "", err
	}

	tctx, cancel := context.WithTimeout(ctx, s.opts.TitleTimeout)
	title, err := s.titles.generate(tctx, session.Messages)
	cancel()
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("chat_id", sessionID).Msg("title refresh failed, keeping current title")
		return session.Title, nil
	}
	if title == session.Title {
		return title, nil
	}

	session.Title = title
	if err := s.repo.SaveSession(ctx, session); err != nil {
		return "", err
	}
	return title, nil
}

// canonicalID validates a chat id and returns its canonical upper case form,
// so every spelling maps to one lock key and one row.
func canonicalID(sessionID string) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", common.Validation("chatId is required")
	}
	id, ok := common.CanonicalULID(sessionID)
	if !ok {
		return "", common.NotFound("session not found")
	}
	return id, nil
}

func (s *Service) loadOwned(ctx context.Context, userID uint64, sessionID string) (*Session, error) {
	sessionID, err := canonicalID(sessionID)
	if err != nil {
		return nil, err
	}
	session, err := s.repo.GetSessionBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil || session.UserID != userID {
		return nil, common.NotFound("session not found")
	}
	return session, nil
}

func (s *Service) lock(ctx context.Context, sessionID string) (func(), error) {
	wctx, cancel := context.WithTimeout(ctx, s.opts.LockWait)
	defer cancel()

	unlock, err := s.locker.Lock(wctx, lockKey(sessionID), s.opts.LockTTL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, common.Conflict("chat session is busy, retry later", err)
		}
		return nil, common.Persistence(err)
	}
	return unlock, nil
}

func lockKey(sessionID string) string {
	return "chat:lock:" + sessionID
}
