package chat

import (
	"context"
	"errors"

	"github.com/suPer8Hu/aiverse/internal/common"
	"gorm.io/gorm"
)

// ErrStaleVersion means the session changed since it was loaded.
var ErrStaleVersion = errors.New("chat: session was modified concurrently")

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateSession(ctx context.Context, s *Session) error {
	if s.Messages == nil {
		s.Messages = []Message{}
	}
	if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
		return common.Persistence(err)
	}
	return nil
}

func (r *Repo) GetSessionBySessionID(ctx context.Context, sessionID string) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NotFound("session not found")
		}
		return nil, common.Persistence(err)
	}
	if s.Messages == nil {
		s.Messages = []Message{}
	}
	return &s, nil
}

// ListSessionsByOwner returns the user's sessions newest first.
func (r *Repo) ListSessionsByOwner(ctx context.Context, userID uint64) ([]Session, error) {
	sessions := []Session{}
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&sessions).Error; err != nil {
		return nil, common.Persistence(err)
	}
	for i := range sessions {
		if sessions[i].Messages == nil {
			sessions[i].Messages = []Message{}
		}
	}
	return sessions, nil
}

func (r *Repo) DeleteSession(ctx context.Context, sessionID string) error {
	res := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Delete(&Session{})
	if res.Error != nil {
		return common.Persistence(res.Error)
	}
	if res.RowsAffected == 0 {
		return common.NotFound("session not found")
	}
	return nil
}

// SaveSession overwrites title and messages in one statement, but only if
// the stored version is still the one s was loaded with. On success s.Version
// is advanced.
func (r *Repo) SaveSession(ctx context.Context, s *Session) error {
	loaded := s.Version
	s.Version = loaded + 1

	res := r.db.WithContext(ctx).
		Model(s).
		Where("version = ?", loaded).
		Select("title", "messages", "version", "updated_at").
		Updates(s)
	if res.Error != nil {
		s.Version = loaded
		return common.Persistence(res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	s.Version = loaded
	var n int64
	if err := r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ?", s.ID).
		Count(&n).Error; err != nil {
		return common.Persistence(err)
	}
	if n == 0 {
		return common.NotFound("session not found")
	}
	return common.Conflict("session was modified concurrently, retry", ErrStaleVersion)
}
