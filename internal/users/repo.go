package users

import (
	"context"
	"errors"

	"github.com/suPer8Hu/aiverse/internal/common"
	"github.com/suPer8Hu/aiverse/internal/models"
	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// GetByEmail returns (nil, nil) when no user has the email.
func (r *Repo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, common.Persistence(err)
	}
	return &u, nil
}

func (r *Repo) GetByID(ctx context.Context, id uint64) (*models.User, error) {
	var u models.User
	err := r.db.WithContext(ctx).First(&u, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, common.Persistence(err)
	}
	return &u, nil
}

// Create inserts u. A concurrent registration of the same email loses on the
// unique index and is reported as a validation error.
func (r *Repo) Create(ctx context.Context, u *models.User) error {
	err := r.db.WithContext(ctx).Create(u).Error
	if err == nil {
		return nil
	}
	existing, getErr := r.GetByEmail(ctx, u.Email)
	if getErr == nil && existing != nil {
		return common.Validation("Email already registered")
	}
	return common.Persistence(err)
}
