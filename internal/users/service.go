package users

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/aiverse/internal/auth"
	"github.com/suPer8Hu/aiverse/internal/common"
	"github.com/suPer8Hu/aiverse/internal/email"
	"github.com/suPer8Hu/aiverse/internal/models"
	"github.com/suPer8Hu/aiverse/internal/store/redisstore"
)

const (
	CodeTTL     = 15 * time.Minute
	VerifiedTTL = 30 * time.Minute
)

// CodeStore keeps verification codes and the verified marker.
type CodeStore interface {
	SaveVerificationCode(ctx context.Context, email, code string, ttl time.Duration) error
	ConsumeVerificationCode(ctx context.Context, email, code string) error
	MarkEmailVerified(ctx context.Context, email string, ttl time.Duration) error
	ConsumeEmailVerified(ctx context.Context, email string) (bool, error)
}

type Service struct {
	repo      *Repo
	codes     CodeStore
	mail      email.Sender
	jwtSecret string
}

func NewService(repo *Repo, codes CodeStore, mail email.Sender, jwtSecret string) *Service {
	if mail == nil {
		mail = email.LogSender{}
	}
	return &Service{repo: repo, codes: codes, mail: mail, jwtSecret: jwtSecret}
}

type RegisterInput struct {
	Name     string
	Email    string
	Password string
	DOB      string
}

func normalizeEmail(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return "", common.Validation("valid email is required")
	}
	return s, nil
}

// randomCode returns a 6 digit code in [100000, 999999].
func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

func (s *Service) SendVerificationCode(ctx context.Context, rawEmail string) error {
	addr, err := normalizeEmail(rawEmail)
	if err != nil {
		return err
	}

	existing, err := s.repo.GetByEmail(ctx, addr)
	if err != nil {
		return err
	}
	if existing != nil {
		return common.Validation("Email already registered")
	}

	code, err := randomCode()
	if err != nil {
		return err
	}
	if err := s.codes.SaveVerificationCode(ctx, addr, code, CodeTTL); err != nil {
		return common.Persistence(err)
	}

	if err := s.mail.Send(ctx, email.Mail{
		To:      addr,
		Subject: "Email Verification Code",
		Body:    "Your verification code is: " + code + "\n\nIt expires in 15 minutes.",
	}); err != nil {
		return fmt.Errorf("send verification mail: %w", err)
	}
	return nil
}

// VerifyCode consumes a matching code and marks the email as verified for
// the following registration.
func (s *Service) VerifyCode(ctx context.Context, rawEmail, code string) error {
	addr, err := normalizeEmail(rawEmail)
	if err != nil {
		return err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return common.Validation("code is required")
	}

	err = s.codes.ConsumeVerificationCode(ctx, addr, code)
	switch {
	case errors.Is(err, redisstore.ErrCodeMismatch), errors.Is(err, redisstore.ErrCodeNotFound):
		return common.Validation("Invalid or expired code")
	case err != nil:
		return common.Persistence(err)
	}

	if err := s.codes.MarkEmailVerified(ctx, addr, VerifiedTTL); err != nil {
		return common.Persistence(err)
	}
	return nil
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	name := strings.TrimSpace(in.Name)
	dob := strings.TrimSpace(in.DOB)
	if name == "" || dob == "" {
		return nil, common.Validation("name, email, password and dob are required")
	}
	addr, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if len(in.Password) < auth.MinPasswordLen {
		return nil, common.Validation("Password must be at least 6 characters")
	}
	if len(in.Password) > 72 {
		return nil, common.Validation("Password must be at most 72 bytes")
	}

	existing, err := s.repo.GetByEmail(ctx, addr)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, common.Validation("Email already registered")
	}

	verified, err := s.codes.ConsumeEmailVerified(ctx, addr)
	if err != nil {
		return nil, common.Persistence(err)
	}
	if !verified {
		return nil, common.Validation("Email must be verified first")
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Name:          name,
		Email:         addr,
		PasswordHash:  hash,
		DOB:           dob,
		EmailVerified: true,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if !errors.Is(err, common.ErrValidation) {
			// the insert failed, not the user: keep the email verified
			if rerr := s.codes.MarkEmailVerified(ctx, addr, VerifiedTTL); rerr != nil {
				log.Ctx(ctx).Warn().Err(rerr).Str("email", addr).Msg("restore verified marker failed")
			}
		}
		return nil, err
	}
	log.Ctx(ctx).Info().Uint64("user_id", user.ID).Msg("user registered")
	return user, nil
}

// Login returns a signed access token for valid credentials.
func (s *Service) Login(ctx context.Context, rawEmail, password string) (string, *models.User, error) {
	addr := strings.ToLower(strings.TrimSpace(rawEmail))
	if addr == "" || password == "" {
		return "", nil, common.Validation("email and password are required")
	}

	user, err := s.repo.GetByEmail(ctx, addr)
	if err != nil {
		return "", nil, err
	}
	if user == nil || !auth.CheckPassword(user.PasswordHash, password) {
		return "", nil, common.Auth("invalid email or password")
	}

	token, err := auth.SignJWT(user.ID, s.jwtSecret, auth.AccessTokenTTL)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return token, user, nil
}

func (s *Service) Me(ctx context.Context, userID uint64) (*models.User, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, common.Validation("User not found")
	}
	return user, nil
}
