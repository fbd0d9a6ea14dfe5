package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/studysync/studysync-go/internal/crypto"
	"github.com/studysync/studysync-go/internal/logging"
	"github.com/studysync/studysync-go/internal/mail"
	"github.com/studysync/studysync-go/internal/model"
	"github.com/studysync/studysync-go/internal/oauth"
	"github.com/studysync/studysync-go/internal/otp"
	"github.com/studysync/studysync-go/internal/repository"
)

const (
	minPasswordLength = 6
	cooldownCacheSize = 10000
)

var (
	ErrEmailRequired        = errors.New("email is required")
	ErrInvalidEmail         = errors.New("invalid email format")
	ErrNameRequired         = errors.New("name and password are required")
	ErrPasswordTooShort     = errors.New("password must be at least 6 characters")
	ErrInvalidPurpose       = errors.New("invalid request type")
	ErrUserExists           = errors.New("user with this email already exists")
	ErrUserNotFound         = errors.New("no account found with this email")
	ErrEmailDispatchFailed  = errors.New("failed to send verification email")
	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrResendTooSoon        = errors.New("please wait before requesting another code")
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrOAuthProfile         = errors.New("sign-in provider did not return a usable email")
	ErrOAuthEmailUnverified = errors.New("sign-in provider has not verified this email")
)

// CooldownError is returned when a code was sent to the address too recently.
type CooldownError struct {
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s (retry in %ds)", ErrResendTooSoon, e.RetryAfterSeconds())
}

func (e *CooldownError) Unwrap() error { return ErrResendTooSoon }

// RetryAfterSeconds rounds the wait up to whole seconds.
func (e *CooldownError) RetryAfterSeconds() int {
	return int((e.RetryAfter + time.Second - 1) / time.Second)
}

// AuthConfig holds the settings the auth flows depend on.
type AuthConfig struct {
	JWTSecret      string
	SessionTTL     time.Duration
	OTPTTL         time.Duration
	ResendCooldown time.Duration
}

// OTPRequest asks for a code to be emailed.
type OTPRequest struct {
	Email    string
	Name     string
	Password string
	Purpose  model.Purpose
}

// OTPIssued describes a code that was sent.
type OTPIssued struct {
	ExpiresIn   int `json:"expiresIn"`
	ResendAfter int `json:"resendAfter"`
}

// Session is the result of a successful sign-in.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      model.PublicUser
}

// AuthService runs the OTP registration and login flows.
type AuthService struct {
	users    repository.UserStore
	otps     otp.Store
	mailer   mail.Dispatcher
	cfg      AuthConfig
	validate *validator.Validate
	cooldown *expirable.LRU[string, time.Time]
	now      func() time.Time
	newCode  func() (string, error)
}

// NewAuthService creates a new AuthService.
func NewAuthService(users repository.UserStore, otps otp.Store, mailer mail.Dispatcher, cfg AuthConfig) *AuthService {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 7 * 24 * time.Hour
	}
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = 10 * time.Minute
	}
	s := &AuthService{
		users:    users,
		otps:     otps,
		mailer:   mailer,
		cfg:      cfg,
		validate: validator.New(),
		now:      time.Now,
		newCode:  crypto.GenerateOTP,
	}
	if cfg.ResendCooldown > 0 {
		s.cooldown = expirable.NewLRU[string, time.Time](cooldownCacheSize, nil, cfg.ResendCooldown)
	}
	return s
}

// SessionTTL is the lifetime of issued session tokens.
func (s *AuthService) SessionTTL() time.Duration {
	return s.cfg.SessionTTL
}

// ParsePurpose maps the request "type" field to a purpose. Empty means
// registration.
func ParsePurpose(v string) (model.Purpose, error) {
	if v == "" {
		return model.PurposeRegister, nil
	}
	p := model.Purpose(strings.ToLower(strings.TrimSpace(v)))
	if !p.Valid() {
		return "", ErrInvalidPurpose
	}
	return p, nil
}

// RequestOTP validates req, stores a fresh challenge and emails the code.
func (s *AuthService) RequestOTP(ctx context.Context, req OTPRequest) (OTPIssued, error) {
	logger := logging.FromContext(ctx)

	email, err := s.normalizeEmail(req.Email)
	if err != nil {
		return OTPIssued{}, err
	}
	if !req.Purpose.Valid() {
		return OTPIssued{}, ErrInvalidPurpose
	}

	var pending model.PendingUser
	switch req.Purpose {
	case model.PurposeRegister:
		name := strings.TrimSpace(req.Name)
		if name == "" || req.Password == "" {
			return OTPIssued{}, ErrNameRequired
		}
		if len(req.Password) < minPasswordLength {
			return OTPIssued{}, ErrPasswordTooShort
		}
		if _, err := s.users.FindByEmail(ctx, email); err == nil {
			return OTPIssued{}, ErrUserExists
		} else if !errors.Is(err, repository.ErrUserNotFound) {
			return OTPIssued{}, err
		}
		if err := s.checkCooldown(email); err != nil {
			return OTPIssued{}, err
		}
		hash, err := crypto.HashPassword(req.Password)
		if err != nil {
			return OTPIssued{}, err
		}
		pending = model.PendingUser{Name: name, PasswordHash: hash}

	case model.PurposeLogin:
		user, err := s.users.FindByEmail(ctx, email)
		if errors.Is(err, repository.ErrUserNotFound) {
			return OTPIssued{}, ErrUserNotFound
		}
		if err != nil {
			return OTPIssued{}, err
		}
		if err := s.checkCooldown(email); err != nil {
			return OTPIssued{}, err
		}
		pending = model.PendingUser{UserID: user.ID}
	}

	code, err := s.newCode()
	if err != nil {
		return OTPIssued{}, fmt.Errorf("generating code: %w", err)
	}
	challenge := otp.NewChallenge(email, code, req.Purpose, pending, s.now(), s.cfg.OTPTTL)
	if err := s.otps.Put(ctx, challenge); err != nil {
		return OTPIssued{}, err
	}

	msg, err := mail.RenderOTP(email, code, req.Purpose, s.cfg.OTPTTL)
	if err != nil {
		return OTPIssued{}, err
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		logger.Error("sending otp email failed", zap.String("email", email), zap.Error(err))
		return OTPIssued{}, fmt.Errorf("%w: %v", ErrEmailDispatchFailed, err)
	}
	if s.cooldown != nil {
		s.cooldown.Add(email, s.now())
	}

	logger.Info("otp issued", zap.String("email", email), zap.String("purpose", string(req.Purpose)))
	return OTPIssued{
		ExpiresIn:   int(s.cfg.OTPTTL / time.Second),
		ResendAfter: int(s.cfg.ResendCooldown / time.Second),
	}, nil
}

// VerifyOTP consumes the challenge for email and signs the user in,
// creating the account first for a registration.
func (s *AuthService) VerifyOTP(ctx context.Context, email, code string, purpose model.Purpose) (Session, error) {
	email, err := s.normalizeEmail(email)
	if err != nil {
		return Session{}, err
	}
	if !purpose.Valid() {
		return Session{}, ErrInvalidPurpose
	}

	challenge, err := s.otps.Verify(ctx, email, strings.TrimSpace(code), purpose)
	if err != nil {
		return Session{}, err
	}

	var user *model.User
	switch purpose {
	case model.PurposeRegister:
		user = &model.User{
			Name:         challenge.Pending.Name,
			Email:        email,
			PasswordHash: challenge.Pending.PasswordHash,
			IsVerified:   true,
			LastLogin:    s.now().UTC(),
		}
		if err := s.users.InsertIfAbsent(ctx, user); err != nil {
			if errors.Is(err, repository.ErrDuplicateEmail) {
				return Session{}, ErrUserExists
			}
			s.restoreChallenge(ctx, challenge)
			return Session{}, err
		}
		logging.FromContext(ctx).Info("user registered", zap.String("user_id", user.ID))

	case model.PurposeLogin:
		user, err = s.users.FindByID(ctx, challenge.Pending.UserID)
		if errors.Is(err, repository.ErrUserNotFound) {
			return Session{}, ErrUserNotFound
		}
		if err != nil {
			s.restoreChallenge(ctx, challenge)
			return Session{}, err
		}
		if err := s.users.UpdateVerification(ctx, email); err != nil {
			s.restoreChallenge(ctx, challenge)
			return Session{}, err
		}
		if err := s.users.UpdateLastLogin(ctx, user.ID); err != nil {
			return Session{}, err
		}
		user.IsVerified = true
		user.LastLogin = s.now().UTC()
	}

	return s.issue(user)
}

// restoreChallenge puts back a challenge consumed by a verification that
// then failed on storage, so the emailed code stays usable.
func (s *AuthService) restoreChallenge(ctx context.Context, c *model.Challenge) {
	if err := s.otps.Put(ctx, *c); err != nil {
		logging.FromContext(ctx).Warn("restoring otp challenge failed",
			zap.String("email", c.Email), zap.Error(err))
	}
}

// OAuthLogin signs in the account matching a provider-verified email,
// creating a verified account on first sign-in.
func (s *AuthService) OAuthLogin(ctx context.Context, profile *oauth.Profile) (Session, error) {
	if profile == nil {
		return Session{}, ErrOAuthProfile
	}
	email, err := s.normalizeEmail(profile.Email)
	if err != nil {
		return Session{}, ErrOAuthProfile
	}
	if !profile.EmailVerified {
		return Session{}, ErrOAuthEmailUnverified
	}
	logger := logging.FromContext(ctx)

	user, err := s.users.FindByEmail(ctx, email)
	switch {
	case errors.Is(err, repository.ErrUserNotFound):
		user, err = s.createOAuthUser(ctx, email, profile)
		if err != nil {
			return Session{}, err
		}
	case err != nil:
		return Session{}, err
	default:
		if !user.IsVerified {
			if err := s.users.UpdateVerification(ctx, email); err != nil {
				return Session{}, err
			}
			user.IsVerified = true
		}
		if err := s.users.UpdateLastLogin(ctx, user.ID); err != nil {
			return Session{}, err
		}
		user.LastLogin = s.now().UTC()
	}

	logger.Info("oauth sign-in", zap.String("provider", profile.Provider), zap.String("user_id", user.ID))
	return s.issue(user)
}

func (s *AuthService) createOAuthUser(ctx context.Context, email string, profile *oauth.Profile) (*model.User, error) {
	name := profile.Name
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	user := &model.User{
		Name:       name,
		Email:      email,
		IsVerified: true,
		LastLogin:  s.now().UTC(),
	}
	err := s.users.InsertIfAbsent(ctx, user)
	if errors.Is(err, repository.ErrDuplicateEmail) {
		// A concurrent first sign-in created it.
		return s.users.FindByEmail(ctx, email)
	}
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx).Info("user registered",
		zap.String("user_id", user.ID), zap.String("provider", profile.Provider))
	return user, nil
}

// Login signs a user in with email and password.
func (s *AuthService) Login(ctx context.Context, email, password string) (Session, error) {
	email, err := s.normalizeEmail(email)
	if err != nil {
		return Session{}, ErrInvalidCredentials
	}
	if password == "" {
		return Session{}, ErrInvalidCredentials
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}

	// Accounts created through a sign-in provider have no password.
	if user.PasswordHash == "" {
		return Session{}, ErrInvalidCredentials
	}
	match, err := crypto.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return Session{}, err
	}
	if !match {
		return Session{}, ErrInvalidCredentials
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID); err != nil {
		return Session{}, err
	}
	user.LastLogin = s.now().UTC()
	return s.issue(user)
}

// CurrentUser resolves a session token to the stored user.
func (s *AuthService) CurrentUser(ctx context.Context, token string) (*model.PublicUser, error) {
	if token == "" {
		return nil, ErrNotAuthenticated
	}
	claims, err := crypto.ValidateToken(token, s.cfg.JWTSecret)
	if err != nil {
		return nil, ErrNotAuthenticated
	}
	user, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrNotAuthenticated
		}
		return nil, err
	}
	pub := user.Public()
	return &pub, nil
}

func (s *AuthService) issue(user *model.User) (Session, error) {
	token, exp, err := crypto.GenerateToken(crypto.SessionUser{
		ID:    user.ID,
		Email: user.Email,
		Name:  user.Name,
	}, s.cfg.JWTSecret, s.cfg.SessionTTL)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: exp, User: user.Public()}, nil
}

func (s *AuthService) normalizeEmail(email string) (string, error) {
	email = repository.NormalizeEmail(email)
	if email == "" {
		return "", ErrEmailRequired
	}
	if err := s.validate.Var(email, "email"); err != nil {
		return "", ErrInvalidEmail
	}
	return email, nil
}

func (s *AuthService) checkCooldown(email string) error {
	if s.cooldown == nil {
		return nil
	}
	sentAt, ok := s.cooldown.Get(email)
	if !ok {
		return nil
	}
	if wait := s.cfg.ResendCooldown - s.now().Sub(sentAt); wait > 0 {
		return &CooldownError{RetryAfter: wait}
	}
	return nil
}
