// Package auth implements account registration, password login and the
// refresh-token session lifecycle.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"torvix/backend/internal/apperr"
	"torvix/backend/internal/security"
	"torvix/backend/internal/store"
)

// SubjectUserRegistered is published after a successful registration.
const SubjectUserRegistered = "torvix.user.registered"

const (
	detailInvalidCredentials = "Invalid authentication credentials"
	detailInvalidRefresh     = "Invalid refresh token"
	detailBadLogin           = "Incorrect email or password"
	detailEmailTaken         = "User with this email already exists"
)

// Store is satisfied by *store.Store.
type Store interface {
	CreateUser(ctx context.Context, u store.NewUser) (*store.User, error)
	GetUser(ctx context.Context, id int64) (*store.User, error)
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	UpdateUser(ctx context.Context, id int64, patch store.UserPatch) (*store.User, error)
	GetSession(ctx context.Context, id int64) (*store.AuthSession, error)
	RotateSession(ctx context.Context, userID int64, expiresAt time.Time, revokeID int64, mint store.MintFunc) (int64, error)
	RevokeSession(ctx context.Context, id int64) error
}

// Publisher is satisfied by *clients.NATSClient.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// TokenPair is returned by Login and Refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
}

// Registration is the input of Register.
type Registration struct {
	Email    string
	Name     string
	Password string
	Profile  store.UserProfile
}

// Update is the input of UpdateProfile; nil fields are left unchanged.
type Update struct {
	Email    *string
	Name     *string
	Password *string
	Profile  store.UserProfile
}

// Service implements the /auth operations.
type Service struct {
	store  Store
	tokens *security.Tokens
	events Publisher
	now    func() time.Time
}

// NewService wires a Service. events may be nil.
func NewService(st Store, tokens *security.Tokens, events Publisher) *Service {
	return &Service{
		store:  st,
		tokens: tokens,
		events: events,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// EmailExists reports whether email is registered, returning the normalised
// address alongside.
func (s *Service) EmailExists(ctx context.Context, email string) (string, bool, error) {
	normalized := store.NormalizeEmail(email)
	_, err := s.store.GetUserByEmail(ctx, normalized)
	switch {
	case err == nil:
		return normalized, true, nil
	case errors.Is(err, store.ErrNotFound):
		return normalized, false, nil
	default:
		return "", false, err
	}
}

// Register creates a new account.
func (s *Service) Register(ctx context.Context, r Registration) (*store.User, error) {
	if _, err := s.store.GetUserByEmail(ctx, r.Email); err == nil {
		return nil, apperr.Conflict(detailEmailTaken)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	hash, err := security.HashPassword(r.Password)
	if err != nil {
		return nil, apperr.Unprocessable(err.Error())
	}

	user, err := s.store.CreateUser(ctx, store.NewUser{
		Email:        r.Email,
		Name:         r.Name,
		PasswordHash: hash,
		Profile:      r.Profile,
	})
	if errors.Is(err, store.ErrEmailTaken) {
		return nil, apperr.Conflict(detailEmailTaken)
	}
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "user registered", "user_id", user.ID)
	s.publish(ctx, SubjectUserRegistered, map[string]any{
		"userId": user.ID,
		"at":     s.now(),
	})
	return user, nil
}

// Login verifies the password and opens a new session.
func (s *Service) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if user == nil || !security.VerifyPassword(password, user.PasswordHash) {
		return nil, apperr.Unauthorized(detailBadLogin)
	}
	return s.issue(ctx, user.ID, 0)
}

// Refresh rotates the session behind refreshToken: the old session is revoked
// and a new token pair is issued. Every failure is reported as 401.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.tokens.DecodeRefreshToken(refreshToken)
	if err != nil {
		return nil, apperr.Unauthorized(detailInvalidRefresh)
	}

	sess, err := s.store.GetSession(ctx, claims.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Unauthorized(detailInvalidRefresh)
	}
	if err != nil {
		return nil, err
	}
	if sess.UserID != claims.UserID || !sess.Active(s.now()) ||
		!s.tokens.VerifyRefreshToken(refreshToken, sess.RefreshTokenHash) {
		return nil, apperr.Unauthorized(detailInvalidRefresh)
	}

	if _, err := s.store.GetUser(ctx, claims.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Unauthorized(detailInvalidRefresh)
		}
		return nil, err
	}

	pair, err := s.issue(ctx, claims.UserID, sess.ID)
	if errors.Is(err, store.ErrSessionRevoked) {
		return nil, apperr.Unauthorized(detailInvalidRefresh)
	}
	return pair, err
}

// Logout revokes the session behind refreshToken. Tokens that do not decode or
// match their session are ignored.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.tokens.DecodeRefreshToken(refreshToken)
	if err != nil {
		return nil
	}

	sess, err := s.store.GetSession(ctx, claims.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if sess.UserID != claims.UserID || !s.tokens.VerifyRefreshToken(refreshToken, sess.RefreshTokenHash) {
		return nil
	}
	if sess.RevokedAt != nil {
		return nil
	}
	return s.store.RevokeSession(ctx, sess.ID)
}

// Authenticate resolves a bearer access token to its user. The token's
// session must belong to the user and still be active.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*store.User, error) {
	claims, err := s.tokens.DecodeAccessToken(accessToken)
	if err != nil {
		return nil, apperr.Unauthorized(detailInvalidCredentials)
	}

	user, err := s.store.GetUser(ctx, claims.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Unauthorized(detailInvalidCredentials)
	}
	if err != nil {
		return nil, err
	}

	sess, err := s.store.GetSession(ctx, claims.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Unauthorized(detailInvalidCredentials)
	}
	if err != nil {
		return nil, err
	}
	if sess.UserID != user.ID || !sess.Active(s.now()) {
		return nil, apperr.Unauthorized(detailInvalidCredentials)
	}
	return user, nil
}

// UpdateProfile applies u to the user's account.
func (s *Service) UpdateProfile(ctx context.Context, userID int64, u Update) (*store.User, error) {
	patch := store.UserPatch{Name: u.Name, Profile: u.Profile}

	if u.Email != nil {
		email := store.NormalizeEmail(*u.Email)
		existing, err := s.store.GetUserByEmail(ctx, email)
		switch {
		case err == nil && existing.ID != userID:
			return nil, apperr.Conflict(detailEmailTaken)
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
		patch.Email = &email
	}
	if u.Password != nil {
		hash, err := security.HashPassword(*u.Password)
		if err != nil {
			return nil, apperr.Unprocessable(err.Error())
		}
		patch.PasswordHash = &hash
	}

	user, err := s.store.UpdateUser(ctx, userID, patch)
	switch {
	case errors.Is(err, store.ErrEmailTaken):
		return nil, apperr.Conflict(detailEmailTaken)
	case errors.Is(err, store.ErrNotFound):
		return nil, apperr.Unauthorized(detailInvalidCredentials)
	case err != nil:
		return nil, err
	}
	return user, nil
}

// issue opens a session for userID (revoking revokeID when non-zero) and
// signs the token pair bound to it.
func (s *Service) issue(ctx context.Context, userID, revokeID int64) (*TokenPair, error) {
	var refresh string
	expiresAt := s.now().Add(s.tokens.RefreshTTL())

	sessionID, err := s.store.RotateSession(ctx, userID, expiresAt, revokeID, func(sessionID int64) (string, error) {
		tok, err := s.tokens.CreateRefreshToken(userID, sessionID)
		if err != nil {
			return "", err
		}
		refresh = tok
		return s.tokens.HashRefreshToken(tok)
	})
	if err != nil {
		return nil, err
	}

	access, err := s.tokens.CreateAccessToken(userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("signing access token: %w", err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh, TokenType: "bearer"}, nil
}

func (s *Service) publish(ctx context.Context, subject string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, subject, payload); err != nil {
		slog.WarnContext(ctx, "event publish failed", "subject", subject, "error", err)
	}
}
