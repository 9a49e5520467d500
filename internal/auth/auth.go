package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"msat_auth/internal/lib/jwt"
	sl "msat_auth/internal/lib/logger"
	"msat_auth/internal/lib/password"
	"msat_auth/internal/models"
	"msat_auth/internal/storage"
)

var (
	ErrWeakPassword          = errors.New("password must be at least 8 characters long and contain uppercase, lowercase, and numbers")
	ErrUsernameTaken         = errors.New("username already registered")
	ErrEmailTaken            = errors.New("email already registered")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrUnauthorized          = errors.New("could not validate credentials")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	ErrUserNotFound          = errors.New("user not found")
	ErrEmailDelivery         = errors.New("failed to send email")
	ErrPasswordTooLong       = password.ErrPasswordTooLong
)

const TokenType = "bearer"

type Auth struct {
	log         *slog.Logger
	usrSaver    UserSaver
	usrProvider UserProvider
	hasher      PasswordHasher
	tokens      TokenCodec
	mailer      Mailer
	renderer    MailRenderer
	ledger      ResetTokenLedger
	accessTTL   time.Duration
	resetTTL    time.Duration
	now         func() time.Time
}

type UserSaver interface {
	SaveUser(ctx context.Context, username, email string, passHash []byte) (models.User, error)
	UpdatePassword(ctx context.Context, userID int64, passHash []byte) error
}

type UserProvider interface {
	UserByUsername(ctx context.Context, username string) (models.User, error)
	UserByEmail(ctx context.Context, email string) (models.User, error)
}

type PasswordHasher interface {
	Hash(plain string) ([]byte, error)
	Verify(plain string, hash []byte) bool
}

type TokenCodec interface {
	Encode(kind jwt.Kind, subject string, ttl time.Duration) (string, error)
	Decode(token string, kind jwt.Kind) (*jwt.Claims, error)
}

type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

type MailRenderer interface {
	ResetPasswordEmail(username, token string, ttl time.Duration) (subject, body string, err error)
}

// ResetTokenLedger remembers spent password-reset tokens. MarkResetTokenUsed
// reports false when the token was already marked. ReleaseResetToken undoes
// a mark whose password update did not go through.
type ResetTokenLedger interface {
	MarkResetTokenUsed(ctx context.Context, tokenHash string, ttl time.Duration) (bool, error)
	ReleaseResetToken(ctx context.Context, tokenHash string) error
}

type Option func(*Auth)

// WithResetTokenLedger makes password-reset tokens single-use.
func WithResetTokenLedger(ledger ResetTokenLedger) Option {
	return func(a *Auth) {
		a.ledger = ledger
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Auth) {
		a.now = now
	}
}

func New(
	log *slog.Logger,
	userSaver UserSaver,
	userProvider UserProvider,
	hasher PasswordHasher,
	tokens TokenCodec,
	mailer Mailer,
	renderer MailRenderer,
	accessTTL, resetTTL time.Duration,
	opts ...Option,
) *Auth {
	a := &Auth{
		log:         log,
		usrSaver:    userSaver,
		usrProvider: userProvider,
		hasher:      hasher,
		tokens:      tokens,
		mailer:      mailer,
		renderer:    renderer,
		accessTTL:   accessTTL,
		resetTTL:    resetTTL,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Register creates the user and returns an access token for it.
func (a *Auth) Register(ctx context.Context, username, email, pass string) (string, error) {
	const op = "auth.Register"

	log := a.log.With(
		slog.String("op", op),
		slog.String("username", username),
	)

	log.Info("registering new user")

	if !password.IsValid(pass) {
		log.Info("weak password")
		return "", ErrWeakPassword
	}

	_, err := a.usrProvider.UserByUsername(ctx, username)
	switch {
	case err == nil:
		log.Info("username already registered")
		return "", ErrUsernameTaken
	case !errors.Is(err, storage.ErrUserNotFound):
		log.Error("failed to look up user", sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	passHash, err := a.hasher.Hash(pass)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooLong) {
			return "", ErrPasswordTooLong
		}

		log.Error("failed to generate password hash", sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	user, err := a.usrSaver.SaveUser(ctx, username, email, passHash)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrUsernameExists):
			log.Warn("username taken concurrently")
			return "", ErrUsernameTaken
		case errors.Is(err, storage.ErrEmailExists):
			log.Info("email already registered")
			return "", ErrEmailTaken
		}

		log.Error("failed to save user", sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	token, err := a.tokens.Encode(jwt.KindAccess, user.Username, a.accessTTL)
	if err != nil {
		log.Error("failed to generate access token", sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user registered", slog.Int64("uid", user.ID))

	return token, nil
}

// Login returns an access token. Unknown usernames and wrong passwords are
// reported identically.
func (a *Auth) Login(ctx context.Context, username, pass string) (string, error) {
	const op = "auth.Login"

	log := a.log.With(
		slog.String("op", op),
		slog.String("username", username),
	)

	user, err := a.usrProvider.UserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Info("user not found")
			return "", ErrInvalidCredentials
		}

		log.Error("failed to get user", sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	if !a.hasher.Verify(pass, user.PassHash) {
		log.Info("invalid password")
		return "", ErrInvalidCredentials
	}

	token, err := a.tokens.Encode(jwt.KindAccess, user.Username, a.accessTTL)
	if err != nil {
		log.Error("failed to generate access token", sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user logged in successfully", slog.Int64("uid", user.ID))

	return token, nil
}

// Authenticate resolves a bearer token to its user.
func (a *Auth) Authenticate(ctx context.Context, token string) (models.User, error) {
	const op = "auth.Authenticate"

	log := a.log.With(slog.String("op", op))

	claims, err := a.tokens.Decode(token, jwt.KindAccess)
	if err != nil {
		log.Debug("rejected access token", sl.Err(err))
		return models.User{}, ErrUnauthorized
	}

	if claims.Subject == "" {
		log.Debug("access token has no subject")
		return models.User{}, ErrUnauthorized
	}

	user, err := a.usrProvider.UserByUsername(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Info("token subject does not exist", slog.String("username", claims.Subject))
			return models.User{}, ErrUnauthorized
		}

		log.Error("failed to get user", sl.Err(err))
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// ChangePassword replaces the password of an authenticated user. Access
// tokens issued before the change stay valid until they expire.
func (a *Auth) ChangePassword(ctx context.Context, user models.User, current, next string) error {
	const op = "auth.ChangePassword"

	log := a.log.With(
		slog.String("op", op),
		slog.Int64("uid", user.ID),
	)

	if !a.hasher.Verify(current, user.PassHash) {
		log.Info("invalid current password")
		return ErrInvalidCredentials
	}

	if !password.IsValid(next) {
		log.Info("weak password")
		return ErrWeakPassword
	}

	if err := a.setPassword(ctx, user.ID, next); err != nil {
		if errors.Is(err, ErrPasswordTooLong) || errors.Is(err, ErrUserNotFound) {
			return err
		}

		log.Error("failed to update password", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("password changed")

	return nil
}

// RequestPasswordReset mails a reset link to email when an account uses it.
// A nil error does not imply that the account exists.
func (a *Auth) RequestPasswordReset(ctx context.Context, email string) error {
	const op = "auth.RequestPasswordReset"

	log := a.log.With(slog.String("op", op))

	user, err := a.usrProvider.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Info("password reset requested for unknown email")
			return nil
		}

		log.Error("failed to get user", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log = log.With(slog.Int64("uid", user.ID))

	token, err := a.tokens.Encode(jwt.KindPasswordReset, user.Email, a.resetTTL)
	if err != nil {
		log.Error("failed to generate reset token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	subject, body, err := a.renderer.ResetPasswordEmail(user.Username, token, a.resetTTL)
	if err != nil {
		log.Error("failed to render reset email", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := a.mailer.Send(ctx, user.Email, subject, body); err != nil {
		log.Error("failed to send reset email", sl.Err(err))
		return fmt.Errorf("%s: %w: %w", op, ErrEmailDelivery, err)
	}

	log.Info("password reset email sent")

	return nil
}

// ResetPassword sets a new password for the account named by a reset token.
func (a *Auth) ResetPassword(ctx context.Context, token, next string) error {
	const op = "auth.ResetPassword"

	log := a.log.With(slog.String("op", op))

	claims, err := a.tokens.Decode(token, jwt.KindPasswordReset)
	if err != nil {
		log.Info("rejected reset token", sl.Err(err))
		return ErrInvalidOrExpiredToken
	}

	if claims.Subject == "" {
		log.Info("reset token has no subject")
		return ErrInvalidOrExpiredToken
	}

	user, err := a.usrProvider.UserByEmail(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Info("reset token subject does not exist")
			return ErrUserNotFound
		}

		log.Error("failed to get user", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log = log.With(slog.Int64("uid", user.ID))

	if !password.IsValid(next) {
		log.Info("weak password")
		return ErrWeakPassword
	}

	passHash, err := a.hashPassword(next)
	if err != nil {
		if errors.Is(err, ErrPasswordTooLong) {
			log.Info("password too long")
			return err
		}

		log.Error("failed to hash password", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	hash := tokenHash(token)

	if a.ledger != nil {
		ttl := time.Second
		if claims.ExpiresAt != nil {
			ttl = max(claims.ExpiresAt.Sub(a.now()), time.Second)
		}

		first, err := a.ledger.MarkResetTokenUsed(ctx, hash, ttl)
		if err != nil {
			log.Error("failed to record reset token", sl.Err(err))
			return fmt.Errorf("%s: %w", op, err)
		}

		if !first {
			log.Info("reset token already used")
			return ErrInvalidOrExpiredToken
		}
	}

	if err := a.updatePassword(ctx, user.ID, passHash); err != nil {
		if a.ledger != nil {
			if relErr := a.ledger.ReleaseResetToken(context.WithoutCancel(ctx), hash); relErr != nil {
				log.Error("failed to release reset token", sl.Err(relErr))
			}
		}

		if errors.Is(err, ErrUserNotFound) {
			return err
		}

		log.Error("failed to update password", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("password reset")

	return nil
}

func (a *Auth) setPassword(ctx context.Context, userID int64, plain string) error {
	passHash, err := a.hashPassword(plain)
	if err != nil {
		return err
	}

	return a.updatePassword(ctx, userID, passHash)
}

func (a *Auth) hashPassword(plain string) ([]byte, error) {
	passHash, err := a.hasher.Hash(plain)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooLong) {
			return nil, ErrPasswordTooLong
		}

		return nil, err
	}

	return passHash, nil
}

func (a *Auth) updatePassword(ctx context.Context, userID int64, passHash []byte) error {
	if err := a.usrSaver.UpdatePassword(ctx, userID, passHash); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return ErrUserNotFound
		}

		return err
	}

	return nil
}

func tokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
