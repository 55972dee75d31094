package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/bpajor/pay-man-sys/internal/config"
	"github.com/bpajor/pay-man-sys/internal/lockout"
	"github.com/bpajor/pay-man-sys/internal/mail"
	"github.com/bpajor/pay-man-sys/internal/models"
	"github.com/bpajor/pay-man-sys/internal/repositories"
	"github.com/bpajor/pay-man-sys/internal/session"
	"github.com/bpajor/pay-man-sys/internal/twofa"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserExists              = errors.New("user already exists")
	ErrInvalidCredentials      = errors.New("invalid credentials")
	ErrLockedOut               = errors.New("too many attempts")
	ErrInvalidCode             = errors.New("invalid verification code")
	ErrSecondFactorNotEnrolled = errors.New("second factor not enrolled")
	ErrInvalidResetToken       = errors.New("invalid or expired reset token")
	ErrHostNotAllowed          = errors.New("request host not allowed")
)

// AuthService orchestrates credential verification, lockout, the second
// factor, and the password-reset lifecycle. Session mutation stays in the
// handlers; the service only reports what the session should become.
type AuthService struct {
	users         repositories.UserRepository
	lockout       *lockout.Guard
	gate          *twofa.Gate
	mailer        mail.Mailer
	cfg           *config.Config
	log           *zap.Logger
	resetTokenTTL time.Duration
	bcryptCost    int
}

func NewAuthService(
	users repositories.UserRepository,
	lockoutGuard *lockout.Guard,
	gate *twofa.Gate,
	mailer mail.Mailer,
	cfg *config.Config,
	log *zap.Logger,
) *AuthService {
	resetTTL, err := cfg.Auth.GetResetTokenTTL()
	if err != nil || resetTTL == 0 {
		resetTTL = 15 * time.Minute
	}
	cost := cfg.Auth.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &AuthService{
		users:         users,
		lockout:       lockoutGuard,
		gate:          gate,
		mailer:        mailer,
		cfg:           cfg,
		log:           log,
		resetTokenTTL: resetTTL,
		bcryptCost:    cost,
	}
}

type RegisterInput struct {
	Name        string
	LastName    string
	Email       string
	Password    string
	AccountType models.AccountType
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	exists, err := s.users.ExistsByEmail(ctx, in.Email)
	if err != nil {
		return nil, fmt.Errorf("check existing user: %w", err)
	}
	if exists {
		return nil, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{
		Name:         in.Name,
		LastName:     in.LastName,
		Email:        in.Email,
		PasswordHash: string(hash),
		AccountType:  in.AccountType,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// LoginResult reports the outcome of a successful password check: the
// identity snapshot and whether the second factor is still outstanding.
type LoginResult struct {
	Identity             session.Identity
	SecondFactorRequired bool
}

// Login runs lockout admission and password verification. Failures of
// either kind are indistinguishable to the caller's user (generic message);
// lockout is surfaced distinctly. The counter is cleared on success, but an
// already-tripped lock stays until its TTL.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	id := lockout.Key(lockout.NamespaceLogin, email)

	if s.lockout.CheckLocked(ctx, id) {
		return nil, ErrLockedOut
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		// A failed credential lookup fails the request; it never admits.
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		if err := s.lockout.RecordFailure(ctx, id); err != nil {
			s.log.Warn("failed to record login failure", zap.Error(err))
		}
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		if err := s.lockout.RecordFailure(ctx, id); err != nil {
			s.log.Warn("failed to record login failure", zap.Error(err))
		}
		return nil, ErrInvalidCredentials
	}

	if err := s.lockout.Clear(ctx, id); err != nil {
		s.log.Warn("failed to clear login attempts", zap.Error(err))
	}

	return &LoginResult{
		Identity:             identityFromUser(user),
		SecondFactorRequired: user.TwoFAEnabled(),
	}, nil
}

// VerifyLoginCode validates the login-time second factor under its own
// lockout namespace.
func (s *AuthService) VerifyLoginCode(ctx context.Context, email, code string) error {
	return s.verifySecondFactor(ctx, lockout.NamespaceLogin2FA, email, code)
}

func (s *AuthService) verifySecondFactor(ctx context.Context, namespace, email, code string) error {
	id := lockout.Key(namespace, email)

	if s.lockout.CheckLocked(ctx, id) {
		return ErrLockedOut
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if user == nil || !user.TwoFAEnabled() {
		return ErrSecondFactorNotEnrolled
	}

	if !s.gate.Verify(*user.TwoFASecret, code) {
		if err := s.lockout.RecordFailure(ctx, id); err != nil {
			s.log.Warn("failed to record code failure", zap.Error(err))
		}
		return ErrInvalidCode
	}

	if err := s.lockout.Clear(ctx, id); err != nil {
		s.log.Warn("failed to clear code attempts", zap.Error(err))
	}
	return nil
}

// RequestReset issues a single-use reset token: only its hash and expiry are
// persisted, the raw value goes out by mail. The request host is checked
// against the allow-list before it is embedded in the link, so a forged Host
// header cannot redirect the victim. Whether or not the account exists the
// caller reports the same generic outcome; non-existence is only logged.
func (s *AuthService) RequestReset(ctx context.Context, email, requestHost string) error {
	if !s.cfg.App.HostAllowed(requestHost) {
		s.log.Warn("reset request with disallowed host header",
			zap.String("host", requestHost))
		return ErrHostNotAllowed
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		s.log.Info("reset requested for unknown email")
		return nil
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}
	token := hex.EncodeToString(raw)
	expiresAt := time.Now().UTC().Add(s.resetTokenTTL)

	if err := s.users.SetResetToken(ctx, user.ID, hashResetToken(token), expiresAt); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	link := s.resetLink(requestHost, token, email)
	body := fmt.Sprintf(
		"<p>A password reset was requested for your account.</p>"+
			"<p><a href=%q>Reset your password</a></p>"+
			"<p>The link expires in %d minutes. If you did not request this, ignore this message.</p>",
		link, int(s.resetTokenTTL.Minutes()),
	)

	if err := s.mailer.Send(user.Email, "Password reset", body); err != nil {
		return fmt.Errorf("dispatch reset mail: %w", err)
	}
	return nil
}

// ResetOutcome reports what happened to a consumed token: either the
// password was updated in the same step, or the new password hash and the
// verified token hash must be staged in the session pending the second
// factor.
type ResetOutcome struct {
	SecondFactorRequired bool
	StagedPasswordHash   string
	StagedTokenHash      string
}

// ConsumeReset validates the token and either finishes the reset (no second
// factor enrolled) or hands back the staged hashes for the reset-2FA path.
// The final update is conditional on the verified token hash still being the
// one on file, which closes the double-submit window, makes the token
// single-use, and rejects a token superseded by a newer reset request.
func (s *AuthService) ConsumeReset(ctx context.Context, email, token, newPassword string) (*ResetOutcome, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	now := time.Now().UTC()
	if user == nil || !user.HasActiveReset(now) {
		return nil, ErrInvalidResetToken
	}

	tokenHash := hashResetToken(token)
	if subtle.ConstantTimeCompare([]byte(tokenHash), []byte(*user.ResetTokenHash)) != 1 {
		return nil, ErrInvalidResetToken
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash new password: %w", err)
	}

	if user.TwoFAEnabled() {
		return &ResetOutcome{
			SecondFactorRequired: true,
			StagedPasswordHash:   string(newHash),
			StagedTokenHash:      tokenHash,
		}, nil
	}

	ok, err := s.users.CompleteReset(ctx, email, tokenHash, string(newHash), now)
	if err != nil {
		return nil, fmt.Errorf("complete reset: %w", err)
	}
	if !ok {
		return nil, ErrInvalidResetToken
	}
	return &ResetOutcome{}, nil
}

// ConfirmResetSecondFactor finishes a staged reset: the code is checked
// under the reset-2fa namespace, and only then is the staged password
// applied and the token cleared, still conditional on the staged token hash
// being the one on file.
func (s *AuthService) ConfirmResetSecondFactor(ctx context.Context, email, stagedPasswordHash, stagedTokenHash, code string) error {
	if err := s.verifySecondFactor(ctx, lockout.NamespaceReset2FA, email, code); err != nil {
		return err
	}

	ok, err := s.users.CompleteReset(ctx, email, stagedTokenHash, stagedPasswordHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("complete reset: %w", err)
	}
	if !ok {
		return ErrInvalidResetToken
	}
	return nil
}

// BeginTwoFAEnrollment generates a secret and provisioning URI. The secret
// is not persisted here; the caller stages it in the session until the user
// proves possession with a valid code.
func (s *AuthService) BeginTwoFAEnrollment(ctx context.Context, userID uuid.UUID) (*twofa.Enrollment, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	return s.gate.Enroll(user.Email)
}

// CompleteTwoFAEnrollment verifies a code against the staged secret and only
// then persists it, turning the second factor on.
func (s *AuthService) CompleteTwoFAEnrollment(ctx context.Context, userID uuid.UUID, stagedSecret, code string) error {
	if stagedSecret == "" {
		return ErrSecondFactorNotEnrolled
	}
	if !s.gate.Verify(stagedSecret, code) {
		return ErrInvalidCode
	}
	if err := s.users.SetTwoFASecret(ctx, userID, stagedSecret); err != nil {
		return fmt.Errorf("store second-factor secret: %w", err)
	}
	return nil
}

func (s *AuthService) resetLink(host, token, email string) string {
	scheme := "https"
	if base, err := url.Parse(s.cfg.App.BaseURL); err == nil && base.Scheme != "" {
		scheme = base.Scheme
	}
	q := url.Values{}
	q.Set("token", token)
	q.Set("email", email)
	return fmt.Sprintf("%s://%s/reset-password?%s", scheme, host, q.Encode())
}

func identityFromUser(u *models.User) session.Identity {
	return session.Identity{
		UserID:      u.ID,
		Email:       u.Email,
		AccountType: u.AccountType,
		CompanyID:   u.CompanyID,
	}
}

func hashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
