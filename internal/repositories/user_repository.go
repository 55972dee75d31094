package repositories

import (
	"context"
	"time"

	"github.com/bpajor/pay-man-sys/internal/models"
	"github.com/google/uuid"
)

type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	ExistsByEmail(ctx context.Context, email string) (bool, error)

	// SetResetToken stores the token hash and expiry as a pair.
	SetResetToken(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error

	// SetTwoFASecret persists a verified second-factor secret.
	SetTwoFASecret(ctx context.Context, userID uuid.UUID, secret string) error

	// CompleteReset updates the password and clears the reset-token pair in
	// one conditional statement. It succeeds only while the given unexpired
	// token hash is still on file, which makes token consumption single-use
	// even under concurrent submissions and rejects a token superseded by a
	// newer reset request. Returns false when no row qualified.
	CompleteReset(ctx context.Context, email, tokenHash, newPasswordHash string, now time.Time) (bool, error)
}
