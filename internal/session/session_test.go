package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bpajor/pay-man-sys/internal/models"
	"github.com/bpajor/pay-man-sys/internal/session"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func testIdentity() session.Identity {
	return session.Identity{
		UserID:      uuid.New(),
		Email:       "user@example.com",
		AccountType: models.AccountTypeManager,
	}
}

func TestSession_DirectAuthentication(t *testing.T) {
	sess := session.NewAnonymous()
	sess.UnauthCSRFSecret = "unauth-secret"

	if err := sess.Authenticate(testIdentity(), "auth-secret"); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	if !sess.IsAuthenticated() {
		t.Fatalf("expected session to be authenticated")
	}
	if sess.PendingSecondFactor() {
		t.Fatalf("authenticated session must not be pending a second factor")
	}
	if sess.UnauthCSRFSecret != "" {
		t.Errorf("expected unauthenticated csrf secret to be discarded")
	}
	if sess.ActiveCSRFSecret() != "auth-secret" {
		t.Errorf("expected authenticated secret to be active")
	}
}

func TestSession_SecondFactorPath(t *testing.T) {
	sess := session.NewAnonymous()
	identity := testIdentity()

	if err := sess.BeginSecondFactor(identity); err != nil {
		t.Fatalf("BeginSecondFactor failed: %v", err)
	}

	if !sess.PendingSecondFactor() {
		t.Fatalf("expected pending second factor")
	}
	if sess.IsAuthenticated() {
		t.Fatalf("pending session must not count as authenticated")
	}
	// Identity snapshot is taken before the second factor resolves.
	if sess.Identity == nil || sess.Identity.Email != identity.Email {
		t.Fatalf("expected identity snapshot to be present")
	}

	if err := sess.Authenticate(identity, "auth-secret"); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if !sess.IsAuthenticated() {
		t.Fatalf("expected promotion to authenticated")
	}
}

func TestSession_CannotBeginSecondFactorTwice(t *testing.T) {
	sess := session.NewAnonymous()
	if err := sess.BeginSecondFactor(testIdentity()); err != nil {
		t.Fatalf("BeginSecondFactor failed: %v", err)
	}
	if err := sess.BeginSecondFactor(testIdentity()); !errors.Is(err, session.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestSession_ResetStagingRequiresNoIdentity(t *testing.T) {
	sess := session.NewAnonymous()
	if err := sess.StageReset("user@example.com", "new-hash", "token-hash"); err != nil {
		t.Fatalf("StageReset failed: %v", err)
	}

	email, hash, tokenHash, ok := sess.ResetStaging()
	if !ok || email != "user@example.com" || hash != "new-hash" || tokenHash != "token-hash" {
		t.Fatalf("unexpected staging: %q %q %q %v", email, hash, tokenHash, ok)
	}

	authed := session.NewAnonymous()
	if err := authed.Authenticate(testIdentity(), "auth-secret"); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if err := authed.StageReset("user@example.com", "new-hash", "token-hash"); !errors.Is(err, session.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for authenticated session, got %v", err)
	}
}

func TestSession_ResetPendingCannotAuthenticate(t *testing.T) {
	sess := session.NewAnonymous()
	if err := sess.StageReset("user@example.com", "new-hash", "token-hash"); err != nil {
		t.Fatalf("StageReset failed: %v", err)
	}
	if err := sess.Authenticate(testIdentity(), "auth-secret"); !errors.Is(err, session.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func newTestStore(t *testing.T) (*session.RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return session.NewRedisStore(client, time.Hour), mr
}

func TestRedisStore_RoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := session.NewAnonymous()
	sess.UnauthCSRFSecret = "secret"
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.State != session.StateAnonymous {
		t.Errorf("expected anonymous state, got %s", got.State)
	}
	if got.UnauthCSRFSecret != "secret" {
		t.Errorf("expected csrf secret to round-trip")
	}
}

func TestRedisStore_DestroyedSessionIsGone(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := session.NewAnonymous()
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Destroy(ctx, sess.ID); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}

	if _, err := store.Get(ctx, sess.ID); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after destroy, got %v", err)
	}
}

func TestRedisStore_ExpiresByTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	sess := session.NewAnonymous()
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	mr.FastForward(time.Hour + time.Minute)

	if _, err := store.Get(ctx, sess.ID); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after TTL, got %v", err)
	}
}
