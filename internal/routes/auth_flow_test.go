package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bpajor/pay-man-sys/internal/config"
	"github.com/bpajor/pay-man-sys/internal/controllers"
	"github.com/bpajor/pay-man-sys/internal/csrf"
	"github.com/bpajor/pay-man-sys/internal/lockout"
	"github.com/bpajor/pay-man-sys/internal/middleware"
	"github.com/bpajor/pay-man-sys/internal/models"
	"github.com/bpajor/pay-man-sys/internal/services"
	"github.com/bpajor/pay-man-sys/internal/session"
	"github.com/bpajor/pay-man-sys/internal/twofa"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	appHost     = "payroll.test"
	appOrigin   = "http://payroll.test"
	testSecret  = "JBSWY3DPEHPK3PXP"
	oldPassword = "old password value here!1A"
	newPassword = "brand new password here!1A"
)

// memoryUserRepo backs the flow tests with an in-memory credential store so
// the full HTTP surface runs against real service logic.
type memoryUserRepo struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{users: make(map[string]*models.User)}
}

func (r *memoryUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ID == id {
			clone := *u
			return &clone, nil
		}
	}
	return nil, nil
}

func (r *memoryUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[strings.ToLower(email)]
	if !ok {
		return nil, nil
	}
	clone := *u
	return &clone, nil
}

func (r *memoryUserRepo) Create(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	clone := *user
	r.users[strings.ToLower(user.Email)] = &clone
	return nil
}

func (r *memoryUserRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.users[strings.ToLower(email)]
	return ok, nil
}

func (r *memoryUserRepo) SetResetToken(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ID == userID {
			hash := tokenHash
			expiry := expiresAt
			u.ResetTokenHash = &hash
			u.ResetTokenExpiresAt = &expiry
			return nil
		}
	}
	return nil
}

func (r *memoryUserRepo) SetTwoFASecret(ctx context.Context, userID uuid.UUID, secret string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ID == userID {
			s := secret
			u.TwoFASecret = &s
			return nil
		}
	}
	return nil
}

func (r *memoryUserRepo) CompleteReset(ctx context.Context, email, tokenHash, newPasswordHash string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[strings.ToLower(email)]
	if !ok || u.ResetTokenHash == nil || u.ResetTokenExpiresAt == nil || !u.ResetTokenExpiresAt.After(now) {
		return false, nil
	}
	if *u.ResetTokenHash != tokenHash {
		return false, nil
	}
	u.PasswordHash = newPasswordHash
	u.ResetTokenHash = nil
	u.ResetTokenExpiresAt = nil
	return true, nil
}

type recordingMailer struct {
	mu     sync.Mutex
	bodies []string
}

func (m *recordingMailer) Send(to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bodies = append(m.bodies, body)
	return nil
}

func (m *recordingMailer) lastBody() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.bodies) == 0 {
		return ""
	}
	return m.bodies[len(m.bodies)-1]
}

type testApp struct {
	t      *testing.T
	srv    *httptest.Server
	client *http.Client
	repo   *memoryUserRepo
	mailer *recordingMailer
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	cfg := &config.Config{
		App: config.AppConfig{
			BaseURL:      appOrigin,
			AllowedHosts: []string{appHost},
		},
		Auth: config.AuthConfig{
			MaxAttempts:   5,
			AttemptWindow: "10m",
			LockDuration:  "10m",
			ResetTokenTTL: "15m",
			BcryptCost:    bcrypt.MinCost,
		},
		Session: config.SessionConfig{
			TTL:        "1h",
			CookieName: "pms_session",
		},
	}

	repo := newMemoryUserRepo()
	mailer := &recordingMailer{}
	guard := lockout.NewGuard(redisClient, 5, 10*time.Minute, 10*time.Minute, zap.NewNop())
	gate := twofa.NewGate("PayManSys", 30, 6)
	authService := services.NewAuthService(repo, guard, gate, mailer, cfg, zap.NewNop())

	store := session.NewRedisStore(redisClient, time.Hour)
	sessions := middleware.NewSessionManager(store, &cfg.Session)

	csrfGuard, err := csrf.NewGuard(cfg.App.BaseURL)
	if err != nil {
		t.Fatalf("csrf guard: %v", err)
	}

	router := gin.New()
	SetupRoutes(router,
		controllers.NewAuthController(authService, sessions),
		controllers.NewDashboardController(),
		sessions, csrfGuard, zap.NewNop(),
	)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &testApp{t: t, srv: srv, client: client, repo: repo, mailer: mailer}
}

func (a *testApp) get(path string) *http.Response {
	a.t.Helper()
	req, err := http.NewRequest(http.MethodGet, a.srv.URL+path, nil)
	if err != nil {
		a.t.Fatalf("build request: %v", err)
	}
	req.Host = appHost
	resp, err := a.client.Do(req)
	if err != nil {
		a.t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

// post submits a form with the application origin declared. Pass origin=""
// to simulate a cross-site submission with no declared source.
func (a *testApp) post(path string, form url.Values, origin string) *http.Response {
	a.t.Helper()
	req, err := http.NewRequest(http.MethodPost, a.srv.URL+path, strings.NewReader(form.Encode()))
	if err != nil {
		a.t.Fatalf("build request: %v", err)
	}
	req.Host = appHost
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		a.t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

// csrfToken fetches a fresh token from a token-issuing GET endpoint.
func (a *testApp) csrfToken(path string) string {
	a.t.Helper()
	resp := a.get(path)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		a.t.Fatalf("GET %s: expected 200, got %d", path, resp.StatusCode)
	}
	var body struct {
		CSRFToken string `json:"csrf_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		a.t.Fatalf("decode token response: %v", err)
	}
	if body.CSRFToken == "" {
		a.t.Fatalf("GET %s: no csrf token in response", path)
	}
	return body.CSRFToken
}

func (a *testApp) createUser(email, password string, twoFASecret string) {
	a.t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		a.t.Fatalf("bcrypt: %v", err)
	}
	user := &models.User{
		ID:           uuid.New(),
		Name:         "Ada",
		LastName:     "Lovelace",
		Email:        email,
		PasswordHash: string(hash),
		AccountType:  models.AccountTypeEmployee,
	}
	if twoFASecret != "" {
		user.TwoFASecret = &twoFASecret
	}
	if err := a.repo.Create(context.Background(), user); err != nil {
		a.t.Fatalf("create user: %v", err)
	}
}

func (a *testApp) login(email, password string) *http.Response {
	a.t.Helper()
	token := a.csrfToken("/login")
	return a.post("/login", url.Values{
		"email":      {email},
		"password":   {password},
		"csrf_token": {token},
	}, appOrigin)
}

func currentTOTP(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	return code
}

func assertRedirect(t *testing.T, resp *http.Response, location string) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected 302, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Location"); got != location {
		t.Fatalf("expected redirect to %s, got %s", location, got)
	}
}

func assertStatus(t *testing.T, resp *http.Response, status int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != status {
		t.Fatalf("expected %d, got %d", status, resp.StatusCode)
	}
}

func TestLoginWithoutSecondFactorReachesDashboard(t *testing.T) {
	app := newTestApp(t)
	app.createUser("ada@example.com", oldPassword, "")

	assertRedirect(t, app.login("ada@example.com", oldPassword), "/employee/dashboard")

	resp := app.get("/employee/dashboard")
	assertStatus(t, resp, http.StatusOK)
}

func TestLoginRejectsMissingCSRFToken(t *testing.T) {
	app := newTestApp(t)
	app.createUser("ada@example.com", oldPassword, "")

	// Prime the session and its unauthenticated secret, then omit the token.
	app.csrfToken("/login")
	resp := app.post("/login", url.Values{
		"email":    {"ada@example.com"},
		"password": {oldPassword},
	}, appOrigin)
	assertStatus(t, resp, http.StatusForbidden)
}

func TestLoginRejectsUndeclaredOrigin(t *testing.T) {
	app := newTestApp(t)
	app.createUser("ada@example.com", oldPassword, "")

	token := app.csrfToken("/login")
	resp := app.post("/login", url.Values{
		"email":      {"ada@example.com"},
		"password":   {oldPassword},
		"csrf_token": {token},
	}, "")
	assertStatus(t, resp, http.StatusForbidden)
}

func TestLoginRejectsForeignOrigin(t *testing.T) {
	app := newTestApp(t)
	app.createUser("ada@example.com", oldPassword, "")

	token := app.csrfToken("/login")
	resp := app.post("/login", url.Values{
		"email":      {"ada@example.com"},
		"password":   {oldPassword},
		"csrf_token": {token},
	}, "http://evil.test")
	assertStatus(t, resp, http.StatusForbidden)
}

func TestPendingSecondFactorCannotReachDashboard(t *testing.T) {
	app := newTestApp(t)
	app.createUser("ada@example.com", oldPassword, testSecret)

	assertRedirect(t, app.login("ada@example.com", oldPassword), "/verify-2fa")

	// The pending flag lives server-side; the dashboard bounces back to the
	// prompt no matter what the client claims.
	assertRedirect(t, app.get("/employee/dashboard"), "/verify-2fa")
	assertRedirect(t, app.get("/login"), "/verify-2fa")
}

func TestSecondFactorCompletesLogin(t *testing.T) {
	app := newTestApp(t)
	app.createUser("ada@example.com", oldPassword, testSecret)

	assertRedirect(t, app.login("ada@example.com", oldPassword), "/verify-2fa")

	token := app.csrfToken("/verify-2fa")
	resp := app.post("/verify-2fa", url.Values{
		"code":       {currentTOTP(t, testSecret)},
		"csrf_token": {token},
	}, appOrigin)
	assertRedirect(t, resp, "/employee/dashboard")

	assertStatus(t, app.get("/employee/dashboard"), http.StatusOK)
}

func TestWrongSecondFactorCodeRejected(t *testing.T) {
	app := newTestApp(t)
	app.createUser("ada@example.com", oldPassword, testSecret)

	assertRedirect(t, app.login("ada@example.com", oldPassword), "/verify-2fa")

	token := app.csrfToken("/verify-2fa")
	resp := app.post("/verify-2fa", url.Values{
		"code":       {"000000"},
		"csrf_token": {token},
	}, appOrigin)
	assertStatus(t, resp, http.StatusUnauthorized)

	assertRedirect(t, app.get("/employee/dashboard"), "/verify-2fa")
}

func TestVerify2FAWithoutPendingSessionRedirects(t *testing.T) {
	app := newTestApp(t)

	token := app.csrfToken("/login")
	resp := app.post("/verify-2fa", url.Values{
		"code":       {"123456"},
		"csrf_token": {token},
	}, appOrigin)
	assertRedirect(t, resp, "/login")
}

func TestPromotionInvalidatesUnauthenticatedCSRFToken(t *testing.T) {
	app := newTestApp(t)
	app.createUser("ada@example.com", oldPassword, "")

	preLoginToken := app.csrfToken("/login")
	assertRedirect(t, app.login("ada@example.com", oldPassword), "/employee/dashboard")

	// The pre-login token was derived from the discarded secret scope.
	resp := app.post("/logout", url.Values{"csrf_token": {preLoginToken}}, appOrigin)
	assertStatus(t, resp, http.StatusForbidden)

	// A token from the authenticated scope works.
	authToken := app.csrfToken("/employee/dashboard")
	resp = app.post("/logout", url.Values{"csrf_token": {authToken}}, appOrigin)
	assertRedirect(t, resp, "/login")

	assertRedirect(t, app.get("/employee/dashboard"), "/login")
}

func TestSignupThenLogin(t *testing.T) {
	app := newTestApp(t)

	token := app.csrfToken("/login")
	resp := app.post("/signup", url.Values{
		"name":             {"Grace"},
		"last_name":        {"Hopper"},
		"email":            {"grace@example.com"},
		"password":         {oldPassword},
		"confirm_password": {oldPassword},
		"account_type":     {"manager"},
		"csrf_token":       {token},
	}, appOrigin)
	assertRedirect(t, resp, "/login")

	assertRedirect(t, app.login("grace@example.com", oldPassword), "/manager/dashboard")
}

func TestSignupRejectsWeakPassword(t *testing.T) {
	app := newTestApp(t)

	token := app.csrfToken("/login")
	resp := app.post("/signup", url.Values{
		"name":             {"Grace"},
		"last_name":        {"Hopper"},
		"email":            {"grace@example.com"},
		"password":         {"short1A!"},
		"confirm_password": {"short1A!"},
		"account_type":     {"manager"},
		"csrf_token":       {token},
	}, appOrigin)
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestManagerDashboardForbiddenForEmployee(t *testing.T) {
	app := newTestApp(t)
	app.createUser("ada@example.com", oldPassword, "")

	assertRedirect(t, app.login("ada@example.com", oldPassword), "/employee/dashboard")
	assertStatus(t, app.get("/manager/dashboard"), http.StatusForbidden)
}

var resetLinkPattern = regexp.MustCompile(`href="([^"]+)"`)

// resetLinkParams requests a reset mail and extracts the token and email
// from the link it carries.
func (a *testApp) resetLinkParams(email string) url.Values {
	a.t.Helper()
	token := a.csrfToken("/login")
	resp := a.post("/forgot-password", url.Values{
		"email":      {email},
		"csrf_token": {token},
	}, appOrigin)
	assertStatus(a.t, resp, http.StatusOK)

	m := resetLinkPattern.FindStringSubmatch(a.mailer.lastBody())
	if m == nil {
		a.t.Fatal("no reset link in mail body")
	}
	link, err := url.Parse(m[1])
	if err != nil {
		a.t.Fatalf("parse reset link: %v", err)
	}
	if link.Host != appHost {
		a.t.Fatalf("reset link points at %s, expected %s", link.Host, appHost)
	}
	return link.Query()
}

func TestPasswordResetWithoutSecondFactor(t *testing.T) {
	app := newTestApp(t)
	app.createUser("ada@example.com", oldPassword, "")

	params := app.resetLinkParams("ada@example.com")

	token := app.csrfToken("/reset-password")
	resp := app.post("/reset-password", url.Values{
		"email":      {params.Get("email")},
		"token":      {params.Get("token")},
		"password":   {newPassword},
		"csrf_token": {token},
	}, appOrigin)
	assertRedirect(t, resp, "/login")

	resp = app.login("ada@example.com", oldPassword)
	assertStatus(t, resp, http.StatusUnauthorized)
	assertRedirect(t, app.login("ada@example.com", newPassword), "/employee/dashboard")
}

func TestPasswordResetTokenIsSingleUse(t *testing.T) {
	app := newTestApp(t)
	app.createUser("ada@example.com", oldPassword, "")

	params := app.resetLinkParams("ada@example.com")

	token := app.csrfToken("/reset-password")
	resp := app.post("/reset-password", url.Values{
		"email":      {params.Get("email")},
		"token":      {params.Get("token")},
		"password":   {newPassword},
		"csrf_token": {token},
	}, appOrigin)
	assertRedirect(t, resp, "/login")

	token = app.csrfToken("/reset-password")
	resp = app.post("/reset-password", url.Values{
		"email":      {params.Get("email")},
		"token":      {params.Get("token")},
		"password":   {"yet another password 2B!ok"},
		"csrf_token": {token},
	}, appOrigin)
	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestPasswordResetNewerRequestSupersedesOlderLink(t *testing.T) {
	app := newTestApp(t)
	app.createUser("ada@example.com", oldPassword, "")

	first := app.resetLinkParams("ada@example.com")
	second := app.resetLinkParams("ada@example.com")

	// Only the most recent link is live; the superseded token must not
	// complete a reset.
	token := app.csrfToken("/reset-password")
	resp := app.post("/reset-password", url.Values{
		"email":      {first.Get("email")},
		"token":      {first.Get("token")},
		"password":   {newPassword},
		"csrf_token": {token},
	}, appOrigin)
	assertStatus(t, resp, http.StatusUnauthorized)

	token = app.csrfToken("/reset-password")
	resp = app.post("/reset-password", url.Values{
		"email":      {second.Get("email")},
		"token":      {second.Get("token")},
		"password":   {newPassword},
		"csrf_token": {token},
	}, appOrigin)
	assertRedirect(t, resp, "/login")
}

func TestPasswordResetWithSecondFactor(t *testing.T) {
	app := newTestApp(t)
	app.createUser("ada@example.com", oldPassword, testSecret)

	params := app.resetLinkParams("ada@example.com")

	token := app.csrfToken("/reset-password")
	resp := app.post("/reset-password", url.Values{
		"email":      {params.Get("email")},
		"token":      {params.Get("token")},
		"password":   {newPassword},
		"csrf_token": {token},
	}, appOrigin)
	assertRedirect(t, resp, "/reset-password/verify-2fa")

	// The password has not changed yet; the new hash is only staged.
	assertRedirect(t, app.login("ada@example.com", oldPassword), "/verify-2fa")

	// Fresh app state for the staged half: walk back into the reset flow.
	app = newTestApp(t)
	app.createUser("ada@example.com", oldPassword, testSecret)
	params = app.resetLinkParams("ada@example.com")
	token = app.csrfToken("/reset-password")
	resp = app.post("/reset-password", url.Values{
		"email":      {params.Get("email")},
		"token":      {params.Get("token")},
		"password":   {newPassword},
		"csrf_token": {token},
	}, appOrigin)
	assertRedirect(t, resp, "/reset-password/verify-2fa")

	token = app.csrfToken("/reset-password")
	resp = app.post("/reset-password/verify-2fa", url.Values{
		"code":       {currentTOTP(t, testSecret)},
		"csrf_token": {token},
	}, appOrigin)
	assertRedirect(t, resp, "/login")

	// The session was destroyed; the new password signs in fresh.
	assertRedirect(t, app.login("ada@example.com", newPassword), "/verify-2fa")
}

func TestPasswordResetSecondFactorWrongCode(t *testing.T) {
	app := newTestApp(t)
	app.createUser("ada@example.com", oldPassword, testSecret)

	params := app.resetLinkParams("ada@example.com")
	token := app.csrfToken("/reset-password")
	resp := app.post("/reset-password", url.Values{
		"email":      {params.Get("email")},
		"token":      {params.Get("token")},
		"password":   {newPassword},
		"csrf_token": {token},
	}, appOrigin)
	assertRedirect(t, resp, "/reset-password/verify-2fa")

	token = app.csrfToken("/reset-password")
	resp = app.post("/reset-password/verify-2fa", url.Values{
		"code":       {"000000"},
		"csrf_token": {token},
	}, appOrigin)
	assertStatus(t, resp, http.StatusUnauthorized)

	// The staged password never applied.
	assertRedirect(t, app.login("ada@example.com", oldPassword), "/verify-2fa")
}

func TestForgotPasswordGenericForUnknownEmail(t *testing.T) {
	app := newTestApp(t)

	token := app.csrfToken("/login")
	resp := app.post("/forgot-password", url.Values{
		"email":      {"nobody@example.com"},
		"csrf_token": {token},
	}, appOrigin)
	assertStatus(t, resp, http.StatusOK)

	if app.mailer.lastBody() != "" {
		t.Error("expected no mail for unknown email")
	}
}

func TestForgotPasswordRejectsForgedHost(t *testing.T) {
	app := newTestApp(t)
	app.createUser("ada@example.com", oldPassword, "")

	token := app.csrfToken("/login")
	req, err := http.NewRequest(http.MethodPost, app.srv.URL+"/forgot-password",
		strings.NewReader(url.Values{
			"email":      {"ada@example.com"},
			"csrf_token": {token},
		}.Encode()))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Host = "evil.test"
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Origin", appOrigin)
	resp, err := app.client.Do(req)
	if err != nil {
		t.Fatalf("POST /forgot-password: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)

	if app.mailer.lastBody() != "" {
		t.Error("expected no mail for a forged host header")
	}
}

func TestTwoFAEnrollmentFlow(t *testing.T) {
	app := newTestApp(t)
	app.createUser("ada@example.com", oldPassword, "")

	assertRedirect(t, app.login("ada@example.com", oldPassword), "/employee/dashboard")

	token := app.csrfToken("/employee/dashboard")
	resp := app.post("/settings/2fa/setup", url.Values{"csrf_token": {token}}, appOrigin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from setup, got %d", resp.StatusCode)
	}
	var setup struct {
		Secret          string `json:"secret"`
		ProvisioningURI string `json:"provisioning_uri"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&setup); err != nil {
		t.Fatalf("decode setup response: %v", err)
	}
	resp.Body.Close()
	if setup.Secret == "" || setup.ProvisioningURI == "" {
		t.Fatal("expected secret and provisioning uri")
	}

	// The secret is staged, not live: nothing persisted yet.
	user, _ := app.repo.GetByEmail(context.Background(), "ada@example.com")
	if user.TwoFASecret != nil {
		t.Fatal("secret persisted before verification")
	}

	token = app.csrfToken("/employee/dashboard")
	resp = app.post("/settings/2fa/verify", url.Values{
		"code":       {currentTOTP(t, setup.Secret)},
		"csrf_token": {token},
	}, appOrigin)
	assertStatus(t, resp, http.StatusOK)

	user, _ = app.repo.GetByEmail(context.Background(), "ada@example.com")
	if user.TwoFASecret == nil || *user.TwoFASecret != setup.Secret {
		t.Fatal("expected verified secret to persist")
	}

	// The next login now demands the second factor.
	authToken := app.csrfToken("/employee/dashboard")
	assertRedirect(t, app.post("/logout", url.Values{"csrf_token": {authToken}}, appOrigin), "/login")
	assertRedirect(t, app.login("ada@example.com", oldPassword), "/verify-2fa")
}

func TestSecondFactorLockoutDestroysSession(t *testing.T) {
	app := newTestApp(t)
	app.createUser("ada@example.com", oldPassword, testSecret)

	assertRedirect(t, app.login("ada@example.com", oldPassword), "/verify-2fa")

	for i := 0; i < 5; i++ {
		token := app.csrfToken("/verify-2fa")
		resp := app.post("/verify-2fa", url.Values{
			"code":       {"000000"},
			"csrf_token": {token},
		}, appOrigin)
		assertStatus(t, resp, http.StatusUnauthorized)
	}

	token := app.csrfToken("/verify-2fa")
	resp := app.post("/verify-2fa", url.Values{
		"code":       {currentTOTP(t, testSecret)},
		"csrf_token": {token},
	}, appOrigin)
	assertStatus(t, resp, http.StatusTooManyRequests)

	// The pending session is gone; the client is back at the entry point.
	assertRedirect(t, app.get("/employee/dashboard"), "/login")
}

func TestLockoutAcrossRequests(t *testing.T) {
	app := newTestApp(t)
	app.createUser("ada@example.com", oldPassword, "")

	for i := 0; i < 5; i++ {
		resp := app.login("ada@example.com", "totally wrong password")
		assertStatus(t, resp, http.StatusUnauthorized)
	}

	resp := app.login("ada@example.com", oldPassword)
	assertStatus(t, resp, http.StatusTooManyRequests)
}
