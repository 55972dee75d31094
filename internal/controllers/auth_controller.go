package controllers

import (
	"errors"
	"net/http"

	"github.com/bpajor/pay-man-sys/internal/csrf"
	"github.com/bpajor/pay-man-sys/internal/middleware"
	"github.com/bpajor/pay-man-sys/internal/models"
	"github.com/bpajor/pay-man-sys/internal/services"
	"github.com/bpajor/pay-man-sys/internal/session"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	msgInvalidCredentials = "Invalid email or password"
	msgTooManyAttempts    = "Too many attempts, try again later"
	msgInvalidCode        = "Invalid verification code"
	msgInvalidResetToken  = "Invalid or expired reset token"
	msgResetMailSent      = "If an account exists for that address, a reset link has been sent"
	msgInternalError      = "Internal server error"
)

// AuthController owns the login, second-factor, password-reset and logout
// surface. Session state transitions happen here; verification decisions
// live in the auth service.
type AuthController struct {
	authService *services.AuthService
	sessions    *middleware.SessionManager
}

func NewAuthController(authService *services.AuthService, sessions *middleware.SessionManager) *AuthController {
	return &AuthController{
		authService: authService,
		sessions:    sessions,
	}
}

// GetLogin bootstraps the login form: it guarantees an unauthenticated CSRF
// secret exists (middleware) and hands out a derived token.
func (ac *AuthController) GetLogin(c *gin.Context) {
	ac.issueCSRFToken(c)
}

// PostLogin is the credential-check entry point. Lockout admission runs
// first; bad credentials and unknown accounts produce the same generic
// message and both count against the lockout counter.
func (ac *AuthController) PostLogin(c *gin.Context) {
	sess := middleware.CurrentSession(c)
	log := middleware.Logger(c)

	email := c.PostForm("email")
	password := c.PostForm("password")
	if !validEmail(email) || password == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": msgInvalidCredentials})
		return
	}

	// A session parked in the reset flow may come back to the login form.
	sess.AbandonReset()

	result, err := ac.authService.Login(c.Request.Context(), email, password)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrLockedOut):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": msgTooManyAttempts})
		case errors.Is(err, services.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{"error": msgInvalidCredentials})
		default:
			log.Error("login failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternalError})
		}
		return
	}

	if result.SecondFactorRequired {
		if err := sess.BeginSecondFactor(result.Identity); err != nil {
			c.Redirect(http.StatusFound, "/login")
			return
		}
		if err := ac.sessions.Rotate(c, sess); err != nil {
			log.Error("failed to rotate session", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternalError})
			return
		}
		c.Redirect(http.StatusFound, "/verify-2fa")
		return
	}

	if err := ac.promote(c, sess, result.Identity); err != nil {
		log.Error("failed to promote session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternalError})
		return
	}
	c.Redirect(http.StatusFound, dashboardPath(result.Identity.AccountType))
}

// GetVerify2FA serves the second-factor prompt for a pending session.
func (ac *AuthController) GetVerify2FA(c *gin.Context) {
	sess := middleware.CurrentSession(c)
	if !sess.PendingSecondFactor() {
		c.Redirect(http.StatusFound, "/login")
		return
	}
	ac.issueCSRFToken(c)
}

// PostVerify2FA resolves the outstanding login second factor.
func (ac *AuthController) PostVerify2FA(c *gin.Context) {
	sess := middleware.CurrentSession(c)
	log := middleware.Logger(c)

	if !sess.PendingSecondFactor() {
		c.Redirect(http.StatusFound, "/login")
		return
	}

	code := c.PostForm("code")
	if !validCode(code) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": msgInvalidCode})
		return
	}

	identity := *sess.Identity
	if err := ac.authService.VerifyLoginCode(c.Request.Context(), identity.Email, code); err != nil {
		switch {
		case errors.Is(err, services.ErrLockedOut):
			// A locked-out pending session cannot proceed; drop it so the
			// client starts over from the login form once the lock expires.
			if err := ac.sessions.Destroy(c, sess); err != nil {
				log.Error("failed to destroy session", zap.Error(err))
			}
			c.JSON(http.StatusTooManyRequests, gin.H{"error": msgTooManyAttempts})
		case errors.Is(err, services.ErrInvalidCode):
			c.JSON(http.StatusUnauthorized, gin.H{"error": msgInvalidCode})
		case errors.Is(err, services.ErrSecondFactorNotEnrolled):
			c.Redirect(http.StatusFound, "/login")
		default:
			log.Error("second-factor verification failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternalError})
		}
		return
	}

	if err := ac.promote(c, sess, identity); err != nil {
		log.Error("failed to promote session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternalError})
		return
	}
	c.Redirect(http.StatusFound, dashboardPath(identity.AccountType))
}

// PostSignup registers a new credential row.
func (ac *AuthController) PostSignup(c *gin.Context) {
	log := middleware.Logger(c)

	name := c.PostForm("name")
	lastName := c.PostForm("last_name")
	email := c.PostForm("email")
	password := c.PostForm("password")
	confirm := c.PostForm("confirm_password")
	accountType := models.AccountType(c.PostForm("account_type"))

	switch {
	case !validName(name):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Name in an invalid format"})
		return
	case !validName(lastName):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Last name in an invalid format"})
		return
	case !validEmail(email):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email is invalid"})
		return
	case !validPassword(password):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Password does not meet the policy"})
		return
	case password != confirm:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Passwords do not match"})
		return
	case accountType != models.AccountTypeEmployee && accountType != models.AccountTypeManager:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Account type must be either employee or manager"})
		return
	}

	_, err := ac.authService.Register(c.Request.Context(), services.RegisterInput{
		Name:        name,
		LastName:    lastName,
		Email:       email,
		Password:    password,
		AccountType: accountType,
	})
	if err != nil {
		if errors.Is(err, services.ErrUserExists) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "User with email " + email + " already exists"})
			return
		}
		log.Error("signup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternalError})
		return
	}

	c.Redirect(http.StatusFound, "/login")
}

// PostForgotPassword kicks off the reset flow. The response is the same
// whether or not the account exists.
func (ac *AuthController) PostForgotPassword(c *gin.Context) {
	log := middleware.Logger(c)

	email := c.PostForm("email")
	if !validEmail(email) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email is invalid"})
		return
	}

	if err := ac.authService.RequestReset(c.Request.Context(), email, c.Request.Host); err != nil {
		if errors.Is(err, services.ErrHostNotAllowed) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Bad request"})
			return
		}
		log.Error("reset request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternalError})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": msgResetMailSent})
}

// GetResetPassword bootstraps the reset form reached from the mailed link.
func (ac *AuthController) GetResetPassword(c *gin.Context) {
	ac.issueCSRFToken(c)
}

// PostResetPassword consumes a reset token. Without a second factor the
// password changes here; with one, the new hash is staged in the session and
// the client is sent into the reset-time second-factor prompt.
func (ac *AuthController) PostResetPassword(c *gin.Context) {
	sess := middleware.CurrentSession(c)
	log := middleware.Logger(c)

	email := c.PostForm("email")
	token := c.PostForm("token")
	password := c.PostForm("password")
	if !validEmail(email) || token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": msgInvalidResetToken})
		return
	}
	if !validPassword(password) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Password does not meet the policy"})
		return
	}

	outcome, err := ac.authService.ConsumeReset(c.Request.Context(), email, token, password)
	if err != nil {
		if errors.Is(err, services.ErrInvalidResetToken) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": msgInvalidResetToken})
			return
		}
		log.Error("reset consumption failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternalError})
		return
	}

	if outcome.SecondFactorRequired {
		if err := sess.StageReset(email, outcome.StagedPasswordHash, outcome.StagedTokenHash); err != nil {
			c.Redirect(http.StatusFound, "/login")
			return
		}
		if err := ac.sessions.Save(c, sess); err != nil {
			log.Error("failed to save session", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternalError})
			return
		}
		c.Redirect(http.StatusFound, "/reset-password/verify-2fa")
		return
	}

	c.Redirect(http.StatusFound, "/login")
}

// PostResetVerify2FA finishes a staged reset. Success applies the staged
// password, clears the token and destroys the session so the user signs in
// fresh with the new password.
func (ac *AuthController) PostResetVerify2FA(c *gin.Context) {
	sess := middleware.CurrentSession(c)
	log := middleware.Logger(c)

	email, stagedHash, stagedTokenHash, ok := sess.ResetStaging()
	if !ok {
		c.Redirect(http.StatusFound, "/login")
		return
	}

	code := c.PostForm("code")
	if !validCode(code) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": msgInvalidCode})
		return
	}

	if err := ac.authService.ConfirmResetSecondFactor(c.Request.Context(), email, stagedHash, stagedTokenHash, code); err != nil {
		switch {
		case errors.Is(err, services.ErrLockedOut):
			if err := ac.sessions.Destroy(c, sess); err != nil {
				log.Error("failed to destroy session", zap.Error(err))
			}
			c.JSON(http.StatusTooManyRequests, gin.H{"error": msgTooManyAttempts})
		case errors.Is(err, services.ErrInvalidCode):
			c.JSON(http.StatusUnauthorized, gin.H{"error": msgInvalidCode})
		case errors.Is(err, services.ErrInvalidResetToken):
			c.JSON(http.StatusUnauthorized, gin.H{"error": msgInvalidResetToken})
		case errors.Is(err, services.ErrSecondFactorNotEnrolled):
			c.Redirect(http.StatusFound, "/login")
		default:
			log.Error("reset second-factor failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternalError})
		}
		return
	}

	if err := ac.sessions.Destroy(c, sess); err != nil {
		log.Error("failed to destroy session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternalError})
		return
	}
	c.Redirect(http.StatusFound, "/login")
}

// PostLogout destroys the session outright.
func (ac *AuthController) PostLogout(c *gin.Context) {
	sess := middleware.CurrentSession(c)
	if err := ac.sessions.Destroy(c, sess); err != nil {
		middleware.Logger(c).Error("failed to destroy session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternalError})
		return
	}
	c.Redirect(http.StatusFound, "/login")
}

// PostSetup2FA generates an enrollment for the authenticated user and
// stages the secret in the session until a code proves possession.
func (ac *AuthController) PostSetup2FA(c *gin.Context) {
	sess := middleware.CurrentSession(c)
	log := middleware.Logger(c)

	enrollment, err := ac.authService.BeginTwoFAEnrollment(c.Request.Context(), sess.Identity.UserID)
	if err != nil {
		log.Error("second-factor enrollment failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternalError})
		return
	}

	sess.PendingTwoFASecret = enrollment.Secret
	if err := ac.sessions.Save(c, sess); err != nil {
		log.Error("failed to save session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternalError})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"secret":           enrollment.Secret,
		"provisioning_uri": enrollment.ProvisioningURI,
	})
}

// PostVerify2FASetup turns the second factor on once the staged secret is
// confirmed with a valid code.
func (ac *AuthController) PostVerify2FASetup(c *gin.Context) {
	sess := middleware.CurrentSession(c)
	log := middleware.Logger(c)

	code := c.PostForm("code")
	if !validCode(code) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": msgInvalidCode})
		return
	}

	err := ac.authService.CompleteTwoFAEnrollment(c.Request.Context(), sess.Identity.UserID, sess.PendingTwoFASecret, code)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrSecondFactorNotEnrolled):
			c.JSON(http.StatusBadRequest, gin.H{"error": "No enrollment in progress"})
		case errors.Is(err, services.ErrInvalidCode):
			c.JSON(http.StatusUnauthorized, gin.H{"error": msgInvalidCode})
		default:
			log.Error("second-factor enrollment verification failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternalError})
		}
		return
	}

	sess.PendingTwoFASecret = ""
	if err := ac.sessions.Save(c, sess); err != nil {
		log.Error("failed to save session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternalError})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Second factor enabled"})
}

// promote completes authentication: the authenticated CSRF secret is issued
// at this exact moment, the unauthenticated one is discarded, and the
// session id is rotated across the privilege change.
func (ac *AuthController) promote(c *gin.Context, sess *session.Session, identity session.Identity) error {
	authSecret, err := csrf.GenerateSecret()
	if err != nil {
		return err
	}
	if err := sess.Authenticate(identity, authSecret); err != nil {
		return err
	}
	return ac.sessions.Rotate(c, sess)
}

func (ac *AuthController) issueCSRFToken(c *gin.Context) {
	sess := middleware.CurrentSession(c)
	token, err := csrf.IssueToken(sess.ActiveCSRFSecret())
	if err != nil {
		middleware.Logger(c).Error("failed to issue csrf token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternalError})
		return
	}
	c.JSON(http.StatusOK, gin.H{"csrf_token": token})
}

func dashboardPath(accountType models.AccountType) string {
	return "/" + string(accountType) + "/dashboard"
}
