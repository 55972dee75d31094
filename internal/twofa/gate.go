// Package twofa wraps time-based one-time code generation and validation.
// The gate is identity-agnostic: the login flow and the password-reset flow
// both use it, each under its own lockout namespace.
package twofa

import (
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

type Gate struct {
	issuer string
	period uint
	digits uint
}

// Enrollment is handed back to the user once; only the secret is ever
// persisted, and only after a successful verification.
type Enrollment struct {
	Secret          string
	ProvisioningURI string
}

func NewGate(issuer string, period, digits uint) *Gate {
	if period == 0 {
		period = 30
	}
	if digits == 0 {
		digits = 6
	}
	return &Gate{issuer: issuer, period: period, digits: digits}
}

// Enroll generates a fresh secret bound to the account and the
// authenticator-app provisioning URI for it.
func (g *Gate) Enroll(accountName string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      g.issuer,
		AccountName: accountName,
		Period:      g.period,
		Digits:      gateDigits(g.digits),
	})
	if err != nil {
		return nil, err
	}

	return &Enrollment{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
	}, nil
}

// Verify checks the submitted code against the secret, tolerating one time
// step of clock skew either way.
func (g *Gate) Verify(secret, code string) bool {
	valid, err := totp.ValidateCustom(
		code,
		secret,
		time.Now(),
		totp.ValidateOpts{
			Period:    g.period,
			Skew:      1,
			Digits:    gateDigits(g.digits),
			Algorithm: otp.AlgorithmSHA1,
		},
	)
	if err != nil {
		return false
	}
	return valid
}

func gateDigits(d uint) otp.Digits {
	switch d {
	case 8:
		return otp.DigitsEight
	default:
		return otp.DigitsSix
	}
}
