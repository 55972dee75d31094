package controllers

import (
	"regexp"
	"unicode"
)

var (
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	namePattern  = regexp.MustCompile(`^[\p{L}'’\- ]+$`)
	codePattern  = regexp.MustCompile(`^[0-9]{6}$`)
)

func validEmail(email string) bool {
	return len(email) <= 254 && emailPattern.MatchString(email)
}

func validName(name string) bool {
	return len(name) >= 2 && len(name) <= 50 && namePattern.MatchString(name)
}

// validPassword enforces the account password policy: 15-255 characters
// with at least one uppercase letter, one lowercase letter, one digit and
// one special character.
func validPassword(password string) bool {
	if len(password) < 15 || len(password) > 255 {
		return false
	}
	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			special = true
		}
	}
	return upper && lower && digit && special
}

func validCode(code string) bool {
	return codePattern.MatchString(code)
}
