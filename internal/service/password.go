package service

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	maxPasswordBytes  = 72 // bcrypt ignores the rest
	minUsernameLength = 4
	maxUsernameLength = 64
	maxEmailLength    = 254
)

// Usernames are word characters and dots, no leading dot, no trailing dot, no "..".
var usernamePattern = regexp.MustCompile(`^[\p{L}\p{N}_][\p{L}\p{N}_.]*$`)

var commonPasswords = map[string]struct{}{
	"password": {}, "password1": {}, "12345678": {}, "123456789": {}, "qwertyuiop": {},
	"iloveyou": {}, "11111111": {}, "sunshine": {}, "princess": {}, "football": {},
}

// PasswordHasher hashes and verifies passwords with bcrypt.
type PasswordHasher struct {
	cost      int
	dummyHash []byte
}

func NewPasswordHasher(cost int) (*PasswordHasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("dummy-password"), cost)
	if err != nil {
		return nil, fmt.Errorf("generate dummy hash: %w", err)
	}
	return &PasswordHasher{cost: cost, dummyHash: dummy}, nil
}

func (h *PasswordHasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// Verify reports whether password matches hash. An empty hash is compared against a dummy so
// unknown users cost the same as known ones.
func (h *PasswordHasher) Verify(hash, password string) bool {
	if hash == "" {
		_ = bcrypt.CompareHashAndPassword(h.dummyHash, []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func validateUsername(verr *ValidationError, username string) {
	switch {
	case username == "":
		verr.Add("username", "This field is required.")
	case len(username) < minUsernameLength:
		verr.Add("username", fmt.Sprintf("Ensure this field has at least %d characters.", minUsernameLength))
	case len(username) > maxUsernameLength:
		verr.Add("username", fmt.Sprintf("Ensure this field has no more than %d characters.", maxUsernameLength))
	case !usernamePattern.MatchString(username) || strings.Contains(username, "..") || strings.HasSuffix(username, "."):
		verr.Add("username", "Username must contain only letters, numbers, periods, and underscores.")
	}
}

func validateEmail(verr *ValidationError, email string) {
	switch {
	case email == "":
		verr.Add("email", "This field is required.")
	case len(email) > maxEmailLength:
		verr.Add("email", fmt.Sprintf("Ensure this field has no more than %d characters.", maxEmailLength))
	default:
		addr, err := mail.ParseAddress(email)
		if err != nil || addr.Address != email {
			verr.Add("email", "Enter a valid email address.")
		}
	}
}

func validatePassword(verr *ValidationError, field, password, username string) {
	if password == "" {
		verr.Add(field, "This field is required.")
		return
	}
	if len(password) < minPasswordLength {
		verr.Add(field, fmt.Sprintf("This password is too short. It must contain at least %d characters.", minPasswordLength))
	}
	if len(password) > maxPasswordBytes {
		verr.Add(field, fmt.Sprintf("This password is too long. It must contain at most %d bytes.", maxPasswordBytes))
	}
	if _, ok := commonPasswords[strings.ToLower(password)]; ok {
		verr.Add(field, "This password is too common.")
	}
	if strings.IndexFunc(password, func(r rune) bool { return !unicode.IsDigit(r) }) < 0 {
		verr.Add(field, "This password is entirely numeric.")
	}
	if username != "" && strings.EqualFold(password, username) {
		verr.Add(field, "The password is too similar to the username.")
	}
}
