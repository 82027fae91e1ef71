package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// Strength levels reported by ValidateStrength.
const (
	StrengthWeak   = "Weak"
	StrengthFair   = "Fair"
	StrengthGood   = "Good"
	StrengthStrong = "Strong"
)

// defaultDenyList holds substrings that cost a score bonus when present.
// The caller's own identity hints (email local part) are appended per call.
var defaultDenyList = []string{
	"password", "admin", "123456", "qwerty", "letmein", "welcome", "hospital",
}

// Policy hashes, verifies and scores passwords.
type Policy struct {
	MinLength int
	Cost      int
	DenyList  []string
}

// DefaultPolicy returns the production rule set.
func DefaultPolicy() Policy {
	return Policy{
		MinLength: 8,
		Cost:      bcrypt.DefaultCost,
		DenyList:  defaultDenyList,
	}
}

// Hash derives a salted bcrypt hash. Identical inputs produce distinct
// hashes because bcrypt salts per call.
func (p Policy) Hash(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("%w: password is empty", ErrInvalidInput)
	}
	cost := p.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify reports whether password matches hash. Malformed or corrupt hashes
// verify as false; mismatches are not exceptional.
func (p Policy) Verify(password, hash string) bool {
	if hash == "" || password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// StrengthReport is the outcome of ValidateStrength. Valid is true iff no
// rule was violated, regardless of score.
type StrengthReport struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
	Score  int      `json:"score"`
	Level  string   `json:"level"`
}

// ValidateStrength applies the rule set and computes a 0-100 score.
// hints are extra deny-list entries such as the user's email local part.
func (p Policy) ValidateStrength(password string, hints ...string) StrengthReport {
	minLen := p.MinLength
	if minLen == 0 {
		minLen = 8
	}

	var report StrengthReport
	runes := []rune(password)
	if len(runes) < minLen {
		report.Errors = append(report.Errors, "too_short")
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range runes {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	classes := 0
	for _, c := range []struct {
		ok     bool
		reason string
	}{
		{hasUpper, "missing_upper"},
		{hasLower, "missing_lower"},
		{hasDigit, "missing_digit"},
		{hasSymbol, "missing_symbol"},
	} {
		if c.ok {
			classes++
		} else {
			report.Errors = append(report.Errors, c.reason)
		}
	}

	score := classes * 15
	if len(runes) >= minLen {
		score += 10
	}
	if len(runes) >= 12 {
		score += 10
	}
	if len(runes) >= 16 {
		score += 10
	}
	if !p.denied(password, hints) {
		score += 10
	}
	if score > 100 {
		score = 100
	}

	report.Score = score
	report.Valid = len(report.Errors) == 0
	switch {
	case score >= 80:
		report.Level = StrengthStrong
	case score >= 60:
		report.Level = StrengthGood
	case score >= 40:
		report.Level = StrengthFair
	default:
		report.Level = StrengthWeak
	}
	return report
}

func (p Policy) denied(password string, hints []string) bool {
	lowered := strings.ToLower(password)
	for _, entry := range p.DenyList {
		if entry != "" && strings.Contains(lowered, entry) {
			return true
		}
	}
	for _, hint := range hints {
		hint = strings.TrimSpace(strings.ToLower(hint))
		if len(hint) >= 3 && strings.Contains(lowered, hint) {
			return true
		}
	}
	return false
}

// tempAlphabet omits lookalikes (0/O, 1/l/I) so a reset password can be read
// over the phone.
const tempAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZabcdefghjkmnpqrstuvwxyz23456789"

const tempLength = 10

// GenerateTemporary produces a communicable one-time password. It is not
// required to pass ValidateStrength; the account is flagged for a forced
// change whenever one is issued.
func GenerateTemporary() (string, error) {
	var b strings.Builder
	b.Grow(tempLength)
	max := big.NewInt(int64(len(tempAlphabet)))
	for i := 0; i < tempLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate temporary password: %w", err)
		}
		b.WriteByte(tempAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// EmailHints derives deny-list hints from an email address.
func EmailHints(email string) []string {
	local := emailLocalPart(strings.TrimSpace(email))
	if local == "" {
		return nil
	}
	return []string{local}
}

// emailLocalPart extracts the part before '@' for deny-list hints.
func emailLocalPart(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}
