package password

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nbutton23/zxcvbn-go"
)

// ErrPolicy is wrapped by every [PolicyError].
var ErrPolicy = errors.New("password policy violation")

// Policy bounds acceptable new passwords.
type Policy struct {
	MinLength int
	MaxLength int
	// MinScore is the minimum zxcvbn score (0-4). Zero disables the check.
	MinScore int
}

// DefaultPolicy returns the policy applied to registration and password changes.
func DefaultPolicy() Policy {
	return Policy{MinLength: 10, MaxLength: 128, MinScore: 2}
}

// PolicyError lists the rules a password failed. Reasons are safe to show to clients.
type PolicyError struct {
	Reasons []string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("%s: %s", ErrPolicy, strings.Join(e.Reasons, "; "))
}

// Unwrap returns [ErrPolicy].
func (e *PolicyError) Unwrap() error { return ErrPolicy }

// Validate checks pw against p. userInputs (email, display name) are fed to the
// strength estimator so passwords derived from them score low.
func (p Policy) Validate(pw string, userInputs ...string) error {
	var reasons []string

	if len(pw) < p.MinLength {
		reasons = append(reasons, fmt.Sprintf("must be at least %d bytes", p.MinLength))
	}
	if p.MaxLength > 0 && len(pw) > p.MaxLength {
		reasons = append(reasons, fmt.Sprintf("must be at most %d bytes", p.MaxLength))
	}
	if strings.TrimSpace(pw) == "" {
		reasons = append(reasons, "must not be blank")
	}

	if len(reasons) == 0 && p.MinScore > 0 {
		inputs := make([]string, 0, len(userInputs))
		for _, in := range userInputs {
			if in = strings.TrimSpace(in); in != "" {
				inputs = append(inputs, in)
			}
		}
		if zxcvbn.PasswordStrength(pw, inputs).Score < p.MinScore {
			reasons = append(reasons, "is too easy to guess")
		}
	}

	if len(reasons) > 0 {
		return &PolicyError{Reasons: reasons}
	}
	return nil
}
