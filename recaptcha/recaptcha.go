// Package recaptcha gates registration behind a server-side token check.
// The token itself is produced elsewhere; this package only forwards it to
// the verification edge function and applies the score threshold.
package recaptcha

import (
	"context"
	"fmt"

	"github.com/cognirehab/securekit/apperr"
	"github.com/cognirehab/securekit/backend"
)

// MinScore is the lowest acceptable verification score. Scores run 0.0
// (almost certainly a bot) to 1.0 (almost certainly human).
const MinScore = 0.5

const functionName = "verify-recaptcha"

// Verifier checks reCAPTCHA tokens through the backend.
type Verifier struct {
	fns      backend.FunctionAPI
	minScore float64
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithMinScore overrides the score threshold.
func WithMinScore(s float64) Option {
	return func(v *Verifier) { v.minScore = s }
}

// NewVerifier creates a Verifier over the backend's function API.
func NewVerifier(fns backend.FunctionAPI, opts ...Option) *Verifier {
	v := &Verifier{fns: fns, minScore: MinScore}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

type verifyRequest struct {
	Token  string `json:"token"`
	Action string `json:"action"`
}

type verifyResponse struct {
	Success bool    `json:"success"`
	Score   float64 `json:"score"`
	Action  string  `json:"action"`
}

// Verify submits the token for the given action and returns nil only when
// the check succeeded, the action matches, and the score clears the
// threshold. An empty token fails without a backend round trip.
func (v *Verifier) Verify(ctx context.Context, token, action string) error {
	if token == "" {
		return apperr.New(apperr.TypeValidation, "recaptcha token is required")
	}

	var resp verifyResponse
	if err := v.fns.InvokeFunction(ctx, functionName, verifyRequest{Token: token, Action: action}, &resp); err != nil {
		return fmt.Errorf("verifying recaptcha token: %w", err)
	}

	if !resp.Success {
		return apperr.New(apperr.TypeValidation, "recaptcha verification rejected")
	}
	if resp.Action != "" && action != "" && resp.Action != action {
		return apperr.New(apperr.TypeValidation, "recaptcha action mismatch")
	}
	if resp.Score < v.minScore {
		return apperr.New(apperr.TypeValidation,
			fmt.Sprintf("recaptcha score %.2f below threshold %.2f", resp.Score, v.minScore))
	}
	return nil
}
