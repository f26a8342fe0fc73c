package recaptcha

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/cognirehab/securekit/apperr"
)

type fakeFunctions struct {
	lastName    string
	lastPayload any
	response    verifyResponse
	err         error
}

func (f *fakeFunctions) InvokeFunction(_ context.Context, name string, payload any, result any) error {
	f.lastName = name
	f.lastPayload = payload
	if f.err != nil {
		return f.err
	}
	raw, err := json.Marshal(f.response)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, result)
}

func TestVerifyAccepted(t *testing.T) {
	fns := &fakeFunctions{response: verifyResponse{Success: true, Score: 0.9, Action: "register"}}
	v := NewVerifier(fns)

	if err := v.Verify(context.Background(), "tok-123", "register"); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if fns.lastName != "verify-recaptcha" {
		t.Fatalf("invoked %q, want verify-recaptcha", fns.lastName)
	}
	req, ok := fns.lastPayload.(verifyRequest)
	if !ok || req.Token != "tok-123" || req.Action != "register" {
		t.Fatalf("unexpected payload: %#v", fns.lastPayload)
	}
}

func TestVerifyLowScore(t *testing.T) {
	fns := &fakeFunctions{response: verifyResponse{Success: true, Score: 0.3, Action: "register"}}
	v := NewVerifier(fns)

	err := v.Verify(context.Background(), "tok-123", "register")
	if err == nil {
		t.Fatal("score below threshold should fail")
	}
	if apperr.TypeOf(err) != apperr.TypeValidation {
		t.Fatalf("error type = %v, want validation", apperr.TypeOf(err))
	}
}

func TestVerifyUnsuccessful(t *testing.T) {
	fns := &fakeFunctions{response: verifyResponse{Success: false, Score: 0.9}}
	v := NewVerifier(fns)
	if err := v.Verify(context.Background(), "tok-123", "register"); err == nil {
		t.Fatal("rejected verification should fail")
	}
}

func TestVerifyActionMismatch(t *testing.T) {
	fns := &fakeFunctions{response: verifyResponse{Success: true, Score: 0.9, Action: "login"}}
	v := NewVerifier(fns)
	if err := v.Verify(context.Background(), "tok-123", "register"); err == nil {
		t.Fatal("action mismatch should fail")
	}
}

func TestVerifyEmptyToken(t *testing.T) {
	fns := &fakeFunctions{}
	v := NewVerifier(fns)
	if err := v.Verify(context.Background(), "", "register"); err == nil {
		t.Fatal("empty token should fail")
	}
	if fns.lastName != "" {
		t.Fatal("empty token must not reach the backend")
	}
}

func TestVerifyBackendError(t *testing.T) {
	cause := apperr.New(apperr.TypeNetwork, "connection refused")
	fns := &fakeFunctions{err: cause}
	v := NewVerifier(fns)

	err := v.Verify(context.Background(), "tok-123", "register")
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped backend error, got %v", err)
	}
}

func TestCustomThreshold(t *testing.T) {
	fns := &fakeFunctions{response: verifyResponse{Success: true, Score: 0.6, Action: "register"}}
	v := NewVerifier(fns, WithMinScore(0.7))
	if err := v.Verify(context.Background(), "tok-123", "register"); err == nil {
		t.Fatal("score below custom threshold should fail")
	}
}
