package apperr

import (
	"errors"
	"fmt"
	"testing"

	"golang.org/x/text/language"
)

func TestWrapPreservesChain(t *testing.T) {
	sentinel := errors.New("boom")
	err := Wrap(TypeAPI, "calling backend", sentinel)

	if !errors.Is(err, sentinel) {
		t.Fatal("wrapped cause lost from chain")
	}
	if got := TypeOf(err); got != TypeAPI {
		t.Fatalf("TypeOf = %q, want %q", got, TypeAPI)
	}
	if got := TypeOf(fmt.Errorf("outer: %w", err)); got != TypeAPI {
		t.Fatalf("TypeOf through fmt wrap = %q, want %q", got, TypeAPI)
	}
}

func TestTypeOfPlainError(t *testing.T) {
	if got := TypeOf(errors.New("plain")); got != TypeUnexpected {
		t.Fatalf("TypeOf = %q, want %q", got, TypeUnexpected)
	}
}

func TestSeverityMapping(t *testing.T) {
	cases := []struct {
		typ  Type
		want Severity
	}{
		{TypeAuthentication, SeverityMedium},
		{TypeAuthorization, SeverityMedium},
		{TypeNetwork, SeverityHigh},
		{TypeAPI, SeverityHigh},
		{TypeValidation, SeverityLow},
		{TypeNotFound, SeverityLow},
		{TypeUnexpected, SeverityHigh},
	}
	for _, c := range cases {
		if got := c.typ.Severity(); got != c.want {
			t.Errorf("%s.Severity() = %q, want %q", c.typ, got, c.want)
		}
	}
}

func TestUserMessageLocalization(t *testing.T) {
	err := New(TypeAuthentication, "sign-in rejected")

	en := UserMessage(err, language.English)
	es := UserMessage(err, language.MustParse("es-MX"))
	fallback := UserMessage(err, language.Japanese)

	if en == "" || es == "" {
		t.Fatal("missing localized message")
	}
	if en == es {
		t.Fatal("Spanish message identical to English")
	}
	if fallback != en {
		t.Fatalf("unsupported language should fall back to English, got %q", fallback)
	}
}
