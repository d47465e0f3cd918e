package apperrors

import (
	"errors"
	"net/http/httptest"
	"testing"
)

func TestMeta_KnownCode(t *testing.T) {
	meta, ok := Meta(NotFound)
	if !ok {
		t.Fatal("expected NotFound to be a known code")
	}
	if meta.HTTPStatus != 404 {
		t.Fatalf("expected HTTP 404 for NotFound, got %d", meta.HTTPStatus)
	}
}

func TestKnown_UnknownCode(t *testing.T) {
	if Known(Code("dedupe.nonexistent")) {
		t.Fatal("expected unregistered code to be unknown")
	}
}

func TestList_IsSortedAndComplete(t *testing.T) {
	codes := List()
	if len(codes) == 0 {
		t.Fatal("expected at least one registered code")
	}
	for i := 1; i < len(codes); i++ {
		if codes[i-1] >= codes[i] {
			t.Fatalf("expected sorted codes, got %q before %q", codes[i-1], codes[i])
		}
	}
}

func TestNewEnvelope_FallsBackToInternalForUnknownCode(t *testing.T) {
	env := NewEnvelope(Code("dedupe.nonexistent"), "boom", "req-1", "trace-1", nil)
	if env.Error.Code != Internal {
		t.Fatalf("expected fallback to Internal code, got %q", env.Error.Code)
	}
}

func TestNewEnvelope_DetailsAreSortedDeterministically(t *testing.T) {
	details := map[string]any{"zeta": "1", "alpha": "2"}
	env1 := NewEnvelope(InvalidInput, "bad input", "", "", details)
	env2 := NewEnvelope(InvalidInput, "bad input", "", "", details)
	if len(env1.Error.Details) != len(env2.Error.Details) {
		t.Fatalf("expected stable detail count across calls")
	}
	if env1.Error.Details[0].K != "alpha" {
		t.Fatalf("expected details sorted alphabetically, got %+v", env1.Error.Details)
	}
}

func TestNewEnvelope_SanitizesControlCharacters(t *testing.T) {
	env := NewEnvelope(InvalidInput, "bad\x00input\x1f", "", "", nil)
	if env.Error.Message != "badinput" {
		t.Fatalf("expected control characters stripped, got %q", env.Error.Message)
	}
}

func TestHTTPStatusFor_DefaultsTo500ForUnknown(t *testing.T) {
	if got := HTTPStatusFor(Code("dedupe.nonexistent")); got != 500 {
		t.Fatalf("expected default 500 for unknown code, got %d", got)
	}
}

func TestFromError_NilErrorUsesFallback(t *testing.T) {
	env := FromError(nil, NotFound, "", "")
	if env.Error.Code != NotFound {
		t.Fatalf("expected fallback code NotFound, got %q", env.Error.Code)
	}
}

func TestFromError_UnknownFallbackBecomesInternal(t *testing.T) {
	env := FromError(errors.New("boom"), Code("dedupe.nonexistent"), "", "")
	if env.Error.Code != Internal {
		t.Fatalf("expected unknown fallback to become Internal, got %q", env.Error.Code)
	}
}

func TestWriteHTTP_WritesStatusAndBody(t *testing.T) {
	rec := httptest.NewRecorder()
	env := NewEnvelope(NotFound, "missing", "", "", nil)
	WriteHTTP(rec, HTTPStatusFor(NotFound), env)

	if rec.Code != 404 {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("expected a non-empty response body")
	}
}
