package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestWrap_KeepsCauseAndCode(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("update stock: %w", Wrap(Persistence, "write AAPL", cause))

	if !errors.Is(err, cause) {
		t.Error("expected wrapped cause to be reachable")
	}
	if got := CodeOf(err); got != Persistence {
		t.Errorf("expected PERSISTENCE, got %s", got)
	}
	if !Is(err, Persistence) {
		t.Error("expected Is(PERSISTENCE) to be true")
	}
	if Is(err, Provider) {
		t.Error("expected Is(PROVIDER) to be false")
	}
}

func TestWrap_Message(t *testing.T) {
	err := Wrap(Provider, "finnhub", errors.New("HTTP 429"))
	if err.Message() != "finnhub: HTTP 429" {
		t.Errorf("unexpected message %q", err.Message())
	}

	err = Wrap(Provider, "", errors.New("HTTP 500"))
	if err.Message() != "HTTP 500" {
		t.Errorf("unexpected message %q", err.Message())
	}
}

func TestCodeOf_PlainError(t *testing.T) {
	if got := CodeOf(errors.New("boom")); got != Internal {
		t.Errorf("expected INTERNAL, got %s", got)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{BadRequest, http.StatusBadRequest},
		{Validation, http.StatusBadRequest},
		{NotFound, http.StatusNotFound},
		{Conflict, http.StatusConflict},
		{Persistence, http.StatusInternalServerError},
		{Config, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := New(tt.code, "x").HTTPStatus(); got != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.code, tt.want, got)
		}
	}
}
