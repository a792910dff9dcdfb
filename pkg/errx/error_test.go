package errx

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestWrapStoreKeepsCauseAndHidesIt(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp: connection refused")
	err := WrapStore(cause)

	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
	if got := UserMessage(err); got != SystemErrorMessage {
		t.Fatalf("UserMessage() = %q", got)
	}
	if got := StatusOf(fmt.Errorf("turn: %w", err)); got != http.StatusServiceUnavailable {
		t.Fatalf("StatusOf() = %d", got)
	}
}

func TestUserMessageForPlainError(t *testing.T) {
	t.Parallel()

	if got := UserMessage(errors.New("boom")); got != SystemErrorMessage {
		t.Fatalf("UserMessage() = %q", got)
	}
	if got := StatusOf(errors.New("boom")); got != http.StatusInternalServerError {
		t.Fatalf("StatusOf() = %d", got)
	}
	if WrapStore(nil) != nil {
		t.Fatal("WrapStore(nil) must be nil")
	}
}
