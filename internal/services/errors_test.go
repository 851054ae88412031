package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"tweetcast/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrCollaborator, "synthesis", "synthesize", "segment 2", base)
	if !errors.Is(err, services.ErrCollaborator) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"synthesis", "synthesize", "segment 2", "boom"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestKindMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"validation", services.NewValidationError("payload", []string{"podcastId is required"}), services.KindValidation},
		{"not found", services.NotFound("fetching", "podcast", 9), services.KindNotFound},
		{"collaborator", services.Collaborator("fetching", "timeline", errors.New("503")), services.KindCollaborator},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), services.KindCollaborator},
		{"exhausted", &services.ExhaustedError{JobID: "a", JobType: "fetch_tweets", Attempts: 3, Cause: services.NotFound("fetching", "user", 1)}, services.KindExhausted},
		{"plain", errors.New("boom"), services.KindInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.Kind(tc.err); got != tc.want {
				t.Fatalf("Kind() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestCollaboratorTimeoutKeepsBothMarkers(t *testing.T) {
	err := services.Collaborator("synthesis", "tts", context.DeadlineExceeded)
	if !errors.Is(err, services.ErrCollaborator) || !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected collaborator and timeout markers, got %v", err)
	}
	if again := services.Collaborator("synthesis", "tts", err); again != err {
		t.Fatal("expected already-wrapped collaborator error to pass through")
	}
}

func TestValidationErrorListsProblems(t *testing.T) {
	if services.NewValidationError("payload", nil) != nil {
		t.Fatal("expected nil for no problems")
	}
	err := services.NewValidationError("fetch_tweets payload", []string{"podcastId is required", "sourceValue is required"})
	var verr *services.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if len(verr.Problems) != 2 {
		t.Fatalf("expected 2 problems, got %v", verr.Problems)
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatal("expected ErrValidation marker")
	}
	if !strings.Contains(err.Error(), "sourceValue is required") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestExhaustedErrorUnwrapsCause(t *testing.T) {
	cause := services.NotFound("fetching", "podcast", 3)
	err := &services.ExhaustedError{JobID: "j1", JobType: "fetch_tweets", Attempts: 3, Cause: cause}
	if !errors.Is(err, services.ErrExhaustedRetries) {
		t.Fatal("expected exhausted marker")
	}
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatal("expected cause to remain reachable")
	}
	if !strings.Contains(err.Error(), "after 3 attempts") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
