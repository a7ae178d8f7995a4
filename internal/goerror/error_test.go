package goerror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

type fakeFields map[string]string

func (f fakeFields) Error() string              { return "fields" }
func (f fakeFields) Values() map[string]string { return f }

func TestNewValidationCollectsFields(t *testing.T) {
	err := NewValidation(fakeFields{"name": "name is required"}, "event_date", "bad date")

	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if e.Kind() != KindValidation {
		t.Fatalf("kind = %s", e.Kind())
	}
	if e.Fields()["name"] != "name is required" || e.Fields()["event_date"] != "bad date" {
		t.Fatalf("unexpected fields: %v", e.Fields())
	}
	if e.StatusCode() != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", e.StatusCode())
	}
}

func TestKindOfThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("update: %w", NewNotFound("event", "abc"))

	if !IsNotFound(wrapped) {
		t.Fatal("expected not found")
	}
	if !errors.Is(wrapped, ErrNotFound) {
		t.Fatal("expected errors.Is ErrNotFound")
	}
	if IsValidation(wrapped) {
		t.Fatal("not a validation error")
	}
	if KindOf(errors.New("plain")) != KindInternal {
		t.Fatal("plain errors are internal")
	}
}

func TestStoreIOUnwrap(t *testing.T) {
	cause := errors.New("disk gone")
	err := NewStoreIO(cause)

	if !errors.Is(err, cause) {
		t.Fatal("cause should be reachable")
	}
	if !IsStoreIO(err) {
		t.Fatal("expected store io kind")
	}
	if got := err.Error(); got != "store unavailable: disk gone" {
		t.Fatalf("Error() = %q", got)
	}
}
