package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestStorage_KeepsDriverMessage(t *testing.T) {
	cause := errors.New(`relation "dt_x" does not exist`)
	err := fmt.Errorf("add column: %w", Storage("alter table", cause))

	appErr, ok := As(err)
	if !ok {
		t.Fatalf("expected *AppError in chain, got %T", err)
	}
	if appErr.Status != 500 {
		t.Fatalf("expected status 500, got %d", appErr.Status)
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected driver error to be reachable with errors.Is")
	}
	if got := appErr.Error(); got != `alter table: relation "dt_x" does not exist` {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestIs(t *testing.T) {
	if !Is(Conflict("dup"), CodeConflict) {
		t.Fatal("expected conflict code")
	}
	if Is(NotFound("view", "1"), CodeConflict) {
		t.Fatal("not found must not match conflict")
	}
	if Is(errors.New("plain"), CodeNotFound) {
		t.Fatal("plain errors carry no code")
	}
}

func TestInvalid_CarriesDetail(t *testing.T) {
	err := Invalid("age", "type", "age must be a number")
	if err.Status != 422 || len(err.Details) != 1 || err.Details[0].Field != "age" {
		t.Fatalf("unexpected error shape: %+v", err)
	}
}
