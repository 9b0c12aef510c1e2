package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"optikpos/backend/internal/store"
)

func TestWrapInfraClassifiesStatementErrors(t *testing.T) {
	if wrapInfra(nil) != nil {
		t.Fatalf("expected nil to pass through")
	}

	// Driver-level failures (connection loss, serialization aborts) become
	// retryable store-unavailable errors instead of leaking raw text.
	serializationAbort := &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
	if err := wrapInfra(serializationAbort); !errors.Is(err, store.ErrStoreUnavailable) {
		t.Fatalf("expected serialization abort to map to ErrStoreUnavailable, got %v", err)
	}
	if err := wrapInfra(errors.New("connection reset by peer")); !errors.Is(err, store.ErrStoreUnavailable) {
		t.Fatalf("expected generic driver error to map to ErrStoreUnavailable, got %v", err)
	}

	// Constraint violations stay caller mistakes.
	uniqueViolation := &pgconn.PgError{Code: "23505", ConstraintName: "invoices_invoice_no_key"}
	if err := wrapInfra(uniqueViolation); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected unique violation to map to ErrValidation, got %v", err)
	}

	// Errors already carrying a sentinel are never rewrapped.
	notFound := fmt.Errorf("%w: frame frame-x", store.ErrNotFound)
	if err := wrapInfra(notFound); !errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrStoreUnavailable) {
		t.Fatalf("expected not-found to pass through untouched, got %v", err)
	}
	unavailable := fmt.Errorf("%w: counter invoice: timeout", store.ErrStoreUnavailable)
	if got := wrapInfra(unavailable); got != unavailable {
		t.Fatalf("expected store-unavailable to pass through untouched, got %v", got)
	}
}
