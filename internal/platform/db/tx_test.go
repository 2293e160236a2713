package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestTxFromContext_Nil(t *testing.T) {
	tx := TxFromContext(context.Background())
	if tx != nil {
		t.Error("expected nil tx from empty context")
	}
}

func TestTxFromContext_WithWrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBTxKey, "not-a-tx")
	tx := TxFromContext(ctx)
	if tx != nil {
		t.Error("expected nil when context value is wrong type")
	}
}

func TestNotFound(t *testing.T) {
	if err := NotFound(pgx.ErrNoRows); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	wrapped := fmt.Errorf("scan: %w", pgx.ErrNoRows)
	if err := NotFound(wrapped); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for wrapped ErrNoRows, got %v", err)
	}
	other := errors.New("connection refused")
	if err := NotFound(other); err != other {
		t.Errorf("expected passthrough, got %v", err)
	}
	if err := NotFound(nil); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{"plain error", errors.New("boom"), "", false},
		{"unique any constraint", &pgconn.PgError{Code: "23505", ConstraintName: "uq_a"}, "", true},
		{"unique matching constraint", &pgconn.PgError{Code: "23505", ConstraintName: "uq_a"}, "uq_a", true},
		{"unique other constraint", &pgconn.PgError{Code: "23505", ConstraintName: "uq_b"}, "uq_a", false},
		{"check violation", &pgconn.PgError{Code: "23514"}, "", false},
		{"wrapped unique", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUniqueViolation(tt.err, tt.constraint); got != tt.want {
				t.Errorf("IsUniqueViolation() = %v, want %v", got, tt.want)
			}
		})
	}
}
