package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestDSN(t *testing.T) {
	got := DSN(ClientConfig{Host: "db", Database: "bitoracle", User: "u", Password: "p"})
	want := "postgres://u:p@db:5432/bitoracle?sslmode=disable"
	if got != want {
		t.Fatalf("DSN: got %q, want %q", got, want)
	}
	if got := DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}); got != "postgres://x" {
		t.Fatalf("explicit DSN: got %q", got)
	}
}

func TestIsSerializationFailure(t *testing.T) {
	wrapped := fmt.Errorf("postgres: commit: %w", &pgconn.PgError{Code: "40001"})
	if !isSerializationFailure(wrapped) {
		t.Fatalf("40001 not detected through wrapping")
	}
	if isSerializationFailure(&pgconn.PgError{Code: "23505"}) {
		t.Fatalf("unique violation treated as retryable")
	}
	if isSerializationFailure(errors.New("plain")) {
		t.Fatalf("plain error treated as retryable")
	}
}

func TestParseU64(t *testing.T) {
	if v, err := parseU64("amount", "18446744073709551615"); err != nil || v != 18446744073709551615 {
		t.Fatalf("max uint64: got %d, %v", v, err)
	}
	if _, err := parseU64("amount", "-1"); err == nil {
		t.Fatalf("negative accepted")
	}
}
