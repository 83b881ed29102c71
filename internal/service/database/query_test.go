package database

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Datify-sh/Datify/internal/domain"
)

func TestStatementKeyword(t *testing.T) {
	cases := []struct {
		name string
		sql  string
		want string
	}{
		{"plain select", "SELECT * FROM users", "SELECT"},
		{"lowercase", "select 1", "SELECT"},
		{"leading line comment", "-- count them\nSELECT count(*) FROM t", "SELECT"},
		{"leading block comment", "/* multi\nline */ UPDATE t SET a = 1", "UPDATE"},
		{"keyword inside string", "INSERT INTO t VALUES ('SELECT')", "INSERT"},
		{"escaped quote in string", "INSERT INTO t VALUES ('it''s SELECT time')", "INSERT"},
		{"quoted identifier", `DELETE FROM "select" WHERE id = 1`, "DELETE"},
		{"subquery ignored", "DELETE FROM t WHERE id IN (SELECT id FROM old)", "DELETE"},
		{"with cte", "WITH ids AS (SELECT id FROM t) DELETE FROM t WHERE id IN (SELECT id FROM ids)", "DELETE"},
		{"with recursive", "WITH RECURSIVE r AS (SELECT 1) SELECT * FROM r", "SELECT"},
		{"with select", "WITH a AS (DELETE FROM t RETURNING id) SELECT * FROM a", "SELECT"},
		{"explain", "EXPLAIN SELECT 1", "EXPLAIN"},
		{"empty", "   ", ""},
		{"only comment", "-- nothing here", ""},
		{"unterminated with", "WITH a AS (SELECT 1)", ""},
	}
	for _, tc := range cases {
		if got := statementKeyword(tc.sql); got != tc.want {
			t.Errorf("%s: statementKeyword(%q) = %q, want %q", tc.name, tc.sql, got, tc.want)
		}
	}
}

func TestQueryValidation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.seed(t, "d1", "orders", domain.StatusRunning, "secret-pw-1", nil)

	cases := []struct {
		name  string
		query string
		code  domain.ErrorCode
	}{
		{"empty", "   ", domain.CodeBadName},
		{"oversized", "SELECT '" + strings.Repeat("x", maxQueryLength) + "'", domain.CodeBadName},
		{"drop database", "DROP DATABASE postgres", domain.CodeBadName},
		{"alter system", "alter system set work_mem = '1GB'", domain.CodeBadName},
		{"truncate", "TRUNCATE users", domain.CodeBadName},
	}
	for _, tc := range cases {
		_, err := h.svc.Query(ctx, asOwner, "d1", QueryInput{Query: tc.query})
		if !domain.IsCode(err, tc.code) {
			t.Fatalf("%s: expected %s, got %v", tc.name, tc.code, err)
		}
	}
}

func TestQueryRequiresPostgres(t *testing.T) {
	h := newHarness(t, &stubAdapter{kind: domain.EngineValkey})
	ctx := context.Background()
	h.seed(t, "d1", "cache", domain.StatusRunning, "secret-pw-1", nil)

	_, err := h.svc.Query(ctx, asOwner, "d1", QueryInput{Query: "SELECT 1"})
	if !domain.IsCode(err, domain.CodeBadName) {
		t.Fatalf("expected BAD_NAME for key-value instance, got %v", err)
	}
}

func TestQueryRequiresRunningInstance(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.seed(t, "d1", "orders", domain.StatusStopped, "secret-pw-1", nil)

	_, err := h.svc.Query(ctx, asOwner, "d1", QueryInput{Query: "SELECT 1"})
	if !domain.IsCode(err, domain.CodeConflictingState) {
		t.Fatalf("expected CONFLICTING_STATE, got %v", err)
	}
}

func TestQueryOwnershipEnforced(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.seed(t, "d1", "orders", domain.StatusRunning, "secret-pw-1", nil)

	_, err := h.svc.Query(ctx, asStranger, "d1", QueryInput{Query: "SELECT 1"})
	if !domain.IsCode(err, domain.CodeForbidden) {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
}

func TestQueryUnreachableInstance(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.seed(t, "d1", "orders", domain.StatusRunning, "secret-pw-1", nil)

	_, err := h.svc.Query(ctx, asOwner, "d1", QueryInput{Query: "SELECT 1", Timeout: 2 * time.Second})
	if !domain.IsCode(err, domain.CodeRuntimeUnavailable) {
		t.Fatalf("expected RUNTIME_UNAVAILABLE, got %v", err)
	}
}

func TestClampRowLimitAndTimeout(t *testing.T) {
	if got := clampRowLimit(0); got != defaultRowLimit {
		t.Fatalf("clampRowLimit(0) = %d, want %d", got, defaultRowLimit)
	}
	if got := clampRowLimit(50_000); got != maxRowLimit {
		t.Fatalf("clampRowLimit(50000) = %d, want %d", got, maxRowLimit)
	}
	if got := clampRowLimit(25); got != 25 {
		t.Fatalf("clampRowLimit(25) = %d, want 25", got)
	}
	if got := clampQueryTimeout(0); got != defaultQueryTimeout {
		t.Fatalf("clampQueryTimeout(0) = %v, want %v", got, defaultQueryTimeout)
	}
	if got := clampQueryTimeout(time.Millisecond); got != minQueryTimeout {
		t.Fatalf("clampQueryTimeout(1ms) = %v, want %v", got, minQueryTimeout)
	}
	if got := clampQueryTimeout(5 * time.Minute); got != maxQueryTimeout {
		t.Fatalf("clampQueryTimeout(5m) = %v, want %v", got, maxQueryTimeout)
	}
}

func TestNormalizeValue(t *testing.T) {
	at := time.Date(2025, 7, 1, 12, 30, 0, 0, time.FixedZone("CEST", 2*3600))
	if got := normalizeValue(at); got != "2025-07-01T10:30:00Z" {
		t.Fatalf("time normalized to %v", got)
	}
	raw := [16]byte{0x0, 0x1, 0x2, 0x3, 0x4, 0x5, 0x6, 0x7, 0x8, 0x9, 0xa, 0xb, 0xc, 0xd, 0xe, 0xf}
	if got := normalizeValue(raw); got != "00010203-0405-0607-0809-0a0b0c0d0e0f" {
		t.Fatalf("uuid normalized to %v", got)
	}
	if got := normalizeValue([]byte("hello")); got != "hello" {
		t.Fatalf("bytes normalized to %v", got)
	}
	if got := normalizeValue(nil); got != nil {
		t.Fatalf("nil normalized to %v", got)
	}
	if got := normalizeValue(int64(42)); got != int64(42) {
		t.Fatalf("int64 normalized to %v", got)
	}
}
