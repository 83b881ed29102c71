package database

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Datify-sh/Datify/internal/domain"
	"github.com/Datify-sh/Datify/internal/engine"
)

const (
	maxQueryLength  = 100_000
	defaultRowLimit = 1000
	maxRowLimit     = 10_000

	defaultQueryTimeout = 30 * time.Second
	minQueryTimeout     = time.Second
	maxQueryTimeout     = 60 * time.Second
)

// blockedFragments are refused before anything reaches the engine. The
// passthrough authenticates as the instance superuser, so server-wide
// destructive commands are off limits through this path.
var blockedFragments = []string{
	"DROP DATABASE",
	"DROP SCHEMA",
	"TRUNCATE",
	"ALTER SYSTEM",
	"COPY FROM",
	"COPY TO",
}

// QueryInput carries one statement and its execution bounds. Zero values
// pick the defaults; out-of-range values are clamped.
type QueryInput struct {
	Query    string
	RowLimit int
	Timeout  time.Duration
}

// Query executes a single SQL statement against a running postgres
// instance over a one-shot connection. SELECT statements are wrapped in a
// LIMIT subquery so oversized results never cross the wire; anything else
// runs verbatim and reports rows affected.
func (s *Service) Query(ctx context.Context, actor domain.Actor, id string, input QueryInput) (*domain.QueryResult, error) {
	sql := strings.TrimSpace(input.Query)
	if sql == "" {
		return nil, domain.NewError(domain.CodeBadName, "query must not be empty")
	}
	if len(sql) > maxQueryLength {
		return nil, domain.NewError(domain.CodeBadName, "query exceeds %d bytes", maxQueryLength)
	}
	upper := strings.ToUpper(sql)
	for _, fragment := range blockedFragments {
		if strings.Contains(upper, fragment) {
			return nil, domain.NewError(domain.CodeBadName, "statement %q is not allowed", fragment)
		}
	}

	inst, err := s.ownedInstance(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if inst.Engine.IsKeyValue() {
		return nil, domain.NewError(domain.CodeBadName, "queries are only available for postgres instances").
			WithDetail("database_type", "requires postgres")
	}
	if inst.Status != domain.StatusRunning {
		return nil, domain.NewError(domain.CodeConflictingState, "database is not running; status is %s", inst.Status)
	}
	if inst.Host == nil || inst.Port == nil {
		return nil, domain.NewError(domain.CodeConflictingState, "database has no bound container")
	}

	password, err := s.vault.DecryptToString(inst.PasswordEncrypted)
	if err != nil {
		return nil, domain.WrapError(domain.CodeCryptoTampered, err, "decrypt password")
	}

	limit := clampRowLimit(input.RowLimit)
	timeout := clampQueryTimeout(input.Timeout)

	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := pgx.Connect(queryCtx, engine.PostgresDSN(*inst.Host, *inst.Port, inst.Username, password))
	if err != nil {
		return nil, domain.WrapError(domain.CodeRuntimeUnavailable, err, "connect to instance")
	}
	defer conn.Close(context.WithoutCancel(ctx))

	if _, err := conn.Exec(queryCtx, fmt.Sprintf("SET statement_timeout = %d", timeout.Milliseconds())); err != nil {
		return nil, domain.WrapError(domain.CodeRuntimeUnavailable, err, "set statement timeout")
	}

	// Fetch one row past the limit so truncation is detectable without a
	// second round trip.
	fetchLimit := limit + 1
	runSQL := sql
	if statementKeyword(sql) == "SELECT" {
		runSQL = fmt.Sprintf("SELECT * FROM (%s) AS datify_query LIMIT %d",
			strings.TrimRight(sql, "; \t\n"), fetchLimit)
	}

	start := time.Now()
	rows, err := conn.Query(queryCtx, runSQL)
	if err != nil {
		return nil, domain.WrapError(domain.CodeBadName, err, "query failed")
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]domain.QueryColumn, len(fields))
	for i, fd := range fields {
		columns[i] = domain.QueryColumn{Name: fd.Name, DataType: typeName(conn, fd.DataTypeOID)}
	}

	var collected [][]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, domain.WrapError(domain.CodeBadName, err, "decode row")
		}
		row := make([]any, len(values))
		for i, v := range values {
			row[i] = normalizeValue(v)
		}
		collected = append(collected, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.CodeBadName, err, "query failed")
	}
	elapsed := time.Since(start)

	result := &domain.QueryResult{
		ExecutionMS: float64(elapsed.Microseconds()) / 1000.0,
	}
	if len(fields) == 0 {
		affected := rows.CommandTag().RowsAffected()
		result.RowsAffected = &affected
		return result, nil
	}
	if len(collected) > limit {
		collected = collected[:limit]
		result.Truncated = true
	}
	result.Columns = columns
	result.Rows = collected
	result.RowCount = int64(len(collected))
	return result, nil
}

func clampRowLimit(limit int) int {
	if limit <= 0 {
		return defaultRowLimit
	}
	if limit > maxRowLimit {
		return maxRowLimit
	}
	return limit
}

func clampQueryTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return defaultQueryTimeout
	}
	if timeout < minQueryTimeout {
		return minQueryTimeout
	}
	if timeout > maxQueryTimeout {
		return maxQueryTimeout
	}
	return timeout
}

func typeName(conn *pgx.Conn, oid uint32) string {
	if t, ok := conn.TypeMap().TypeForOID(oid); ok {
		return t.Name
	}
	return "unknown"
}

// normalizeValue maps pgx scan output to JSON-friendly values. Unhandled
// types pass through for encoding/json to deal with.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case [16]byte:
		return uuid.UUID(val).String()
	case []byte:
		return string(val)
	default:
		return val
	}
}

// statementKeyword extracts the upper-cased keyword that governs the top
// level statement, skipping comments, string literals and parenthesised
// subexpressions. A WITH chain resolves to the first DML keyword after
// its CTE list, or "" when none is found.
func statementKeyword(sql string) string {
	var tokens []string
	var token strings.Builder
	depth := 0
	runes := []rune(sql)

	flush := func() {
		if token.Len() > 0 {
			tokens = append(tokens, strings.ToUpper(token.String()))
			token.Reset()
		}
	}

	for i := 0; i < len(runes); i++ {
		c := runes[i]

		if c == '-' && i+1 < len(runes) && runes[i+1] == '-' {
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			continue
		}
		if c == '/' && i+1 < len(runes) && runes[i+1] == '*' {
			i += 2
			for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			i++
			continue
		}
		if c == '\'' {
			i++
			for i < len(runes) {
				if runes[i] == '\'' {
					if i+1 < len(runes) && runes[i+1] == '\'' {
						i += 2
						continue
					}
					break
				}
				i++
			}
			continue
		}
		if c == '"' {
			i++
			for i < len(runes) && runes[i] != '"' {
				i++
			}
			continue
		}

		switch {
		case c == '(':
			if depth == 0 {
				flush()
			}
			depth++
		case c == ')':
			if depth == 0 {
				flush()
			}
			if depth > 0 {
				depth--
			}
		case depth == 0 && (unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_'):
			token.WriteRune(c)
		case depth == 0:
			flush()
		}
	}
	if depth == 0 {
		flush()
	}

	if len(tokens) == 0 {
		return ""
	}
	if tokens[0] != "WITH" {
		return tokens[0]
	}
	rest := tokens[1:]
	if len(rest) > 0 && rest[0] == "RECURSIVE" {
		rest = rest[1:]
	}
	for _, tok := range rest {
		switch tok {
		case "SELECT", "INSERT", "UPDATE", "DELETE":
			return tok
		}
	}
	return ""
}
