package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cimillas/orderhook/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type txKey struct{}

func withTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func txFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

// SQLSTATE codes that signal "this already exists".
const (
	codeUniqueViolation = "23505"
	codeDuplicateSchema = "42P06"
	codeDuplicateTable  = "42P07"
	codeDuplicateColumn = "42701"
	codeDuplicateObject = "42710"

	codeNotNullViolation = "23502"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isConflict(err error) bool {
	switch pgCode(err) {
	case codeUniqueViolation, codeDuplicateSchema, codeDuplicateTable, codeDuplicateColumn, codeDuplicateObject:
		return true
	}
	return false
}

func isUndefined(err error) bool {
	switch pgCode(err) {
	case "3F000", "42P01", "42703":
		return true
	}
	return false
}

// classify wraps err with the domain failure kind its SQLSTATE maps to.
func classify(op string, err error) error {
	kind := domain.ErrBackendUnavailable
	code := pgCode(err)
	switch {
	case code == "42501":
		kind = domain.ErrPermissionDenied
	case strings.HasPrefix(code, "53"), strings.HasPrefix(code, "54"):
		kind = domain.ErrQuotaExceeded
	case strings.HasPrefix(code, "22"), code == "23502", code == "23514", code == "42601", code == "42602":
		kind = domain.ErrValidationFailed
	case code == "42804", code == "42P16", code == "42809":
		kind = domain.ErrSchemaConflict
	case isUndefined(err):
		kind = domain.ErrNotFound
	}
	return fmt.Errorf("%s: %w: %w", op, kind, err)
}
