package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/limiquantix/placement/internal/domain"
)

// queryError wraps a failed query. Errors that never reached the server
// (dial failures, timeouts, closed pool) also match domain.ErrUnavailable.
func queryError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrUnavailable, err)
}
