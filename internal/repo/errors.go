package repo

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when the requested row does not exist
	ErrNotFound = errors.New("not found")
	// ErrUniqueViolation is returned when an insert or update collides with a unique constraint
	ErrUniqueViolation = errors.New("unique constraint violated")
	// ErrConflict is returned when a compare-and-swap update lost against a concurrent writer
	ErrConflict = errors.New("concurrent update conflict")
)

const pqUniqueViolation = pq.ErrorCode("23505")

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	return false
}
