package errors

import (
	"fmt"
	"time"
)

// QuotaExceeded is returned when a daily attachment ledger is full.
// It matches ErrRateLimited with Is.
type QuotaExceeded struct {
	Limit   int
	Used    int
	ResetAt time.Time
}

func (e *QuotaExceeded) Error() string {
	return fmt.Sprintf("daily attachment limit reached (%d/%d)", e.Used, e.Limit)
}

func (e *QuotaExceeded) Unwrap() error { return ErrRateLimited }
