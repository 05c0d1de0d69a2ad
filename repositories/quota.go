//go:generate go run go.uber.org/mock/mockgen -source=quota.go -destination=../mocks/mock_quota_ledger.go -package=mocks
package repositories

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"

	"marketplace-inbox/errors"
)

// IQuotaLedger counts uploads per user per UTC day.
// Consume is an atomic increment-if-under-limit.
type IQuotaLedger interface {
	Consume(ctx context.Context, userID string, day time.Time, limit int) (int, error)
	Refund(ctx context.Context, userID string, day time.Time) error
	Used(ctx context.Context, userID string, day time.Time) (int, error)
}

// quotaRetention keeps yesterday's counters around for inspection before expiry.
const quotaRetention = 48 * time.Hour

func dayStamp(day time.Time) string { return day.UTC().Format(time.DateOnly) }

func quotaKey(userID string, day time.Time) []byte {
	return []byte("quota:" + userID + ":" + dayStamp(day))
}

// NextReset is the UTC midnight after day.
func NextReset(day time.Time) time.Time {
	y, m, d := day.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}

type BadgerQuotaLedger struct {
	db  *badger.DB
	log *slog.Logger
}

func NewBadgerQuotaLedger(db *badger.DB, log *slog.Logger) BadgerQuotaLedger {
	return BadgerQuotaLedger{db: db, log: log}
}

func (l BadgerQuotaLedger) Consume(_ context.Context, userID string, day time.Time, limit int) (int, error) {
	var used int
	err := updateWithRetry(l.db, func(txn *badger.Txn) error {
		current, err := readCounter(txn, quotaKey(userID, day))
		if err != nil {
			return err
		}
		if current >= limit {
			return &errors.QuotaExceeded{Limit: limit, Used: current, ResetAt: NextReset(day)}
		}
		used = current + 1
		return writeCounter(txn, quotaKey(userID, day), used)
	})
	return used, err
}

func (l BadgerQuotaLedger) Refund(_ context.Context, userID string, day time.Time) error {
	return updateWithRetry(l.db, func(txn *badger.Txn) error {
		current, err := readCounter(txn, quotaKey(userID, day))
		if err != nil || current == 0 {
			return err
		}
		return writeCounter(txn, quotaKey(userID, day), current-1)
	})
}

func (l BadgerQuotaLedger) Used(_ context.Context, userID string, day time.Time) (int, error) {
	var used int
	err := l.db.View(func(txn *badger.Txn) error {
		var err error
		used, err = readCounter(txn, quotaKey(userID, day))
		return err
	})
	return used, err
}

func readCounter(txn *badger.Txn, key []byte) (int, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n int
	err = item.Value(func(val []byte) error {
		n, err = strconv.Atoi(string(val))
		if err != nil {
			return fmt.Errorf("corrupted quota counter %s: %w", key, err)
		}
		return nil
	})
	return n, err
}

func writeCounter(txn *badger.Txn, key []byte, n int) error {
	return txn.SetEntry(badger.NewEntry(key, []byte(strconv.Itoa(n))).WithTTL(quotaRetention))
}
