package repositories

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"marketplace-inbox/errors"
)

// consumeScript increments the counter only while it is under the limit.
// It returns -1 when the limit is reached and the new count otherwise.
var consumeScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= tonumber(ARGV[1]) then
  return -1
end
current = redis.call('INCR', KEYS[1])
if current == 1 then
  redis.call('EXPIRE', KEYS[1], ARGV[2])
end
return current
`)

var refundScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current > 0 then
  return redis.call('DECR', KEYS[1])
end
return 0
`)

// RedisQuotaLedger shares the daily counters between every server instance.
type RedisQuotaLedger struct {
	client redis.UniversalClient
	log    *slog.Logger
}

func NewRedisQuotaLedger(client redis.UniversalClient, log *slog.Logger) RedisQuotaLedger {
	return RedisQuotaLedger{client: client, log: log}
}

func (l RedisQuotaLedger) Consume(ctx context.Context, userID string, day time.Time, limit int) (int, error) {
	key := string(quotaKey(userID, day))
	n, err := consumeScript.Run(ctx, l.client, []string{key}, limit, int(quotaRetention.Seconds())).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: quota ledger: %v", errors.ErrTransient, err)
	}
	if n < 0 {
		return limit, &errors.QuotaExceeded{Limit: limit, Used: limit, ResetAt: NextReset(day)}
	}
	return n, nil
}

func (l RedisQuotaLedger) Refund(ctx context.Context, userID string, day time.Time) error {
	if err := refundScript.Run(ctx, l.client, []string{string(quotaKey(userID, day))}).Err(); err != nil {
		return fmt.Errorf("%w: quota ledger: %v", errors.ErrTransient, err)
	}
	return nil
}

func (l RedisQuotaLedger) Used(ctx context.Context, userID string, day time.Time) (int, error) {
	n, err := l.client.Get(ctx, string(quotaKey(userID, day))).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: quota ledger: %v", errors.ErrTransient, err)
	}
	return n, nil
}
