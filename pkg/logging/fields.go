package logging

import "go.uber.org/zap"

// Field helpers keep log keys consistent across packages.

func PaymentID(id string) zap.Field { return zap.String("payment_id", id) }

func PayoutID(id string) zap.Field { return zap.String("payout_id", id) }

func SessionID(id string) zap.Field { return zap.String("session_id", id) }

// IdempotencyKey logs only a prefix of the key; the full key is a retry credential.
func IdempotencyKey(key string) zap.Field {
	if len(key) > 8 {
		key = key[:8] + "…"
	}
	return zap.String("idempotency_key", key)
}

func Status(status string) zap.Field { return zap.String("status", status) }

func Attempt(n int) zap.Field { return zap.Int("attempt", n) }
