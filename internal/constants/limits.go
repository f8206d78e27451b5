package constants

const (
	MessageHistoryDefaultLimit = 50
	MessageHistoryMaxLimit     = 200

	MaxMessageLength = 4000

	IdempotencyKeyHeader    = "Idempotency-Key"
	MaxIdempotencyKeyLength = 128
)
