package redisstream

// Field constants (avoid typos/allocs)
const (
	fieldPayload    = "payload"    // raw envelope bytes (no base64)
	fieldProducedAt = "producedAt" // int64 ns
)
