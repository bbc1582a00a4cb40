package xproxy

import (
	"crypto/rand"
	"encoding/binary"
	"strconv"

	"github.com/google/uuid"
)

// IDGenerator mints tracking ids. Output must be non-empty.
type IDGenerator func() string

// ShortID returns 64 random bits rendered in base36 (at most 13 characters).
// Short enough for message-size economy, not meant for security decisions.
func ShortID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand never fails on supported platforms; fall back to a uuid just in case.
		return UUIDv7()
	}
	n := binary.BigEndian.Uint64(b[:])
	if n == 0 {
		n = 1
	}
	return strconv.FormatUint(n, 36)
}

// UUIDv7 returns a time-ordered uuid. Larger on the wire than ShortID.
func UUIDv7() string {
	return uuid.Must(uuid.NewV7()).String()
}
