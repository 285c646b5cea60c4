// Package id generates stable, collision-resistant identifiers and exposes
// the monotonic wall-clock helpers the rest of the core builds timestamps
// and elapsed durations from.
package id

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// New returns an id of the shape "<kind>-<msec>-<9 base36 chars>".
// The random suffix is sourced from a UUIDv4 rather than a hand-rolled
// PRNG, trimmed and base36-encoded down to 9 characters.
func New(kind string) string {
	ms := time.Now().UnixMilli()
	suffix := base36Suffix(uuid.New(), 9)
	return kind + "-" + strconv.FormatInt(ms, 10) + "-" + suffix
}

func base36Suffix(u uuid.UUID, n int) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	// Use the UUID's raw bytes as a big base-256 number and repeatedly
	// reduce modulo 36, which is cheaper than importing math/big for
	// nine digits and keeps the whole generator stdlib+uuid only.
	var buf [16]byte
	copy(buf[:], u[:])
	var out strings.Builder
	for i := 0; i < n; i++ {
		var rem uint32
		for j := 0; j < len(buf); j++ {
			cur := rem<<8 | uint32(buf[j])
			buf[j] = byte(cur / 36)
			rem = cur % 36
		}
		out.WriteByte(alphabet[rem])
	}
	return out.String()
}

// NowMillis returns the current monotonic-backed wall time in milliseconds.
// Callers measure elapsed durations from a captured start time, never from
// two independent calls to NowMillis.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// Since returns the elapsed duration from a previously captured time.Time,
// relying on Go's monotonic clock reading rather than millisecond subtraction.
func Since(start time.Time) time.Duration {
	return time.Since(start)
}
