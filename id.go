package steward

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
// Used for correlation IDs on turns and persistence records.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewEventID generates a compact time-sortable event id: current millis in
// base36 followed by 8 random hex bytes.
func NewEventID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return strconv.FormatInt(time.Now().UnixMilli(), 36) + hex.EncodeToString(b[:])
}

// NowUnix returns current time as Unix seconds.
func NowUnix() int64 {
	return time.Now().Unix()
}
