// Package ulid generates sortable run identifiers.
package ulid

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// New returns a run ID stamped with the current time.
func New() string {
	return NewFromTime(time.Now())
}

// NewFromTime returns a run ID stamped with t. IDs created in the same
// millisecond are strictly increasing.
func NewFromTime(t time.Time) string {
	entropyLock.Lock()
	defer entropyLock.Unlock()

	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// IsValid reports whether s is a well-formed run ID.
func IsValid(s string) bool {
	_, err := ulid.Parse(s)
	return err == nil
}
