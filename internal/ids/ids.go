// Package ids generates the identifiers handed out for roles,
// departments and escalation sessions. ULIDs sort by creation time,
// which keeps catalog listings stable without a second ordering column.
package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu     sync.Mutex
	source = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a fresh ULID. Safe for concurrent use; identifiers issued
// within the same millisecond remain monotonically ordered.
func New() string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), source).String()
}
