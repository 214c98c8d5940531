package store

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// newULID generates a new ULID string. ulid.Make is safe for concurrent use and
// monotonic within a millisecond, so IDs are unique for the life of the process.
func newULID() string {
	return ulid.Make().String()
}

func newBugID() string {
	return "bug-" + strings.ToLower(newULID())
}

func newUserID() string {
	return "user-" + strings.ToLower(newULID())
}
