package ids

import "github.com/oklog/ulid/v2"

// New returns a lexicographically sortable identifier for users and assets.
// ulid.Make draws from a process-wide monotonic, cryptographically seeded source.
func New() string {
	return ulid.Make().String()
}

// Valid reports whether s is a canonical identifier produced by New.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
