package ids

import "github.com/oklog/ulid/v2"

// New returns a lexically sortable identifier. Event ids, task ids and session
// epochs all come from here so they order by creation time.
func New() string {
	return ulid.Make().String()
}
