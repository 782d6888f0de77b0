package store

import "errors"

// ErrNotFound marks a referenced row that does not exist. Handlers map it to
// a 404; it is never fatal to the process.
var ErrNotFound = errors.New("not found")
