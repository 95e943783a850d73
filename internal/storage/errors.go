package storage

import "errors"

// ErrDuplicate is returned when an insert hits a natural-key conflict.
var ErrDuplicate = errors.New("duplicate record")
