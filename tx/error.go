package tx

import "errors"

// ErrNoThen is returned by Commit when Then was never called.
var ErrNoThen = errors.New("transaction has no Then branch")
