package queue

import "errors"

// ErrLeaseLost is returned by lease-guarded updates when the caller no longer
// owns the job. The job belongs to whoever re-leased it.
var ErrLeaseLost = errors.New("job lease lost")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("queue store closed")
