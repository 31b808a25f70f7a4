// Package dblock implements the directory-based advisory lock spec.md §4.B
// and §9 call for: "create directory; poll with bounded retries; release on
// exit". Grounded on the teacher's atom/locks.go, which reaches for
// syscall.Flock on a regular file; porg follows spec.md's own preferred
// idiom (mkdir is atomic and portable without a file descriptor to leak)
// but keeps the teacher's retry-then-give-up shape.
package dblock

import (
	"fmt"
	"os"
	"time"

	"github.com/fcanata00/porg/pkg/porgerr"
)

// Lock is a held directory lock. Release must be called on every exit path
// (spec.md §4.B: "lock release is guaranteed on all exit paths").
type Lock struct {
	path string
}

// Options bounds the acquisition retry loop.
type Options struct {
	Retries int           // default 50
	Delay   time.Duration // default 100ms
}

func defaults(o Options) Options {
	if o.Retries <= 0 {
		o.Retries = 50
	}
	if o.Delay <= 0 {
		o.Delay = 100 * time.Millisecond
	}
	return o
}

// Acquire creates "<target>.lock" exclusively, retrying on EEXIST up to
// opts.Retries times. It returns porgerr.ErrDBLocked if the lock could not
// be acquired within the retry budget.
func Acquire(target string, opts Options) (*Lock, error) {
	opts = defaults(opts)
	lockDir := target + ".lock"

	var lastErr error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		err := os.Mkdir(lockDir, 0o755)
		if err == nil {
			return &Lock{path: lockDir}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("dblock: create %s: %w", lockDir, porgerr.ErrIO)
		}
		lastErr = err
		time.Sleep(opts.Delay)
	}
	return nil, fmt.Errorf("dblock: %s held by another process after %d retries: %w (%v)",
		lockDir, opts.Retries, porgerr.ErrDBLocked, lastErr)
}

// Release removes the lock directory. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	err := os.Remove(l.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("dblock: release %s: %w", l.path, err)
	}
	return nil
}
