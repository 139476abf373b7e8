// Package filelock implements an advisory lock built on a sentinel file.
//
// The lock is held by whoever managed to create the sentinel exclusively.
// Cooperating processes on one host agree to take it before touching the
// resource it guards; nothing else is prevented from doing so.
//
// A sentinel whose modification time is older than the staleness threshold
// is considered abandoned and is reclaimed. A holder whose critical section
// runs longer than the threshold can therefore lose the lock without
// noticing, so the threshold must exceed the longest critical section.
// Contenders reclaiming the same stale sentinel can also both end up
// believing they hold the lock.
package filelock

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/dockhardman/mqflow/pkg/broker"
)

const (
	// DefaultStaleAfter is the age after which a sentinel is reclaimed.
	DefaultStaleAfter = 5 * time.Second
	// DefaultPollInterval is the delay between two attempts of Lock.
	DefaultPollInterval = broker.PollInterval
)

// Option configures a Lock.
type Option func(*Lock)

// StaleAfter sets the staleness threshold. Values <= 0 keep the default.
func StaleAfter(d time.Duration) Option {
	return func(l *Lock) {
		if d > 0 {
			l.staleAfter = d
		}
	}
}

// PollInterval sets the delay between two attempts of a blocking Lock.
func PollInterval(d time.Duration) Option {
	return func(l *Lock) {
		if d > 0 {
			l.interval = d
		}
	}
}

// Lock is an advisory lock on the sentinel file at Path.
//
// A Lock value carries no ownership state: ownership is the existence of the
// sentinel. It is safe for concurrent use.
type Lock struct {
	path       string
	staleAfter time.Duration
	interval   time.Duration
}

// New returns a lock guarded by the sentinel at path.
func New(path string, opts ...Option) *Lock {
	l := &Lock{
		path:       path,
		staleAfter: DefaultStaleAfter,
		interval:   DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the location of the sentinel.
func (l *Lock) Path() string { return l.path }

// TryLock attempts to take the lock once without waiting.
//
// It reports false when another holder owns a fresh sentinel.
func (l *Lock) TryLock() (bool, error) {
	ok, err := l.create()
	if ok || err != nil {
		return ok, err
	}

	stale, err := l.stale()
	if os.IsNotExist(errors.Cause(err)) {
		// Released in the meantime.
		return l.create()
	}
	if err != nil || !stale {
		return false, err
	}
	// Several contenders may see the same stale sentinel. One that checked
	// it before another reclaimed it can still remove the fresh sentinel
	// and create its own, so both hold the lock. Stale takeover is last
	// writer wins.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return false, errors.Wrapf(err, "unable to remove stale lock %q", l.path)
	}
	return l.create()
}

// Lock takes the lock, polling until it succeeds, timeout elapses or ctx
// ends. A timeout <= 0 waits until ctx ends. Expiry is reported as
// broker.ErrTimeout.
func (l *Lock) Lock(ctx context.Context, timeout time.Duration) error {
	err := broker.Poll(ctx, timeout, l.interval, l.TryLock)
	return errors.Wrapf(err, "unable to acquire lock %q", l.path)
}

// Unlock releases the lock. Releasing a lock that is not held is not an
// error.
func (l *Lock) Unlock() error {
	err := os.Remove(l.path)
	if err == nil || os.IsNotExist(err) {
		return nil
	}
	return errors.Wrapf(err, "unable to release lock %q", l.path)
}

// Locked reports whether a fresh sentinel exists.
func (l *Lock) Locked() (bool, error) {
	stale, err := l.stale()
	if os.IsNotExist(errors.Cause(err)) {
		return false, nil
	}
	return err == nil && !stale, err
}

func (l *Lock) create() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if os.IsExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "unable to create lock %q", l.path)
	}
	_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(l.path)
		if werr == nil {
			werr = cerr
		}
		return false, errors.Wrapf(werr, "unable to write lock %q", l.path)
	}
	return true, nil
}

// stale reports whether the sentinel is older than the threshold. A missing
// sentinel yields an error satisfying os.IsNotExist after errors.Cause.
func (l *Lock) stale() (bool, error) {
	info, err := os.Stat(l.path)
	if os.IsNotExist(err) {
		return false, errors.WithStack(err)
	}
	if err != nil {
		return false, errors.Wrapf(err, "unable to stat lock %q", l.path)
	}
	return time.Since(info.ModTime()) >= l.staleAfter, nil
}
