// Package file implements a broker whose queue lives in a single file shared
// by cooperating processes on one host.
//
// The whole queue is stored as one encoded snapshot. Every mutation takes the
// advisory lock at Path+".lock", reads the snapshot, changes it in memory and
// replaces the file. Waiting is done by polling since nothing notifies a
// process that another one changed the file.
package file

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/dockhardman/mqflow/pkg/broker"
	"github.com/dockhardman/mqflow/pkg/broker/codec"
	"github.com/dockhardman/mqflow/pkg/broker/filelock"
)

// LockSuffix is appended to the snapshot path to form the lock path.
const LockSuffix = ".lock"

// Config configures a file broker.
type Config struct {
	broker.Options
	// Path of the snapshot. Defaults to a unique file in the temporary
	// directory.
	Path string
	// StaleAfter is the age at which an abandoned lock is reclaimed.
	StaleAfter time.Duration
	// PollInterval is the delay between two attempts of a blocking wait.
	PollInterval time.Duration
	Codec        codec.Codec
}

// Ensure Broker implements broker.Broker.
var _ broker.Broker[int] = (*Broker[int])(nil)

// Broker is a file-backed broker.
type Broker[T any] struct {
	opts     broker.Options
	path     string
	lock     *filelock.Lock
	codec    codec.Codec
	interval time.Duration

	mu         sync.Mutex
	unfinished int
}

// New opens the snapshot at cfg.Path, creating it and its parent
// directories when missing. An existing snapshot is kept as is.
func New[T any](cfg Config) (*Broker[T], error) {
	if cfg.Path == "" {
		cfg.Path = filepath.Join(os.TempDir(), "mqflow-"+uuid.NewString()+".json")
	}
	if cfg.Name == "" {
		cfg.Name = filepath.Base(cfg.Path)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = broker.PollInterval
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "unable to create directory for %q", cfg.Path)
	}
	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open %q", cfg.Path)
	}
	if err := f.Close(); err != nil {
		return nil, errors.Wrapf(err, "unable to close %q", cfg.Path)
	}

	return &Broker[T]{
		opts: cfg.Options,
		path: cfg.Path,
		lock: filelock.New(cfg.Path+LockSuffix,
			filelock.StaleAfter(cfg.StaleAfter),
			filelock.PollInterval(cfg.PollInterval)),
		codec:    codec.OrDefault(cfg.Codec),
		interval: cfg.PollInterval,
	}, nil
}

// Name returns the name of the broker.
func (b *Broker[T]) Name() string { return b.opts.Name }

// MaxSize returns the capacity of the broker.
func (b *Broker[T]) MaxSize() int { return b.opts.MaxSize }

// Path returns the location of the snapshot.
func (b *Broker[T]) Path() string { return b.path }

func (b *Broker[T]) String() string { return b.opts.String() }

// Len waits for the lock and returns the number of items in the snapshot.
func (b *Broker[T]) Len(ctx context.Context) (int, error) {
	if err := b.lock.Lock(ctx, b.opts.Timeout); err != nil {
		return 0, err
	}
	items, err := b.read()
	if uerr := b.lock.Unlock(); err == nil {
		err = uerr
	}
	return len(items), err
}

// Empty reports whether the snapshot holds no items.
func (b *Broker[T]) Empty(ctx context.Context) (bool, error) {
	n, err := b.Len(ctx)
	return n == 0, err
}

// Full reports whether the snapshot is at capacity.
func (b *Broker[T]) Full(ctx context.Context) (bool, error) {
	n, err := b.Len(ctx)
	return broker.IsFullAt(n, b.opts.MaxSize), err
}

// Get removes and returns the oldest item, polling while the broker is
// empty or locked by someone else.
func (b *Broker[T]) Get(ctx context.Context, opts ...broker.WaitOption) (T, error) {
	w := b.opts.Wait(opts...)
	if !w.Block {
		return b.GetNoWait(ctx)
	}
	var item T
	err := broker.Poll(ctx, w.Timeout, b.interval, func() (bool, error) {
		v, err := b.getOnce()
		if broker.IsEmpty(err) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		item = v
		return true, nil
	})
	return item, errors.Wrapf(err, "unable to get from %q", b.opts.Name)
}

// GetNoWait removes and returns the oldest item. Both an empty snapshot and
// a busy lock are reported as broker.ErrEmpty.
func (b *Broker[T]) GetNoWait(ctx context.Context) (T, error) {
	if err := broker.ContextError(ctx); err != nil {
		var zero T
		return zero, err
	}
	return b.getOnce()
}

// Put appends item, polling while the broker is full or locked by someone
// else.
func (b *Broker[T]) Put(ctx context.Context, item T, opts ...broker.WaitOption) error {
	w := b.opts.Wait(opts...)
	if !w.Block {
		return b.PutNoWait(ctx, item)
	}
	err := broker.Poll(ctx, w.Timeout, b.interval, func() (bool, error) {
		err := b.putOnce(item)
		if broker.IsFull(err) {
			return false, nil
		}
		return err == nil, err
	})
	return errors.Wrapf(err, "unable to put into %q", b.opts.Name)
}

// PutNoWait appends item. Both a full snapshot and a busy lock are reported
// as broker.ErrFull.
func (b *Broker[T]) PutNoWait(ctx context.Context, item T) error {
	if err := broker.ContextError(ctx); err != nil {
		return err
	}
	return b.putOnce(item)
}

// TaskDone marks one item put by this process as processed. Items may be
// consumed by other processes, so extra calls are ignored.
func (b *Broker[T]) TaskDone(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unfinished > 0 {
		b.unfinished--
	}
	return nil
}

// Join polls until the snapshot is empty and every item put by this process
// has been marked done.
func (b *Broker[T]) Join(ctx context.Context) error {
	return broker.Poll(ctx, 0, b.interval, func() (bool, error) {
		b.mu.Lock()
		unfinished := b.unfinished
		b.mu.Unlock()
		if unfinished > 0 {
			return false, nil
		}
		// The snapshot is replaced by rename, so it can be read unlocked.
		items, err := b.read()
		return len(items) == 0, err
	})
}

// Close is a no-op: the lock is never held between calls and the snapshot is
// left in place for other processes.
func (b *Broker[T]) Close() error { return nil }

func (b *Broker[T]) getOnce() (item T, err error) {
	ok, err := b.lock.TryLock()
	if err != nil {
		return item, err
	}
	if !ok {
		return item, errors.Wrapf(broker.ErrEmpty, "%q is locked", b.opts.Name)
	}
	defer b.unlock(&err)

	items, err := b.read()
	if err != nil {
		return item, err
	}
	if len(items) == 0 {
		return item, errors.Wrapf(broker.ErrEmpty, "%q", b.opts.Name)
	}
	if err := b.write(items[1:]); err != nil {
		return item, err
	}
	return items[0], nil
}

func (b *Broker[T]) putOnce(item T) (err error) {
	ok, err := b.lock.TryLock()
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(broker.ErrFull, "%q is locked", b.opts.Name)
	}
	defer b.unlock(&err)

	items, err := b.read()
	if err != nil {
		return err
	}
	if broker.IsFullAt(len(items), b.opts.MaxSize) {
		return errors.Wrapf(broker.ErrFull, "%q holds %d items", b.opts.Name, len(items))
	}
	if err := b.write(append(items, item)); err != nil {
		return err
	}

	b.mu.Lock()
	b.unfinished++
	b.mu.Unlock()
	return nil
}

func (b *Broker[T]) unlock(err *error) {
	if uerr := b.lock.Unlock(); *err == nil {
		*err = uerr
	}
}

func (b *Broker[T]) read() ([]T, error) {
	data, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read %q", b.path)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var items []T
	if err := b.codec.Unmarshal(data, &items); err != nil {
		return nil, errors.Wrapf(err, "corrupt snapshot %q", b.path)
	}
	return items, nil
}

// write replaces the snapshot with items through a temporary file in the same
// directory.
func (b *Broker[T]) write(items []T) error {
	if items == nil {
		items = []T{}
	}
	data, err := b.codec.Marshal(items)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(b.path), filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, "unable to create temporary snapshot for %q", b.path)
	}
	_, werr := tmp.Write(data)
	if werr == nil {
		// CreateTemp uses 0600; keep the snapshot readable like the one New creates.
		werr = tmp.Chmod(0o644)
	}
	cerr := tmp.Close()
	if werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Rename(tmp.Name(), b.path)
	}
	if werr != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrapf(werr, "unable to replace snapshot %q", b.path)
	}
	return nil
}
