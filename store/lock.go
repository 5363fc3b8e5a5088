package store

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cdr.dev/slog"
	"github.com/gofrs/flock"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

const (
	// DefaultLockTimeout bounds how long Acquire waits for the file lock
	// before reporting the store unavailable.
	DefaultLockTimeout = 2 * time.Second

	// lockRetryDelay is how often a pending acquisition re-attempts the
	// flock while its deadline has not passed.
	lockRetryDelay = 100 * time.Millisecond

	dirName       = "rlz"
	lockFileName  = "lock"
	storeFileName = "store"
	maxBrandLen   = 32
)

// Options configures access to one user's store namespace.
type Options struct {
	// Dir is the directory holding the store document and its lock file.
	// Defaults to an "rlz" directory under the user configuration
	// directory.
	Dir string
	// Brand partitions the store into a parallel namespace. Every
	// operation, and the lock itself, is scoped to it. Empty selects the
	// unbranded namespace.
	Brand string
	// ReadOnly acquires a shared lock instead of an exclusive one. The
	// resulting store rejects mutations with ErrNoAccess.
	ReadOnly bool
	// LockTimeout overrides DefaultLockTimeout.
	LockTimeout time.Duration
	// FS is the filesystem holding the store document. Defaults to the
	// operating system filesystem. The lock file always lives on the
	// operating system filesystem, since advisory locks are meaningless
	// on an in-memory one.
	FS afero.Fs
	// Logger receives diagnostics for swallowed failures, such as
	// garbage collection errors and corrupt document recovery. The zero
	// value is silent.
	Logger slog.Logger
}

// Lock is a held acquisition of the store namespace. It must be released
// on every exit path, typically with defer. The ValueStore obtained from
// it is invalid after release.
type Lock struct {
	mu       sync.Mutex
	flock    *flock.Flock
	store    *fileStore
	released bool
}

// Acquire takes the cross-process lock for the namespace selected by opts
// and loads the store document. It fails when the lock is still held by
// another process once opts.LockTimeout passes, and when the caller lacks
// filesystem permission for the namespace. Callers must not mutate
// persisted state without a successful acquisition.
func Acquire(ctx context.Context, opts Options) (*Lock, error) {
	opts, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	if !opts.ReadOnly {
		if err := os.MkdirAll(opts.Dir, 0o700); err != nil {
			return nil, xerrors.Errorf("create store directory: %w", err)
		}
		if err := opts.FS.MkdirAll(opts.Dir, 0o700); err != nil {
			return nil, xerrors.Errorf("create store directory: %w", err)
		}
	}

	access := WriteAccess
	if opts.ReadOnly {
		access = ReadAccess
	}

	lockPath := filepath.Join(opts.Dir, scopedName(lockFileName, opts.Brand))
	fl := flock.New(lockPath)

	lockCtx, cancel := context.WithTimeout(ctx, opts.LockTimeout)
	defer cancel()

	locked, err := tryLock(lockCtx, fl, access)
	if errors.Is(err, fs.ErrPermission) && access == WriteAccess {
		// The namespace exists but is not writable by this user. Degrade
		// to read access so callers can still report existing state.
		access = ReadAccess
		locked, err = tryLock(lockCtx, fl, access)
	}
	if err != nil {
		_ = fl.Close()
		if lockCtx.Err() != nil && ctx.Err() == nil {
			return nil, xerrors.Errorf("store lock %s still held after %s: %w", lockPath, opts.LockTimeout, ErrLockBusy)
		}
		return nil, xerrors.Errorf("acquire store lock %s: %w", lockPath, err)
	}
	if !locked {
		_ = fl.Close()
		return nil, xerrors.Errorf("store lock %s unavailable: %w", lockPath, ErrLockBusy)
	}

	storePath := filepath.Join(opts.Dir, scopedName(storeFileName, opts.Brand)+".json")
	store, err := openFileStore(ctx, opts, storePath, access)
	if err != nil {
		_ = fl.Close()
		return nil, err
	}
	return &Lock{flock: fl, store: store}, nil
}

func tryLock(ctx context.Context, fl *flock.Flock, access AccessType) (bool, error) {
	if access == WriteAccess {
		return fl.TryLockContext(ctx, lockRetryDelay)
	}
	return fl.TryRLockContext(ctx, lockRetryDelay)
}

// Store returns the value store handle for this acquisition.
func (l *Lock) Store() ValueStore {
	return l.store
}

// Release drops the cross-process lock. It is idempotent. Store handles
// obtained from this lock fail with ErrLockNotHeld afterwards.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return nil
	}
	l.released = true
	l.store.close()
	if err := l.flock.Close(); err != nil {
		return xerrors.Errorf("release store lock: %w", err)
	}
	return nil
}

func resolveOptions(opts Options) (Options, error) {
	if err := validateBrand(opts.Brand); err != nil {
		return Options{}, err
	}
	if opts.Dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return Options{}, xerrors.Errorf("resolve user config directory: %w", err)
		}
		opts.Dir = filepath.Join(base, dirName)
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.FS == nil {
		opts.FS = afero.NewOsFs()
	}
	return opts, nil
}

// validateBrand rejects brand codes that cannot safely scope a file name.
func validateBrand(brand string) error {
	if len(brand) > maxBrandLen {
		return xerrors.Errorf("brand %q longer than %d characters", brand, maxBrandLen)
	}
	for i := 0; i < len(brand); i++ {
		c := brand[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		default:
			return xerrors.Errorf("brand %q contains invalid byte %q", brand, c)
		}
	}
	return nil
}

func scopedName(name, brand string) string {
	if brand == "" {
		return name
	}
	return name + "_" + brand
}
