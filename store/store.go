// Package store persists RLZ attribution state for the current user: one
// RLZ value per access point, pending and stateful event sets per product,
// and last-ping timestamps. All state lives in a single JSON document
// guarded by a cross-process file lock, optionally partitioned into a brand
// namespace. Handles are only valid while the lock is held.
package store

import (
	"context"
	"time"

	"golang.org/x/xerrors"

	"github.com/promotrack/rlz"
)

// AccessType is the capability level a held lock grants. Write access
// implies read access.
type AccessType int

const (
	ReadAccess AccessType = iota + 1
	WriteAccess
)

var (
	// ErrNotFound is returned when a requested entry does not exist.
	ErrNotFound = xerrors.New("entry not found")
	// ErrNoAccess is returned when the held lock does not grant the access
	// level an operation needs.
	ErrNoAccess = xerrors.New("store access denied")
	// ErrLockBusy is returned by Acquire when another process held the lock
	// for the whole timeout. The caller may retry later.
	ErrLockBusy = xerrors.New("store lock busy")
	// ErrLockNotHeld is returned by store handles used after their lock was
	// released. State read under a previous acquisition must not be reused.
	ErrLockNotHeld = xerrors.New("store lock not held")
)

// ValueStore is the persistent key/value contract. Implementations assume
// the caller holds the store lock for the whole duration of every call;
// read operations need read access and mutations need write access.
//
// Mutations are durable once the call returns. Clear operations re-read
// persisted state after deleting and fail if the entry is still observable.
type ValueStore interface {
	// HasAccess reports whether the held lock grants the given capability.
	HasAccess(access AccessType) bool

	WritePingTime(product rlz.Product, t time.Time) error
	// ReadPingTime returns ErrNotFound for products that never pinged.
	ReadPingTime(product rlz.Product) (time.Time, error)
	ClearPingTime(product rlz.Product) error

	WriteAccessPointRlz(point rlz.AccessPoint, value string) error
	// ReadAccessPointRlz returns an empty value, not an error, for access
	// points with no attribution.
	ReadAccessPointRlz(point rlz.AccessPoint) (string, error)
	ClearAccessPointRlz(point rlz.AccessPoint) error

	AddProductEvent(product rlz.Product, event string) error
	// ReadProductEvents returns the product's pending events in sorted
	// order. A product with no recorded events yields an empty slice.
	ReadProductEvents(product rlz.Product) ([]string, error)
	ClearProductEvent(product rlz.Product, event string) error
	ClearAllProductEvents(product rlz.Product) error

	AddStatefulEvent(product rlz.Product, event string) error
	IsStatefulEvent(product rlz.Product, event string) (bool, error)
	ClearAllStatefulEvents(product rlz.Product) error

	// CollectGarbage deletes structural containers that hold no entries,
	// working bottom-up and stopping at the first non-empty ancestor.
	// Failures are logged, never returned; collection is best-effort.
	CollectGarbage(ctx context.Context)
}
