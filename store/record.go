package store

import (
	"context"

	"cdr.dev/slog"

	"github.com/promotrack/rlz"
)

// Each function here is a complete logical operation: it acquires the
// store lock, works, and releases on every path. Callers composing several
// of them should acquire once themselves and use the ValueStore directly.

// RecordProductEvent adds a pending usage event for the product at the
// given access point. An event that is recorded as stateful was already
// reported once; recording it again succeeds without writing anything.
func RecordProductEvent(ctx context.Context, opts Options, product rlz.Product, point rlz.AccessPoint, event rlz.Event) error {
	key, err := rlz.EventKey(point, event)
	if err != nil {
		return err
	}
	lock, err := Acquire(ctx, opts)
	if err != nil {
		return err
	}
	defer lock.Release()
	s := lock.Store()

	stateful, err := s.IsStatefulEvent(product, key)
	if err != nil {
		return err
	}
	if stateful {
		return nil
	}
	return s.AddProductEvent(product, key)
}

// ClearProductEvent removes one pending event. Clearing an event that was
// never recorded succeeds.
func ClearProductEvent(ctx context.Context, opts Options, product rlz.Product, point rlz.AccessPoint, event rlz.Event) error {
	key, err := rlz.EventKey(point, event)
	if err != nil {
		return err
	}
	lock, err := Acquire(ctx, opts)
	if err != nil {
		return err
	}
	defer lock.Release()
	return lock.Store().ClearProductEvent(product, key)
}

// RecordStatefulEvent marks an event as permanently reported. Stateful
// events are never sent to the server and suppress future
// RecordProductEvent calls for the same event.
func RecordStatefulEvent(ctx context.Context, opts Options, product rlz.Product, point rlz.AccessPoint, event rlz.Event) error {
	key, err := rlz.EventKey(point, event)
	if err != nil {
		return err
	}
	lock, err := Acquire(ctx, opts)
	if err != nil {
		return err
	}
	defer lock.Release()
	return lock.Store().AddStatefulEvent(product, key)
}

// ClearAllEvents removes a product's pending and stateful event containers.
func ClearAllEvents(ctx context.Context, opts Options, product rlz.Product) error {
	lock, err := Acquire(ctx, opts)
	if err != nil {
		return err
	}
	defer lock.Release()
	s := lock.Store()
	if err := s.ClearAllProductEvents(product); err != nil {
		return err
	}
	return s.ClearAllStatefulEvents(product)
}

// ProductEventsCGI renders the product's pending events as a query
// fragment, empty when none are recorded.
func ProductEventsCGI(ctx context.Context, opts Options, product rlz.Product) (string, error) {
	lock, err := Acquire(ctx, opts)
	if err != nil {
		return "", err
	}
	defer lock.Release()
	events, err := lock.Store().ReadProductEvents(product)
	if err != nil {
		return "", err
	}
	return rlz.EventsCGI(events)
}

// SetAccessPointRlz attributes an RLZ value to an access point, replacing
// any previous value. An empty value clears the attribution.
func SetAccessPointRlz(ctx context.Context, opts Options, point rlz.AccessPoint, value string) error {
	if err := rlz.ValidateRlz(value); err != nil {
		return err
	}
	lock, err := Acquire(ctx, opts)
	if err != nil {
		return err
	}
	defer lock.Release()
	s := lock.Store()
	if value == "" {
		return s.ClearAccessPointRlz(point)
	}
	return s.WriteAccessPointRlz(point, value)
}

// GetAccessPointRlz returns the access point's RLZ value, empty when none
// is attributed.
func GetAccessPointRlz(ctx context.Context, opts Options, point rlz.AccessPoint) (string, error) {
	lock, err := Acquire(ctx, opts)
	if err != nil {
		return "", err
	}
	defer lock.Release()
	return lock.Store().ReadAccessPointRlz(point)
}

// ClearAccessPointRlz removes an access point's attribution.
func ClearAccessPointRlz(ctx context.Context, opts Options, point rlz.AccessPoint) error {
	lock, err := Acquire(ctx, opts)
	if err != nil {
		return err
	}
	defer lock.Release()
	return lock.Store().ClearAccessPointRlz(point)
}

// ClearProductState is the uninstall path: it removes the product's
// pending and stateful events, its ping time, and the RLZ values of the
// given access points, then collects empty containers. Every step is
// attempted even when an earlier one fails; the first failure is
// returned after all steps ran.
func ClearProductState(ctx context.Context, opts Options, product rlz.Product, points []rlz.AccessPoint) error {
	lock, err := Acquire(ctx, opts)
	if err != nil {
		return err
	}
	defer lock.Release()
	s := lock.Store()

	var firstErr error
	step := func(err error) {
		if err == nil {
			return
		}
		opts.Logger.Warn(ctx, "clear product state step failed", slog.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}
	step(s.ClearAllProductEvents(product))
	step(s.ClearAllStatefulEvents(product))
	step(s.ClearPingTime(product))
	for _, point := range points {
		step(s.ClearAccessPointRlz(point))
	}
	s.CollectGarbage(ctx)
	return firstErr
}
