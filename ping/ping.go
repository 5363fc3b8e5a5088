// Package ping decides when a product's attribution state is due for
// reporting, composes the report request, and applies the server's
// response back to the store. One successful ping clears the reported
// events and refreshes any RLZ values the server reassigned.
package ping

import (
	"context"
	"errors"
	"time"

	"cdr.dev/slog"
	"github.com/coder/quartz"
	"golang.org/x/xerrors"

	"github.com/promotrack/rlz"
	"github.com/promotrack/rlz/machineid"
	"github.com/promotrack/rlz/store"
	"github.com/promotrack/rlz/transport"
)

var (
	// ErrNotDue is returned by SendFinancialPing when the product's ping
	// interval has not elapsed yet.
	ErrNotDue = xerrors.New("ping not due")
	// ErrBrandMismatch is returned when a request's brand does not match
	// the store's active brand namespace.
	ErrBrandMismatch = xerrors.New("brand does not match store namespace")
)

// Transport delivers a formed request path to the confirmation server and
// returns the raw response body.
type Transport interface {
	PingServer(ctx context.Context, requestPath string) ([]byte, error)
}

var _ Transport = (*transport.Client)(nil)

// Options configures a Pinger.
type Options struct {
	// Store selects the namespace all scheduling state and reported
	// values live in.
	Store store.Options
	// Transport defaults to a client of the production confirmation
	// server.
	Transport Transport
	// MachineID supplies the best-effort machine identity attached to
	// event-carrying pings. Defaults to the platform provider. A failing
	// provider never fails a ping.
	MachineID machineid.Provider
	// Clock drives interval arithmetic. Defaults to the wall clock.
	Clock quartz.Clock
	// EventsInterval is the minimum time between pings for products with
	// unreported events. Defaults to rlz.EventsPingInterval.
	EventsInterval time.Duration
	// NoEventsInterval is the minimum time between routine check-in pings.
	// Defaults to rlz.NoEventsPingInterval.
	NoEventsInterval time.Duration
	// DealCode is an optional machine-level distribution code reported
	// alongside RLZ values.
	DealCode string
	// Logger is silent by default.
	Logger slog.Logger
}

// Pinger schedules and performs financial pings.
type Pinger struct {
	opts Options
}

func New(opts Options) *Pinger {
	if opts.Transport == nil {
		opts.Transport = transport.New(transport.Options{Logger: opts.Logger})
	}
	if opts.MachineID == nil {
		opts.MachineID = machineid.OS()
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.EventsInterval <= 0 {
		opts.EventsInterval = rlz.EventsPingInterval
	}
	if opts.NoEventsInterval <= 0 {
		opts.NoEventsInterval = rlz.NoEventsPingInterval
	}
	return &Pinger{opts: opts}
}

// IsPingTime reports whether the product should ping now. A product that
// never pinged is always due, as is one whose recorded ping time lies in
// the future, which means the clock was reset under us. Otherwise the
// elapsed interval is measured against the events cadence when unreported
// events exist and the longer routine cadence when not; noDelay forces an
// immediate ping when there is something to report.
func (p *Pinger) IsPingTime(ctx context.Context, product rlz.Product, noDelay bool) (bool, error) {
	lock, err := store.Acquire(ctx, p.opts.Store)
	if err != nil {
		return false, err
	}
	defer lock.Release()
	s := lock.Store()

	last, err := s.ReadPingTime(product)
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	interval := p.opts.Clock.Now().Sub(last)
	if interval < 0 {
		return true, nil
	}

	events, err := s.ReadProductEvents(product)
	if err != nil {
		return false, err
	}
	hasEvents := len(events) > 0
	if noDelay && hasEvents {
		return true, nil
	}
	if hasEvents {
		return interval >= p.opts.EventsInterval, nil
	}
	return interval >= p.opts.NoEventsInterval, nil
}

// UpdateLastPingTime records the current time as the product's last
// successful ping. Call it only after a confirmed exchange.
func (p *Pinger) UpdateLastPingTime(ctx context.Context, product rlz.Product) error {
	lock, err := store.Acquire(ctx, p.opts.Store)
	if err != nil {
		return err
	}
	defer lock.Release()
	return lock.Store().WritePingTime(product, p.opts.Clock.Now())
}

// ClearLastPingTime removes the product's ping record entirely, forcing
// the next IsPingTime to report true.
func (p *Pinger) ClearLastPingTime(ctx context.Context, product rlz.Product) error {
	lock, err := store.Acquire(ctx, p.opts.Store)
	if err != nil {
		return err
	}
	defer lock.Release()
	return lock.Store().ClearPingTime(product)
}

// SendFinancialPing performs one complete ping for the request's product:
// due check, request construction, the exchange, and response
// application. The ping time moves forward only once the server answered,
// so a failed exchange is retried by the next scheduling pass. ErrNotDue
// reports a skipped ping; noDelay overrides the cadence for products with
// unreported events.
func (p *Pinger) SendFinancialPing(ctx context.Context, req Request, noDelay bool) error {
	due, err := p.IsPingTime(ctx, req.Product, noDelay)
	if err != nil {
		return err
	}
	if !due {
		return ErrNotDue
	}

	requestPath, err := p.FormRequest(ctx, req)
	if err != nil {
		return err
	}

	body, err := p.opts.Transport.PingServer(ctx, requestPath)
	if err != nil {
		return xerrors.Errorf("ping exchange: %w", err)
	}

	if err := p.UpdateLastPingTime(ctx, req.Product); err != nil {
		return xerrors.Errorf("record ping time: %w", err)
	}
	return p.ParsePingResponse(ctx, req.Product, body)
}
