package ping

import (
	"context"
	"strings"

	"cdr.dev/slog"
	"golang.org/x/xerrors"

	"github.com/promotrack/rlz"
	"github.com/promotrack/rlz/store"
)

// Request identifies the product pinging and what it wants reported.
type Request struct {
	Product rlz.Product
	// AccessPoints are the product's own integration surfaces. They are
	// reported when unreported events exist; a content-free check-in
	// reports every access point with a live value instead, whether
	// listed here or not.
	AccessPoints []rlz.AccessPoint
	// Signature authenticates the product build to the server. Required.
	Signature string
	// Brand must match the store's brand namespace when one is active.
	Brand string
	// ProductID and Language are optional and reported verbatim.
	ProductID string
	Language  string
	// ExcludeMachineID leaves the machine identity out of event pings,
	// for callers whose users opted out.
	ExcludeMachineID bool
}

// FormRequest composes the ping request path and query for req from the
// current store state. Field order on the wire is fixed: signature, then
// brand, product id and language when present, the pending events
// fragment, the RLZ values fragment, and last the machine identity. The
// whole composition runs under one lock acquisition; on any failure no
// partial request is returned.
func (p *Pinger) FormRequest(ctx context.Context, req Request) (string, error) {
	if len(req.AccessPoints) == 0 {
		return "", xerrors.New("form request: no access points")
	}
	if req.Signature == "" {
		return "", xerrors.New("form request: no product signature")
	}
	if p.opts.Store.Brand != "" && req.Brand != p.opts.Store.Brand {
		return "", xerrors.Errorf("form request: brand %q against namespace %q: %w",
			req.Brand, p.opts.Store.Brand, ErrBrandMismatch)
	}

	lock, err := store.Acquire(ctx, p.opts.Store)
	if err != nil {
		return "", err
	}
	defer lock.Release()
	s := lock.Store()

	var b strings.Builder
	b.WriteString(rlz.PingPath)
	b.WriteString("?")
	b.WriteString(rlz.CGISignature)
	b.WriteString("=")
	b.WriteString(req.Signature)
	for _, field := range []struct{ name, value string }{
		{rlz.CGIBrand, req.Brand},
		{rlz.CGIProductID, req.ProductID},
		{rlz.CGILanguage, req.Language},
	} {
		if field.value == "" {
			continue
		}
		b.WriteString("&")
		b.WriteString(field.name)
		b.WriteString("=")
		b.WriteString(field.value)
	}

	events, err := s.ReadProductEvents(req.Product)
	if err != nil {
		return "", err
	}
	eventsCGI, err := rlz.EventsCGI(events)
	if err != nil {
		return "", err
	}
	hasEvents := eventsCGI != ""
	if hasEvents {
		b.WriteString("&")
		b.WriteString(eventsCGI)
	}

	// With nothing to report, ping every access point on the system that
	// holds a live value, even ones outside this product, so a routine
	// check-in still confirms all known attributions.
	chosen := req.AccessPoints
	if !hasEvents {
		chosen = rlz.AccessPoints()
	}
	pairs := make([]rlz.AccessPointRlz, 0, len(chosen))
	for _, point := range chosen {
		value, err := s.ReadAccessPointRlz(point)
		if err != nil {
			return "", err
		}
		pairs = append(pairs, rlz.AccessPointRlz{Point: point, Rlz: value})
	}
	paramsCGI, err := rlz.PingParamsCGI(pairs, p.opts.DealCode)
	if err != nil {
		return "", err
	}
	b.WriteString("&")
	b.WriteString(paramsCGI)

	if hasEvents && !req.ExcludeMachineID {
		id, err := p.opts.MachineID.MachineID(ctx)
		if err != nil {
			p.opts.Logger.Debug(ctx, "no machine identity for ping", slog.Error(err))
		} else if id != "" {
			b.WriteString("&")
			b.WriteString(rlz.CGIMachineID)
			b.WriteString("=")
			b.WriteString(id)
		}
	}

	if b.Len() > rlz.MaxCGILength {
		return "", xerrors.Errorf("request of %d bytes exceeds the %d byte limit", b.Len(), rlz.MaxCGILength)
	}
	return b.String(), nil
}
