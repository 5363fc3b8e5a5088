package ping_test

import (
	"strings"
	"testing"

	"github.com/coder/quartz"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/promotrack/rlz"
	"github.com/promotrack/rlz/ping"
	"github.com/promotrack/rlz/store"
	"github.com/promotrack/rlz/testutil"
)

func TestFormRequestValidation(t *testing.T) {
	t.Parallel()

	ctx := testutil.Context(t, testutil.WaitShort)
	p := ping.New(ping.Options{
		Store:     store.Options{Dir: t.TempDir()},
		Transport: &fakeTransport{},
		MachineID: staticMachineID(testMachineID),
		Clock:     quartz.NewMock(t),
	})

	t.Run("NoAccessPoints", func(t *testing.T) {
		_, err := p.FormRequest(ctx, ping.Request{
			Product:   rlz.ProductChrome,
			Signature: "sig64",
		})
		require.Error(t, err)
	})
	t.Run("NoSignature", func(t *testing.T) {
		_, err := p.FormRequest(ctx, ping.Request{
			Product:      rlz.ProductChrome,
			AccessPoints: []rlz.AccessPoint{rlz.ChromeOmnibox},
		})
		require.Error(t, err)
	})
}

func TestFormRequestBrandMismatch(t *testing.T) {
	t.Parallel()

	ctx := testutil.Context(t, testutil.WaitShort)
	sOpts := store.Options{Dir: t.TempDir(), Brand: "GGLS"}
	require.NoError(t, store.SetAccessPointRlz(ctx, sOpts, rlz.ChromeOmnibox, "1T4ADHWF"))
	p := ping.New(ping.Options{
		Store:     sOpts,
		Transport: &fakeTransport{},
		MachineID: staticMachineID(testMachineID),
		Clock:     quartz.NewMock(t),
	})

	req := ping.Request{
		Product:      rlz.ProductChrome,
		AccessPoints: []rlz.AccessPoint{rlz.ChromeOmnibox},
		Signature:    "sig64",
	}
	_, err := p.FormRequest(ctx, req)
	require.ErrorIs(t, err, ping.ErrBrandMismatch)

	req.Brand = "TEST"
	_, err = p.FormRequest(ctx, req)
	require.ErrorIs(t, err, ping.ErrBrandMismatch)

	req.Brand = "GGLS"
	path, err := p.FormRequest(ctx, req)
	require.NoError(t, err)
	require.Contains(t, path, "&brand=GGLS")
}

func TestFormRequestEvents(t *testing.T) {
	t.Parallel()

	ctx := testutil.Context(t, testutil.WaitShort)
	sOpts := store.Options{Dir: t.TempDir()}
	require.NoError(t, store.RecordProductEvent(ctx, sOpts, rlz.ProductChrome, rlz.ChromeOmnibox, rlz.EventInstall))
	require.NoError(t, store.RecordProductEvent(ctx, sOpts, rlz.ProductChrome, rlz.ChromeHomePage, rlz.EventSetToGoogle))
	require.NoError(t, store.SetAccessPointRlz(ctx, sOpts, rlz.ChromeOmnibox, "1T4ADHWF"))
	// A value outside the caller's list must not be reported while
	// events are pending.
	require.NoError(t, store.SetAccessPointRlz(ctx, sOpts, rlz.IETBSearchBox, "1T4AAAAA"))
	p := ping.New(ping.Options{
		Store:     sOpts,
		Transport: &fakeTransport{},
		MachineID: staticMachineID(testMachineID),
		Clock:     quartz.NewMock(t),
	})

	path, err := p.FormRequest(ctx, ping.Request{
		Product:      rlz.ProductChrome,
		AccessPoints: []rlz.AccessPoint{rlz.ChromeOmnibox, rlz.ChromeHomePage},
		Signature:    "dGVzdHNpZw",
		Brand:        "GGLS",
		ProductID:    "TestApp",
		Language:     "en-US",
	})
	require.NoError(t, err)
	require.NotContains(t, path, "T4:")

	g := goldie.New(t)
	g.Assert(t, "request_events", []byte(path))
}

func TestFormRequestCheckIn(t *testing.T) {
	t.Parallel()

	ctx := testutil.Context(t, testutil.WaitShort)
	sOpts := store.Options{Dir: t.TempDir()}
	require.NoError(t, store.SetAccessPointRlz(ctx, sOpts, rlz.IETBSearchBox, "1T4SRCHBX"))
	require.NoError(t, store.SetAccessPointRlz(ctx, sOpts, rlz.ChromeOmnibox, "1T4OMNIBX"))
	p := ping.New(ping.Options{
		Store:     sOpts,
		Transport: &fakeTransport{},
		MachineID: staticMachineID(testMachineID),
		Clock:     quartz.NewMock(t),
	})

	// Without pending events the request becomes a check-in reporting
	// every known value, whatever the caller asked for, and carries no
	// machine id.
	path, err := p.FormRequest(ctx, ping.Request{
		Product:      rlz.ProductChrome,
		AccessPoints: []rlz.AccessPoint{rlz.ChromeHomePage},
		Signature:    "dGVzdHNpZw",
	})
	require.NoError(t, err)
	require.NotContains(t, path, "machineId")

	g := goldie.New(t)
	g.Assert(t, "request_checkin", []byte(path))
}

func TestFormRequestExcludeMachineID(t *testing.T) {
	t.Parallel()

	ctx := testutil.Context(t, testutil.WaitShort)
	sOpts := store.Options{Dir: t.TempDir()}
	require.NoError(t, store.RecordProductEvent(ctx, sOpts, rlz.ProductChrome, rlz.ChromeOmnibox, rlz.EventInstall))
	p := ping.New(ping.Options{
		Store:     sOpts,
		Transport: &fakeTransport{},
		MachineID: staticMachineID(testMachineID),
		Clock:     quartz.NewMock(t),
	})

	path, err := p.FormRequest(ctx, ping.Request{
		Product:          rlz.ProductChrome,
		AccessPoints:     []rlz.AccessPoint{rlz.ChromeOmnibox},
		Signature:        "sig64",
		ExcludeMachineID: true,
	})
	require.NoError(t, err)
	require.NotContains(t, path, "machineId")
}

func TestFormRequestMachineIDBestEffort(t *testing.T) {
	t.Parallel()

	ctx := testutil.Context(t, testutil.WaitShort)
	sOpts := store.Options{Dir: t.TempDir()}
	require.NoError(t, store.RecordProductEvent(ctx, sOpts, rlz.ProductChrome, rlz.ChromeOmnibox, rlz.EventInstall))
	p := ping.New(ping.Options{
		Store:     sOpts,
		Transport: &fakeTransport{},
		MachineID: failingMachineID{},
		Clock:     quartz.NewMock(t),
		Logger:    testutil.Logger(t),
	})

	path, err := p.FormRequest(ctx, ping.Request{
		Product:      rlz.ProductChrome,
		AccessPoints: []rlz.AccessPoint{rlz.ChromeOmnibox},
		Signature:    "sig64",
	})
	require.NoError(t, err, "an unavailable machine id must not fail the ping")
	require.Contains(t, path, "&events=C1I")
	require.NotContains(t, path, "machineId")
}

func TestFormRequestDealCode(t *testing.T) {
	t.Parallel()

	ctx := testutil.Context(t, testutil.WaitShort)
	sOpts := store.Options{Dir: t.TempDir()}
	require.NoError(t, store.SetAccessPointRlz(ctx, sOpts, rlz.ChromeOmnibox, "1T4ADHWF"))
	p := ping.New(ping.Options{
		Store:     sOpts,
		Transport: &fakeTransport{},
		MachineID: staticMachineID(testMachineID),
		Clock:     quartz.NewMock(t),
		DealCode:  "dealer514",
	})

	path, err := p.FormRequest(ctx, ping.Request{
		Product:      rlz.ProductChrome,
		AccessPoints: []rlz.AccessPoint{rlz.ChromeOmnibox},
		Signature:    "sig64",
	})
	require.NoError(t, err)
	require.Equal(t, "/tools/pso/ping?signature=sig64&rep=2&rlz=C1:1T4ADHWF&dcc=dealer514", path)
}

func TestFormRequestUnknownAccessPoint(t *testing.T) {
	t.Parallel()

	ctx := testutil.Context(t, testutil.WaitShort)
	sOpts := store.Options{Dir: t.TempDir()}
	require.NoError(t, store.RecordProductEvent(ctx, sOpts, rlz.ProductChrome, rlz.ChromeOmnibox, rlz.EventInstall))
	p := ping.New(ping.Options{
		Store:     sOpts,
		Transport: &fakeTransport{},
		MachineID: staticMachineID(testMachineID),
		Clock:     quartz.NewMock(t),
	})

	_, err := p.FormRequest(ctx, ping.Request{
		Product:      rlz.ProductChrome,
		AccessPoints: []rlz.AccessPoint{rlz.AccessPointNone},
		Signature:    "sig64",
	})
	require.Error(t, err)
}

func TestFormRequestTooLong(t *testing.T) {
	t.Parallel()

	ctx := testutil.Context(t, testutil.WaitShort)
	p := ping.New(ping.Options{
		Store:     store.Options{Dir: t.TempDir()},
		Transport: &fakeTransport{},
		MachineID: staticMachineID(testMachineID),
		Clock:     quartz.NewMock(t),
	})

	_, err := p.FormRequest(ctx, ping.Request{
		Product:      rlz.ProductChrome,
		AccessPoints: []rlz.AccessPoint{rlz.ChromeOmnibox},
		Signature:    strings.Repeat("a", rlz.MaxCGILength),
	})
	require.Error(t, err)
}
