// Package rlz holds the shared vocabulary of the attribution library: the
// products and access points the library knows about, the wire constants of
// the financial ping protocol, and the encoders that render store state into
// CGI fragments.
//
// Persistent state lives in the store package behind a cross-process lock.
// Ping scheduling, request construction and response handling live in the
// ping package, with delivery in the transport package.
package rlz

import (
	"sort"

	"golang.org/x/xerrors"
)

// Product identifies a host application integrating the library. Each product
// keeps its own pending events, stateful events and last-ping time in the
// value store, keyed by a one-character code.
type Product int

const (
	ProductNone Product = iota
	ProductIEToolbar
	ProductToolbarNotifier
	ProductPack
	ProductDesktop
	ProductChrome
	ProductFFToolbar
	ProductQSBWin
	ProductWebapps
	ProductPinyinIME
	ProductPartner
)

// productCodes maps each product to the one-character code keying its entries
// in the value store and ping requests. The confirmation server does not
// interpret these codes.
var productCodes = map[Product]string{
	ProductIEToolbar:       "T",
	ProductToolbarNotifier: "P",
	ProductPack:            "U",
	ProductDesktop:         "D",
	ProductChrome:          "C",
	ProductFFToolbar:       "B",
	ProductQSBWin:          "K",
	ProductWebapps:         "W",
	ProductPinyinIME:       "N",
	ProductPartner:         "V",
}

// Code returns the product's one-character store code. Unknown products are
// rejected rather than mapped to a sentinel value.
func (p Product) Code() (string, error) {
	code, ok := productCodes[p]
	if !ok {
		return "", xerrors.Errorf("unknown product %d", int(p))
	}
	return code, nil
}

func (p Product) String() string {
	if code, ok := productCodes[p]; ok {
		return code
	}
	return "Product(?)"
}

// AccessPoint identifies one integration surface of a product, such as a
// search box or an address bar. At most one RLZ value is attributed to an
// access point at any time.
type AccessPoint int

const (
	AccessPointNone AccessPoint = iota
	IEDefaultSearch
	IEHomePage
	IETBSearchBox
	QuickSearchBox
	GDDeskband
	GDSearchGadget
	GDWebServer
	GDOutlook
	ChromeOmnibox
	ChromeHomePage
	FFTB2Box
	FFTB3Box
	PinyinIMEBHO
	IGoogleWebpage
	MobileIdleScreen
)

// accessPointNames maps each access point to the canonical name keying its
// RLZ value in the store and naming it on the wire.
var accessPointNames = map[AccessPoint]string{
	IEDefaultSearch:  "I7",
	IEHomePage:       "W1",
	IETBSearchBox:    "T4",
	QuickSearchBox:   "Q1",
	GDDeskband:       "D1",
	GDSearchGadget:   "D2",
	GDWebServer:      "D3",
	GDOutlook:        "D4",
	ChromeOmnibox:    "C1",
	ChromeHomePage:   "C2",
	FFTB2Box:         "B2",
	FFTB3Box:         "B3",
	PinyinIMEBHO:     "N1",
	IGoogleWebpage:   "G1",
	MobileIdleScreen: "H1",
}

// Name returns the access point's canonical wire name. Unknown access points
// are rejected rather than mapped to a sentinel value.
func (a AccessPoint) Name() (string, error) {
	name, ok := accessPointNames[a]
	if !ok {
		return "", xerrors.Errorf("unknown access point %d", int(a))
	}
	return name, nil
}

func (a AccessPoint) String() string {
	if name, ok := accessPointNames[a]; ok {
		return name
	}
	return "AccessPoint(?)"
}

// AccessPointFromName resolves a canonical wire name back to its access
// point. It reports false for names the library does not know.
func AccessPointFromName(name string) (AccessPoint, bool) {
	for point, n := range accessPointNames {
		if n == name {
			return point, true
		}
	}
	return AccessPointNone, false
}

// AccessPoints returns every known access point in enumeration order. The
// request builder walks this list when a ping without events must report all
// live RLZ values on the system.
func AccessPoints() []AccessPoint {
	points := make([]AccessPoint, 0, len(accessPointNames))
	for point := range accessPointNames {
		points = append(points, point)
	}
	sort.Slice(points, func(i, j int) bool { return points[i] < points[j] })
	return points
}

// Event is the kind of a recordable usage event: an install, a search
// provider change, and so on.
type Event int

const (
	EventNone Event = iota
	EventInstall
	EventSetToGoogle
	EventFirstSearch
	EventReportRlz
	EventActivate
)

var eventNames = map[Event]string{
	EventInstall:     "I",
	EventSetToGoogle: "S",
	EventFirstSearch: "F",
	EventReportRlz:   "R",
	EventActivate:    "A",
}

// Name returns the event kind's one-letter wire name, failing closed on
// unknown kinds.
func (e Event) Name() (string, error) {
	name, ok := eventNames[e]
	if !ok {
		return "", xerrors.Errorf("unknown event %d", int(e))
	}
	return name, nil
}

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return "Event(?)"
}

// EventKey composes the store key and wire token for an event at an access
// point, for example "C1I" for an install through the Chrome omnibox.
func EventKey(point AccessPoint, event Event) (string, error) {
	name, err := point.Name()
	if err != nil {
		return "", err
	}
	letter, err := event.Name()
	if err != nil {
		return "", err
	}
	return name + letter, nil
}

// ParseEventKey splits an event token back into its access point and event
// kind. Tokens naming unknown access points or event kinds are rejected.
func ParseEventKey(key string) (AccessPoint, Event, error) {
	if len(key) < 2 {
		return AccessPointNone, EventNone, xerrors.Errorf("malformed event key %q", key)
	}
	point, ok := AccessPointFromName(key[:len(key)-1])
	if !ok {
		return AccessPointNone, EventNone, xerrors.Errorf("event key %q names no known access point", key)
	}
	letter := key[len(key)-1:]
	for event, name := range eventNames {
		if name == letter {
			return point, event, nil
		}
	}
	return AccessPointNone, EventNone, xerrors.Errorf("event key %q names no known event", key)
}
