package rlz

import (
	"sort"
	"strings"

	"golang.org/x/xerrors"
)

const (
	eventsSeparator = ","
	rlzSeparator    = ","
	rlzIndicator    = ":"
)

// ValidateRlz reports whether value is usable as an RLZ string: ASCII
// letters, digits, underscore and dash, at most MaxRlzLength characters.
// The empty string is valid and means "not set".
func ValidateRlz(value string) error {
	if len(value) > MaxRlzLength {
		return xerrors.Errorf("rlz value of %d bytes exceeds the %d byte limit", len(value), MaxRlzLength)
	}
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-':
		default:
			return xerrors.Errorf("rlz value %q contains invalid byte %q", value, c)
		}
	}
	return nil
}

// EventsCGI renders a set of event tokens as a query fragment, for example
// "events=C1I,C2S". Tokens are sorted so the fragment is deterministic
// regardless of store enumeration order. An empty set yields an empty
// fragment.
func EventsCGI(events []string) (string, error) {
	if len(events) == 0 {
		return "", nil
	}
	sorted := make([]string, len(events))
	copy(sorted, events)
	sort.Strings(sorted)

	var b strings.Builder
	b.WriteString(CGIEvents)
	b.WriteString("=")
	for i, event := range sorted {
		if event == "" {
			return "", xerrors.New("empty event token")
		}
		if i > 0 {
			b.WriteString(eventsSeparator)
		}
		b.WriteString(event)
	}
	if b.Len() > MaxCGILength {
		return "", xerrors.Errorf("events fragment of %d bytes exceeds the %d byte limit", b.Len(), MaxCGILength)
	}
	return b.String(), nil
}

// AccessPointRlz pairs an access point with its stored RLZ value for
// encoding into a ping request.
type AccessPointRlz struct {
	Point AccessPoint
	Rlz   string
}

// PingParamsCGI renders the RLZ exchange protocol marker followed by the
// given access points' RLZ values, for example "rep=2&rlz=C1:1T4AB_en,C2:X".
// Pairs whose value is empty are skipped. A non-empty machine deal code is
// appended as a trailing dcc field. With no pairs and no deal code the
// fragment is just the protocol marker.
func PingParamsCGI(pairs []AccessPointRlz, dealCode string) (string, error) {
	if len(dealCode) > MaxDealCodeLength {
		return "", xerrors.Errorf("deal code of %d bytes exceeds the %d byte limit", len(dealCode), MaxDealCodeLength)
	}

	var b strings.Builder
	b.WriteString(ProtocolArgument)
	first := true
	for _, pair := range pairs {
		if pair.Rlz == "" {
			continue
		}
		name, err := pair.Point.Name()
		if err != nil {
			return "", err
		}
		if first {
			b.WriteString("&")
			b.WriteString(CGIRlz)
			b.WriteString("=")
			first = false
		} else {
			b.WriteString(rlzSeparator)
		}
		b.WriteString(name)
		b.WriteString(rlzIndicator)
		b.WriteString(pair.Rlz)
	}
	if dealCode != "" {
		b.WriteString("&")
		b.WriteString(CGIDealCode)
		b.WriteString("=")
		b.WriteString(dealCode)
	}
	if b.Len() > MaxCGILength {
		return "", xerrors.Errorf("rlz fragment of %d bytes exceeds the %d byte limit", b.Len(), MaxCGILength)
	}
	return b.String(), nil
}
