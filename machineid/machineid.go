// Package machineid derives a stable, privacy-preserving identifier for
// the current machine. Pings attach it so the server can de-duplicate
// reports from reinstalls; callers treat it as best-effort and never fail
// an operation because no identity is available.
package machineid

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/xerrors"
)

// ErrNotSupported is returned on platforms without a usable machine
// identity source. Use Generated on such hosts.
var ErrNotSupported = xerrors.New("machine identity not supported on this platform")

// Provider yields the machine identifier.
type Provider interface {
	MachineID(ctx context.Context) (string, error)
}

// OS returns the identity provider for the current platform.
func OS() Provider {
	return newOSProvider()
}

// fingerprintSalt keeps the reported identifier distinct from the raw OS
// machine id, which other applications derive their own identifiers from.
const fingerprintSalt = "promotrack-rlz"

func fingerprint(raw string) string {
	sum := sha256.Sum256([]byte(fingerprintSalt + ":" + raw))
	return strings.ToUpper(hex.EncodeToString(sum[:16]))
}
