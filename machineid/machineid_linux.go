//go:build linux

package machineid

import (
	"context"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

// machineIDPaths are tried in order. The dbus path predates systemd and
// still exists on some distributions.
var machineIDPaths = []string{
	"/etc/machine-id",
	"/var/lib/dbus/machine-id",
}

type linuxProvider struct {
	fs afero.Fs
}

func newOSProvider() Provider {
	return linuxProvider{fs: afero.NewOsFs()}
}

func (p linuxProvider) MachineID(_ context.Context) (string, error) {
	for _, path := range machineIDPaths {
		raw, err := afero.ReadFile(p.fs, path)
		if err != nil {
			continue
		}
		id := strings.TrimSpace(string(raw))
		if id == "" {
			continue
		}
		return fingerprint(id), nil
	}
	return "", xerrors.New("no machine id source readable")
}
