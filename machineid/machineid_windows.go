//go:build windows

package machineid

import (
	"context"

	"golang.org/x/sys/windows/registry"
	"golang.org/x/xerrors"
)

type windowsProvider struct{}

func newOSProvider() Provider {
	return windowsProvider{}
}

func (windowsProvider) MachineID(_ context.Context) (string, error) {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE,
		`SOFTWARE\Microsoft\Cryptography`, registry.QUERY_VALUE|registry.WOW64_64KEY)
	if err != nil {
		return "", xerrors.Errorf("open cryptography key: %w", err)
	}
	defer key.Close()

	guid, _, err := key.GetStringValue("MachineGuid")
	if err != nil {
		return "", xerrors.Errorf("read machine guid: %w", err)
	}
	return fingerprint(guid), nil
}
