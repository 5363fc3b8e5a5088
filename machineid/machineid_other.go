//go:build !linux && !windows

package machineid

import "context"

type unsupportedProvider struct{}

func newOSProvider() Provider {
	return unsupportedProvider{}
}

func (unsupportedProvider) MachineID(context.Context) (string, error) {
	return "", ErrNotSupported
}
