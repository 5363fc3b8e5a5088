package machineid

import (
	"context"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

// Generated provides an identity for hosts without a usable platform
// source: it mints a random identifier on first use and persists it, so
// every later call reports the same value.
type Generated struct {
	// FS defaults to the operating system filesystem.
	FS afero.Fs
	// Path is where the identifier lives. Defaults to "machine-id" in an
	// "rlz" directory under the user configuration directory.
	Path string
}

func (g Generated) MachineID(_ context.Context) (string, error) {
	fsys := g.FS
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	path := g.Path
	if path == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return "", xerrors.Errorf("resolve user config directory: %w", err)
		}
		path = filepath.Join(base, "rlz", "machine-id")
	}

	raw, err := afero.ReadFile(fsys, path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", xerrors.Errorf("read generated machine id: %w", err)
	}
	if err == nil {
		id, perr := uuid.Parse(strings.TrimSpace(string(raw)))
		if perr == nil {
			return formatUUID(id), nil
		}
		// Unparseable content is replaced with a fresh identity.
	}

	id := uuid.New()
	if err := fsys.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", xerrors.Errorf("create machine id directory: %w", err)
	}
	if err := afero.WriteFile(fsys, path, []byte(id.String()+"\n"), 0o600); err != nil {
		return "", xerrors.Errorf("persist generated machine id: %w", err)
	}
	return formatUUID(id), nil
}

func formatUUID(id uuid.UUID) string {
	return strings.ToUpper(hex.EncodeToString(id[:]))
}
