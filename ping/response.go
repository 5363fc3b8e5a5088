package ping

import (
	"context"
	"hash/crc32"
	"strconv"
	"strings"

	"cdr.dev/slog"
	"golang.org/x/xerrors"

	"github.com/promotrack/rlz"
	"github.com/promotrack/rlz/store"
)

// ParsePingResponse applies a confirmed server response to the store: RLZ
// lines reassign access point values, an events line clears the pending
// events the server acknowledged, and a stateful-events line marks events
// as permanently reported. The response must carry a valid checksum line;
// a response that validates but carries no directives is a success.
// Individual directives that cannot be applied are logged and skipped, so
// one bad line does not discard the rest of the response.
func (p *Pinger) ParsePingResponse(ctx context.Context, product rlz.Product, response []byte) error {
	payload, err := checksumPayload(response)
	if err != nil {
		return xerrors.Errorf("parse ping response: %w", err)
	}
	if strings.TrimSpace(payload) == "" {
		return nil
	}

	lock, err := store.Acquire(ctx, p.opts.Store)
	if err != nil {
		return err
	}
	defer lock.Release()
	s := lock.Store()

	for _, line := range strings.Split(payload, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case strings.HasPrefix(line, rlz.CGIStatefulEvents+": "):
			for _, event := range splitTokens(line[len(rlz.CGIStatefulEvents)+2:]) {
				if err := s.AddStatefulEvent(product, event); err != nil {
					p.opts.Logger.Warn(ctx, "could not record stateful event from response",
						slog.F("event", event), slog.Error(err))
				}
			}
		case strings.HasPrefix(line, rlz.CGIEvents+": "):
			for _, event := range splitTokens(line[len(rlz.CGIEvents)+2:]) {
				if err := s.ClearProductEvent(product, event); err != nil {
					p.opts.Logger.Warn(ctx, "could not clear acknowledged event",
						slog.F("event", event), slog.Error(err))
				}
			}
		case strings.HasPrefix(line, rlz.CGIRlz):
			p.applyRlzLine(ctx, s, line)
		default:
			// Directives this library does not consume, such as machine
			// deal code updates, are left for the host product.
		}
	}
	return nil
}

// applyRlzLine handles one "rlz<AP>: <value>" directive. Lines naming
// unknown access points or carrying unusable values are skipped.
func (p *Pinger) applyRlzLine(ctx context.Context, s store.ValueStore, line string) {
	rest := line[len(rlz.CGIRlz):]
	colon := strings.Index(rest, ":")
	if colon < 0 {
		return
	}
	name := strings.TrimSpace(rest[:colon])
	value := strings.TrimSpace(rest[colon+1:])
	point, ok := rlz.AccessPointFromName(name)
	if !ok {
		p.opts.Logger.Debug(ctx, "response names unknown access point", slog.F("name", name))
		return
	}
	if value == "" {
		return
	}
	if err := rlz.ValidateRlz(value); err != nil {
		p.opts.Logger.Warn(ctx, "response carries unusable rlz value",
			slog.F("access_point", name), slog.Error(err))
		return
	}
	if err := s.WriteAccessPointRlz(point, value); err != nil {
		p.opts.Logger.Warn(ctx, "could not store rlz value from response",
			slog.F("access_point", name), slog.Error(err))
	}
}

func splitTokens(list string) []string {
	var tokens []string
	for _, token := range strings.Split(list, ",") {
		token = strings.TrimSpace(token)
		if token != "" {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

// checksumPayload validates the response's crc32 line and returns the
// directive text preceding it. The checksum covers every byte up to and
// including the newline before the checksum line; anything after the
// checksum value is ignored.
func checksumPayload(response []byte) (string, error) {
	if len(response) == 0 {
		return "", xerrors.New("empty response")
	}
	if len(response) > rlz.MaxPingResponseLength {
		return "", xerrors.Errorf("response of %d bytes exceeds the %d byte limit",
			len(response), rlz.MaxPingResponseLength)
	}

	text := string(response)
	marker := rlz.CGIChecksum + ": "
	var payload, checksumText string
	if idx := strings.Index(text, "\n"+marker); idx >= 0 {
		payload = text[:idx+1]
		checksumText = text[idx+1+len(marker):]
	} else if strings.HasPrefix(text, marker) {
		checksumText = text[len(marker):]
	} else {
		return "", xerrors.New("response carries no checksum line")
	}
	if nl := strings.IndexByte(checksumText, '\n'); nl >= 0 {
		checksumText = checksumText[:nl]
	}

	want, err := strconv.ParseUint(strings.TrimSpace(checksumText), 16, 32)
	if err != nil {
		return "", xerrors.Errorf("unreadable checksum %q: %w", strings.TrimSpace(checksumText), err)
	}
	if got := crc32.ChecksumIEEE([]byte(payload)); got != uint32(want) {
		return "", xerrors.Errorf("checksum mismatch: response says %08x, payload is %08x", want, got)
	}
	return payload, nil
}
