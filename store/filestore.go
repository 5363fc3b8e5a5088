package store

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"cdr.dev/slog"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/promotrack/rlz"
)

// errCorruptDocument marks a store document that exists but cannot be
// parsed. Holders of write access recover by starting over; read-only
// holders cannot and see the error.
var errCorruptDocument = xerrors.New("corrupt store document")

// document is the persisted JSON shape of one namespace. The four
// containers mirror the structural keys of the store: RLZ values by access
// point name, pending and stateful events by product code then event key,
// and last-ping times by product code in nanoseconds since the Unix epoch.
// Event entries carry the sentinel value 1; only key presence matters.
//
// A nil container means "deleted"; an empty non-nil container persists
// until garbage collection removes it.
type document struct {
	Rlzs           map[string]string         `json:"rlzs"`
	Events         map[string]map[string]int `json:"events"`
	StatefulEvents map[string]map[string]int `json:"stateful_events"`
	PingTimes      map[string]int64          `json:"ping_times"`
}

func (d *document) empty() bool {
	return len(d.Rlzs) == 0 && len(d.Events) == 0 &&
		len(d.StatefulEvents) == 0 && len(d.PingTimes) == 0
}

// fileStore implements ValueStore on a single JSON document. Every
// mutation is flushed before returning, so a crash between calls loses
// nothing. The cross-process lock is what makes the in-memory document
// authoritative between loads.
type fileStore struct {
	fs     afero.Fs
	path   string
	dir    string
	logger slog.Logger

	mu     sync.Mutex
	access AccessType
	doc    *document
	closed bool
}

func openFileStore(ctx context.Context, opts Options, path string, access AccessType) (*fileStore, error) {
	doc, err := loadDocument(opts.FS, path)
	if err != nil {
		if access != WriteAccess || !errors.Is(err, errCorruptDocument) {
			return nil, err
		}
		// The document cannot be trusted and nothing can be salvaged from
		// it. Starting over beats failing every call until someone removes
		// the file by hand.
		opts.Logger.Warn(ctx, "store document unreadable, starting empty",
			slog.F("path", path), slog.Error(err))
		doc = &document{}
	}
	return &fileStore{
		fs:     opts.FS,
		path:   path,
		dir:    filepath.Dir(path),
		logger: opts.Logger,
		access: access,
		doc:    doc,
	}, nil
}

func loadDocument(fsys afero.Fs, path string) (*document, error) {
	raw, err := afero.ReadFile(fsys, path)
	if errors.Is(err, fs.ErrNotExist) {
		return &document{}, nil
	}
	if err != nil {
		return nil, xerrors.Errorf("read store document: %w", err)
	}
	doc := &document{}
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, xerrors.Errorf("%w: %s", errCorruptDocument, err.Error())
	}
	return doc, nil
}

func (s *fileStore) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// guard rejects calls made after release and calls exceeding the access
// this acquisition granted. Callers hold s.mu.
func (s *fileStore) guard(access AccessType) error {
	if s.closed {
		return ErrLockNotHeld
	}
	if !s.hasAccess(access) {
		return ErrNoAccess
	}
	return nil
}

func (s *fileStore) hasAccess(access AccessType) bool {
	switch access {
	case ReadAccess:
		return s.access == ReadAccess || s.access == WriteAccess
	case WriteAccess:
		return s.access == WriteAccess
	default:
		return false
	}
}

func (s *fileStore) HasAccess(access AccessType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	return s.hasAccess(access)
}

// flush persists the document atomically: full write to a temporary file
// in the same directory, then rename over the live path. On failure the
// in-memory document is reloaded from disk, so a mutation that could not
// be persisted does not linger and ride along with a later flush.
func (s *fileStore) flush() error {
	raw, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return xerrors.Errorf("encode store document: %w", err)
	}
	tmp, err := afero.TempFile(s.fs, s.dir, storeFileName+"-*.tmp")
	if err != nil {
		s.discardDirty()
		return xerrors.Errorf("create temporary store document: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpPath)
		s.discardDirty()
		return xerrors.Errorf("write store document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpPath)
		s.discardDirty()
		return xerrors.Errorf("close temporary store document: %w", err)
	}
	if err := s.fs.Rename(tmpPath, s.path); err != nil {
		_ = s.fs.Remove(tmpPath)
		s.discardDirty()
		return xerrors.Errorf("replace store document: %w", err)
	}
	return nil
}

func (s *fileStore) discardDirty() {
	if fresh, err := loadDocument(s.fs, s.path); err == nil {
		s.doc = fresh
	}
}

// verifyCleared reloads the persisted document and runs check against what
// is actually on disk. The reloaded document becomes the live one, so the
// store never trusts a delete it cannot observe.
func (s *fileStore) verifyCleared(check func(*document) error) error {
	fresh, err := loadDocument(s.fs, s.path)
	if err != nil {
		return xerrors.Errorf("reload store document: %w", err)
	}
	s.doc = fresh
	return check(fresh)
}

func (s *fileStore) WritePingTime(product rlz.Product, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(WriteAccess); err != nil {
		return err
	}
	code, err := product.Code()
	if err != nil {
		return err
	}
	if s.doc.PingTimes == nil {
		s.doc.PingTimes = make(map[string]int64)
	}
	s.doc.PingTimes[code] = t.UnixNano()
	return s.flush()
}

func (s *fileStore) ReadPingTime(product rlz.Product) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(ReadAccess); err != nil {
		return time.Time{}, err
	}
	code, err := product.Code()
	if err != nil {
		return time.Time{}, err
	}
	nanos, ok := s.doc.PingTimes[code]
	if !ok {
		return time.Time{}, ErrNotFound
	}
	return time.Unix(0, nanos), nil
}

func (s *fileStore) ClearPingTime(product rlz.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(WriteAccess); err != nil {
		return err
	}
	code, err := product.Code()
	if err != nil {
		return err
	}
	delete(s.doc.PingTimes, code)
	if err := s.flush(); err != nil {
		return err
	}
	return s.verifyCleared(func(d *document) error {
		if _, ok := d.PingTimes[code]; ok {
			return xerrors.Errorf("ping time for product %s still present after delete", code)
		}
		return nil
	})
}

func (s *fileStore) WriteAccessPointRlz(point rlz.AccessPoint, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(WriteAccess); err != nil {
		return err
	}
	name, err := point.Name()
	if err != nil {
		return err
	}
	if s.doc.Rlzs == nil {
		s.doc.Rlzs = make(map[string]string)
	}
	s.doc.Rlzs[name] = value
	return s.flush()
}

func (s *fileStore) ReadAccessPointRlz(point rlz.AccessPoint) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(ReadAccess); err != nil {
		return "", err
	}
	name, err := point.Name()
	if err != nil {
		return "", err
	}
	return s.doc.Rlzs[name], nil
}

func (s *fileStore) ClearAccessPointRlz(point rlz.AccessPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(WriteAccess); err != nil {
		return err
	}
	name, err := point.Name()
	if err != nil {
		return err
	}
	delete(s.doc.Rlzs, name)
	if err := s.flush(); err != nil {
		return err
	}
	return s.verifyCleared(func(d *document) error {
		if _, ok := d.Rlzs[name]; ok {
			return xerrors.Errorf("rlz for access point %s still present after delete", name)
		}
		return nil
	})
}

func (s *fileStore) AddProductEvent(product rlz.Product, event string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(WriteAccess); err != nil {
		return err
	}
	code, err := validatedEventEntry(product, event)
	if err != nil {
		return err
	}
	if s.doc.Events == nil {
		s.doc.Events = make(map[string]map[string]int)
	}
	if s.doc.Events[code] == nil {
		s.doc.Events[code] = make(map[string]int)
	}
	s.doc.Events[code][event] = 1
	return s.flush()
}

func (s *fileStore) ReadProductEvents(product rlz.Product) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(ReadAccess); err != nil {
		return nil, err
	}
	code, err := product.Code()
	if err != nil {
		return nil, err
	}
	events := make([]string, 0, len(s.doc.Events[code]))
	for event := range s.doc.Events[code] {
		events = append(events, event)
	}
	sort.Strings(events)
	return events, nil
}

func (s *fileStore) ClearProductEvent(product rlz.Product, event string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(WriteAccess); err != nil {
		return err
	}
	code, err := validatedEventEntry(product, event)
	if err != nil {
		return err
	}
	delete(s.doc.Events[code], event)
	if err := s.flush(); err != nil {
		return err
	}
	return s.verifyCleared(func(d *document) error {
		if _, ok := d.Events[code][event]; ok {
			return xerrors.Errorf("event %s for product %s still present after delete", event, code)
		}
		return nil
	})
}

func (s *fileStore) ClearAllProductEvents(product rlz.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(WriteAccess); err != nil {
		return err
	}
	code, err := product.Code()
	if err != nil {
		return err
	}
	delete(s.doc.Events, code)
	if err := s.flush(); err != nil {
		return err
	}
	return s.verifyCleared(func(d *document) error {
		if _, ok := d.Events[code]; ok {
			return xerrors.Errorf("event container for product %s still present after delete", code)
		}
		return nil
	})
}

func (s *fileStore) AddStatefulEvent(product rlz.Product, event string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(WriteAccess); err != nil {
		return err
	}
	code, err := validatedEventEntry(product, event)
	if err != nil {
		return err
	}
	if s.doc.StatefulEvents == nil {
		s.doc.StatefulEvents = make(map[string]map[string]int)
	}
	if s.doc.StatefulEvents[code] == nil {
		s.doc.StatefulEvents[code] = make(map[string]int)
	}
	s.doc.StatefulEvents[code][event] = 1
	return s.flush()
}

func (s *fileStore) IsStatefulEvent(product rlz.Product, event string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(ReadAccess); err != nil {
		return false, err
	}
	code, err := validatedEventEntry(product, event)
	if err != nil {
		return false, err
	}
	_, ok := s.doc.StatefulEvents[code][event]
	return ok, nil
}

func (s *fileStore) ClearAllStatefulEvents(product rlz.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(WriteAccess); err != nil {
		return err
	}
	code, err := product.Code()
	if err != nil {
		return err
	}
	delete(s.doc.StatefulEvents, code)
	if err := s.flush(); err != nil {
		return err
	}
	return s.verifyCleared(func(d *document) error {
		if _, ok := d.StatefulEvents[code]; ok {
			return xerrors.Errorf("stateful event container for product %s still present after delete", code)
		}
		return nil
	})
}

func (s *fileStore) CollectGarbage(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.hasAccess(WriteAccess) {
		s.logger.Debug(ctx, "skipping garbage collection without write access")
		return
	}

	changed := false
	for code, events := range s.doc.Events {
		if len(events) == 0 {
			delete(s.doc.Events, code)
			changed = true
		}
	}
	for code, events := range s.doc.StatefulEvents {
		if len(events) == 0 {
			delete(s.doc.StatefulEvents, code)
			changed = true
		}
	}
	if s.doc.Events != nil && len(s.doc.Events) == 0 {
		s.doc.Events = nil
		changed = true
	}
	if s.doc.StatefulEvents != nil && len(s.doc.StatefulEvents) == 0 {
		s.doc.StatefulEvents = nil
		changed = true
	}
	if s.doc.Rlzs != nil && len(s.doc.Rlzs) == 0 {
		s.doc.Rlzs = nil
		changed = true
	}
	if s.doc.PingTimes != nil && len(s.doc.PingTimes) == 0 {
		s.doc.PingTimes = nil
		changed = true
	}

	if s.doc.empty() {
		err := s.fs.Remove(s.path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn(ctx, "garbage collection could not remove store document",
				slog.F("path", s.path), slog.Error(err))
			return
		}
		// The directory stays while anything else lives in it, such as
		// the lock file or another brand's documents.
		if err := s.fs.Remove(s.dir); err != nil {
			s.logger.Debug(ctx, "store directory still in use, leaving in place",
				slog.F("dir", s.dir))
		}
		return
	}
	if changed {
		if err := s.flush(); err != nil {
			s.logger.Warn(ctx, "garbage collection could not persist pruned document",
				slog.Error(err))
		}
	}
}

// validatedEventEntry resolves the product code and rejects event keys
// that do not name a known access point and event kind.
func validatedEventEntry(product rlz.Product, event string) (string, error) {
	code, err := product.Code()
	if err != nil {
		return "", err
	}
	if _, _, err := rlz.ParseEventKey(event); err != nil {
		return "", err
	}
	return code, nil
}
