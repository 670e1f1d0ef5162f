// Package maildir is a drop-folder source transport: raw .eml files arrive in
// incoming/, are claimed into processing/ and end in processed/ or failed/.
package maildir

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/kirillkom/referral-intake/internal/core/domain"
	"github.com/kirillkom/referral-intake/internal/infrastructure/mailparse"
)

const (
	dirIncoming   = "incoming"
	dirProcessing = "processing"
	dirProcessed  = "processed"
	dirFailed     = "failed"

	setupNotificationMarker = "AMAZON_SES_SETUP_NOTIFICATION"
	maxMessageBytes         = 50 << 20

	// DefaultClaimTimeout must outlast a worker's per-item deadline.
	DefaultClaimTimeout = 30 * time.Minute
)

type Transport struct {
	basePath     string
	claimTimeout time.Duration
	now          func() time.Time
}

func New(basePath string) (*Transport, error) {
	if basePath == "" {
		basePath = "./data/mail"
	}
	for _, dir := range []string{dirIncoming, dirProcessing, dirProcessed, dirFailed} {
		if err := os.MkdirAll(filepath.Join(basePath, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", dir, err)
		}
	}
	return &Transport{basePath: basePath, claimTimeout: DefaultClaimTimeout, now: time.Now}, nil
}

// WithClaimTimeout sets how long a claimed item may sit in processing/ before
// ListPending hands it out again. Non-positive values keep the default.
func (t *Transport) WithClaimTimeout(timeout time.Duration) *Transport {
	if timeout > 0 {
		t.claimTimeout = timeout
	}
	return t
}

// IncomingDir is where new messages are dropped.
func (t *Transport) IncomingDir() string {
	return filepath.Join(t.basePath, dirIncoming)
}

// ListPending returns incoming messages oldest first. Claims older than the
// claim timeout are moved back to incoming/ first.
func (t *Transport) ListPending(_ context.Context) ([]domain.SourceRef, error) {
	t.reclaimStale()

	entries, err := os.ReadDir(t.IncomingDir())
	if err != nil {
		return nil, fmt.Errorf("read incoming dir: %w", err)
	}

	type pending struct {
		name    string
		modTime time.Time
	}
	items := make([]pending, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || skipName(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		items = append(items, pending{name: entry.Name(), modTime: info.ModTime()})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].modTime.Equal(items[j].modTime) {
			return items[i].name < items[j].name
		}
		return items[i].modTime.Before(items[j].modTime)
	})

	refs := make([]domain.SourceRef, 0, len(items))
	for _, item := range items {
		refs = append(refs, domain.SourceRef(item.name))
	}
	return refs, nil
}

func (t *Transport) reclaimStale() {
	entries, err := os.ReadDir(filepath.Join(t.basePath, dirProcessing))
	if err != nil {
		slog.Warn("maildir_processing_read_failed", "error", err)
		return
	}
	cutoff := t.now().Add(-t.claimTimeout)
	for _, entry := range entries {
		if !entry.Type().IsRegular() || skipName(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		name := entry.Name()
		if err := os.Rename(t.path(dirProcessing, name), t.path(dirIncoming, name)); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				slog.Warn("source_claim_reclaim_failed", "source_ref", name, "error", err)
			}
			continue
		}
		slog.Warn("source_claim_expired", "source_ref", name, "claimed_at", info.ModTime())
	}
}

func skipName(name string) bool {
	return name == ".keep" ||
		strings.HasPrefix(name, ".") ||
		strings.Contains(name, setupNotificationMarker)
}

// Claim moves an incoming message to processing/. It reports false when
// another consumer already took it. The file's mtime records the claim time.
func (t *Transport) Claim(_ context.Context, ref domain.SourceRef) (bool, error) {
	name, err := refName(ref)
	if err != nil {
		return false, err
	}
	claimed := t.path(dirProcessing, name)
	err = os.Rename(t.path(dirIncoming, name), claimed)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", name, err)
	}
	now := t.now()
	if err := os.Chtimes(claimed, now, now); err != nil {
		slog.Warn("source_claim_touch_failed", "source_ref", name, "error", err)
	}
	return true, nil
}

// Release returns a claimed message to incoming/. Items that are not in
// processing/ are left alone.
func (t *Transport) Release(_ context.Context, ref domain.SourceRef) error {
	name, err := refName(ref)
	if err != nil {
		return err
	}
	err = os.Rename(t.path(dirProcessing, name), t.path(dirIncoming, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("release %s: %w", name, err)
	}
	slog.Info("source_claim_released", "source_ref", name)
	return nil
}

func (t *Transport) Fetch(_ context.Context, ref domain.SourceRef) (domain.Email, error) {
	name, err := refName(ref)
	if err != nil {
		return domain.Email{}, err
	}
	path, ok := t.locate(name, dirIncoming, dirProcessing)
	if !ok {
		return domain.Email{}, domain.WrapError(domain.ErrSourceNotFound, "fetch "+name, fs.ErrNotExist)
	}

	info, err := os.Stat(path)
	if err != nil {
		return domain.Email{}, fmt.Errorf("stat %s: %w", name, err)
	}
	if info.Size() > maxMessageBytes {
		return domain.Email{}, fmt.Errorf("message %s exceeds %d bytes", name, maxMessageBytes)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.Email{}, fmt.Errorf("read %s: %w", name, err)
	}
	email, err := mailparse.Parse(raw)
	if err != nil {
		return domain.Email{}, fmt.Errorf("parse %s: %w", name, err)
	}
	return email, nil
}

// MarkConsumed moves the message to processed/ or failed/. Marking an item
// that already reached its destination is a no-op.
func (t *Transport) MarkConsumed(_ context.Context, ref domain.SourceRef, outcome domain.IntakeOutcome) error {
	name, err := refName(ref)
	if err != nil {
		return err
	}
	dest := dirProcessed
	if outcome == domain.OutcomeError {
		dest = dirFailed
	}

	src, ok := t.locate(name, dirIncoming, dirProcessing)
	if !ok {
		if _, done := t.locate(name, dirProcessed, dirFailed); done {
			return nil
		}
		return domain.WrapError(domain.ErrSourceNotFound, "mark consumed "+name, fs.ErrNotExist)
	}
	if err := os.Rename(src, t.path(dest, name)); err != nil {
		return fmt.Errorf("move %s to %s: %w", name, dest, err)
	}
	slog.Debug("source_item_moved", "source_ref", name, "destination", dest, "outcome", string(outcome))
	return nil
}

// Watch signals on the returned channel whenever a file lands in incoming/.
// Bursts collapse into a single pending signal. The channel closes with ctx.
func (t *Transport) Watch(ctx context.Context) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(t.IncomingDir()); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch incoming dir: %w", err)
	}

	wake := make(chan struct{}, 1)
	go func() {
		defer close(wake)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Rename|fsnotify.Write) == 0 {
					continue
				}
				if skipName(filepath.Base(event.Name)) {
					continue
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("maildir_watch_error", "error", err)
			}
		}
	}()
	return wake, nil
}

func (t *Transport) path(dir, name string) string {
	return filepath.Join(t.basePath, dir, name)
}

func (t *Transport) locate(name string, dirs ...string) (string, bool) {
	for _, dir := range dirs {
		path := t.path(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

func refName(ref domain.SourceRef) (string, error) {
	name := string(ref)
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", domain.WrapError(domain.ErrInvalidInput, "source ref", fmt.Errorf("invalid name %q", name))
	}
	return name, nil
}
