package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/custodia-labs/kbase/internal/logger"
)

// DefaultDebounce is how long a path must be quiet before its change is emitted.
const DefaultDebounce = 500 * time.Millisecond

// ErrClosed is returned by Watch after Close.
var ErrClosed = errors.New("connector closed")

// ChangeType classifies a change to a file.
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"
)

// Change is a settled change to one file.
type Change struct {
	Type ChangeType
	Path string
}

// Connector scans and watches a directory.
type Connector struct {
	root     string
	accept   func(path string) bool
	debounce time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	closed  bool
	watcher *fsnotify.Watcher
}

// Option configures a Connector.
type Option func(*Connector)

// WithFilter restricts the connector to paths for which accept returns true.
func WithFilter(accept func(path string) bool) Option {
	return func(c *Connector) {
		if accept != nil {
			c.accept = accept
		}
	}
}

// WithDebounce sets the quiet period before a change is emitted. Zero emits
// every event immediately.
func WithDebounce(d time.Duration) Option {
	return func(c *Connector) {
		if d >= 0 {
			c.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Connector) {
		c.logger = logger.OrNop(l)
	}
}

// New creates a connector rooted at root.
func New(root string, opts ...Option) *Connector {
	c := &Connector{
		root:     root,
		accept:   func(string) bool { return true },
		debounce: DefaultDebounce,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Root returns the watched directory.
func (c *Connector) Root() string {
	return c.root
}

// Validate checks that the root is an existing directory.
func (c *Connector) Validate() error {
	info, err := os.Stat(c.root)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("root path error: %s does not exist", c.root)
		}
		return fmt.Errorf("root path error: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("root path error: %s is not a directory", c.root)
	}
	return nil
}

// Scan returns every eligible file under the root in lexical order.
func (c *Connector) Scan(ctx context.Context) ([]string, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c.walk(ctx, c.root, nil)
}

// walk collects eligible files under dir, calling onDir for each visible
// directory including dir itself.
func (c *Connector) walk(ctx context.Context, dir string, onDir func(string) error) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// The tree can change under us while watching.
			if os.IsNotExist(err) && path != dir {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		rel, _ := filepath.Rel(c.root, path)
		if d.IsDir() {
			if path != dir && isHidden(rel) {
				return filepath.SkipDir
			}
			if onDir != nil {
				return onDir(path)
			}
			return nil
		}
		if isHidden(rel) || !d.Type().IsRegular() || !c.accept(path) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// Watch starts watching the tree. The returned channel is closed when ctx
// is done or the connector is closed.
func (c *Connector) Watch(ctx context.Context) (<-chan Change, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.watcher != nil {
		c.mu.Unlock()
		return nil, errors.New("already watching")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	c.watcher = watcher
	c.mu.Unlock()

	if _, err := c.walk(ctx, c.root, watcher.Add); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("watch %s: %w", c.root, err)
	}

	out := make(chan Change, 64)
	go c.loop(ctx, watcher, out)
	return out, nil
}

type pending struct {
	change Change
	due    time.Time
}

func (c *Connector) loop(ctx context.Context, watcher *fsnotify.Watcher, out chan<- Change) {
	defer close(out)
	defer func() { _ = c.Close() }()

	queue := make(map[string]*pending)
	tick := c.debounce / 2
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	emit := func(ch Change) bool {
		select {
		case out <- ch:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			for _, ch := range c.handle(ctx, watcher, ev) {
				if c.debounce == 0 {
					if !emit(ch) {
						return
					}
					continue
				}
				queue[ch.Path] = merge(queue[ch.Path], ch, time.Now().Add(c.debounce))
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("watch error", zap.String("root", c.root), zap.Error(err))

		case now := <-ticker.C:
			for path, p := range queue {
				if now.Before(p.due) {
					continue
				}
				delete(queue, path)
				if !emit(p.change) {
					return
				}
			}
		}
	}
}

// merge folds a new change into a pending one for the same path.
func merge(prev *pending, next Change, due time.Time) *pending {
	if prev == nil {
		return &pending{change: next, due: due}
	}
	switch {
	case prev.change.Type == ChangeCreated && next.Type == ChangeUpdated:
		// Still new to the caller.
	case prev.change.Type == ChangeCreated && next.Type == ChangeDeleted:
		// Appeared and vanished; the deletion is harmless to report.
		prev.change.Type = ChangeDeleted
	case prev.change.Type == ChangeDeleted && next.Type == ChangeCreated:
		// Replaced in place, as editors do on save.
		prev.change.Type = ChangeUpdated
	default:
		prev.change.Type = next.Type
	}
	prev.due = due
	return prev
}

// handle turns a raw event into changes, adding watches for new directories.
func (c *Connector) handle(ctx context.Context, watcher *fsnotify.Watcher, ev fsnotify.Event) []Change {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			rel, _ := filepath.Rel(c.root, ev.Name)
			if isHidden(rel) {
				return nil
			}
			// Files may land before the watch is in place.
			files, err := c.walk(ctx, ev.Name, watcher.Add)
			if err != nil {
				c.logger.Warn("watch new directory", zap.String("path", ev.Name), zap.Error(err))
				return nil
			}
			changes := make([]Change, 0, len(files))
			for _, f := range files {
				changes = append(changes, Change{Type: ChangeCreated, Path: f})
			}
			return changes
		}
	}
	if ch := c.handleFsEvent(ev); ch != nil {
		return []Change{*ch}
	}
	return nil
}

// handleFsEvent maps one fsnotify event on a file to a change, or nil if the
// event is irrelevant.
func (c *Connector) handleFsEvent(ev fsnotify.Event) *Change {
	rel, err := filepath.Rel(c.root, ev.Name)
	if err != nil {
		rel = ev.Name
	}
	if isHidden(rel) || !c.accept(ev.Name) {
		return nil
	}

	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		return &Change{Type: ChangeDeleted, Path: ev.Name}
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		info, err := os.Stat(ev.Name)
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		typ := ChangeUpdated
		if ev.Has(fsnotify.Create) {
			typ = ChangeCreated
		}
		return &Change{Type: typ, Path: ev.Name}
	default:
		return nil
	}
}

// Close stops any active watch. Safe to call more than once.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.watcher == nil {
		return nil
	}
	err := c.watcher.Close()
	c.watcher = nil
	return err
}

// isHidden reports whether any element of path starts with a dot.
// "." and ".." are not hidden.
func isHidden(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if len(part) > 1 && part[0] == '.' && part != ".." {
			return true
		}
	}
	return false
}
