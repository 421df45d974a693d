package namespace

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/teranos/nstree/errors"
	"github.com/teranos/nstree/logger"
)

// DefaultDebounce coalesces the burst of events a single store write
// produces.
const DefaultDebounce = 500 * time.Millisecond

// Change reports that the store file was modified.
type Change struct {
	Path    string
	Removed bool
	At      time.Time
}

// Watcher notices changes to a store file so the owner can rebuild its
// tree. It never calls the Manager itself, and it cannot tell the owner's
// writes from others; see Manager.Refresh.
//
// The store's directory is watched rather than the file, since SQLite
// writes through a -wal/-journal sidecar and the file itself may be
// replaced.
type Watcher struct {
	storePath      string
	watched        map[string]bool
	watcher        *fsnotify.Watcher
	changes        chan Change
	debouncePeriod time.Duration
	logger         *zap.SugaredLogger

	mu            sync.Mutex
	debounceTimer *time.Timer
	removed       bool
	done          chan struct{}
	closeOnce     sync.Once
}

// NewWatcher watches the store file at storePath. A debounce of zero uses
// DefaultDebounce.
func NewWatcher(storePath string, debounce time.Duration, log *zap.SugaredLogger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = logger.ComponentLogger("watcher")
	}
	abs, err := filepath.Abs(storePath)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve store path %s", storePath)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, errors.Wrapf(err, "failed to watch store directory %s", filepath.Dir(abs))
	}

	base := filepath.Base(abs)
	return &Watcher{
		storePath: abs,
		watched: map[string]bool{
			base:              true,
			base + "-wal":     true,
			base + "-journal": true,
		},
		watcher:        fw,
		changes:        make(chan Change, 1),
		debouncePeriod: debounce,
		logger:         log,
		done:           make(chan struct{}),
	}, nil
}

// Changes delivers coalesced change notifications. At most one is pending
// at a time. The channel is never closed; select on your own context.
func (w *Watcher) Changes() <-chan Change { return w.changes }

// Start begins watching in a new goroutine.
func (w *Watcher) Start() {
	go w.watchLoop()
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(event.Name)
			if !w.watched[name] {
				continue
			}

			removed := name == filepath.Base(w.storePath) &&
				(event.Op&fsnotify.Remove == fsnotify.Remove || event.Op&fsnotify.Rename == fsnotify.Rename)
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 && !removed {
				continue
			}

			w.logger.Debugw("Store file event",
				logger.FieldPath, event.Name,
				"op", event.Op.String())
			w.schedule(removed)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("Store watcher error", logger.FieldError, err)

		case <-w.done:
			return
		}
	}
}

// schedule restarts the debounce timer; the notification fires once the
// file has been quiet for the debounce period.
func (w *Watcher) schedule(removed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.removed = w.removed || removed
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debouncePeriod, w.fire)
}

func (w *Watcher) fire() {
	w.mu.Lock()
	change := Change{Path: w.storePath, Removed: w.removed, At: time.Now()}
	w.removed = false
	w.mu.Unlock()

	select {
	case <-w.done:
	case w.changes <- change:
		w.logger.Debugw("Store changed",
			logger.FieldPath, change.Path,
			"removed", change.Removed)
	default:
		// a notification is already pending
	}
}

// Close stops watching. Pending notifications are dropped.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		if w.debounceTimer != nil {
			w.debounceTimer.Stop()
		}
		w.mu.Unlock()
		err = w.watcher.Close()
	})
	return err
}
