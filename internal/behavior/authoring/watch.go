package authoring

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce is the quiet period that ends the burst of events of one save.
const debounce = 100 * time.Millisecond

// Watcher reports changed document paths in the watched directories.
type Watcher struct {
	watcher *fsnotify.Watcher
	Events  chan string
	Errors  chan error
	closeCh chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewWatcher starts watching dirs.
func NewWatcher(dirs ...string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, dir := range dirs {
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			return nil, err
		}
	}
	watcher := &Watcher{
		watcher: w,
		Events:  make(chan string, 16),
		Errors:  make(chan error, 1),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go watcher.run()
	return watcher, nil
}

// Close stops the watcher and closes both channels.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.closeCh)
		err = w.watcher.Close()
		<-w.done
		close(w.Events)
		close(w.Errors)
	})
	return err
}

func (w *Watcher) run() {
	defer close(w.done)
	// A path is reported once its events have been quiet for the debounce
	// window, so the reload reads the finished file.
	timers := make(map[string]*time.Timer)
	ready := make(chan string, 16)
	defer func() {
		for _, timer := range timers {
			timer.Stop()
		}
	}()
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if _, ok := FormatOf(event.Name); !ok {
				continue
			}
			if timer, ok := timers[event.Name]; ok {
				timer.Reset(debounce)
				continue
			}
			path := event.Name
			timers[path] = time.AfterFunc(debounce, func() {
				select {
				case ready <- path:
				case <-w.closeCh:
				}
			})
		case path := <-ready:
			delete(timers, path)
			select {
			case w.Events <- path:
			case <-w.closeCh:
				return
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.Errors <- err:
			default:
			}
		case <-w.closeCh:
			return
		}
	}
}
