package watcher

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/your-org/fileflow/internal/events"
)

// Watcher turns filesystem activity under one directory tree into file
// events. Directories created while watching are picked up automatically.
type Watcher struct {
	root string
	fsw  *fsnotify.Watcher
	log  *zap.Logger

	out  chan events.Record
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once

	// dirs remembers which watched paths are directories so their removal
	// can be told apart from a file delete. Touched only by the run
	// goroutine after startup.
	dirs map[string]bool
}

// New starts watching the tree rooted at root. The root must already exist.
func New(root string, log *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	w := &Watcher{
		root: root,
		fsw:  fsw,
		log:  log,
		out:  make(chan events.Record, 64),
		done: make(chan struct{}),
		dirs: make(map[string]bool),
	}
	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}
	w.wg.Add(1)
	go w.run()
	w.log.Info("watching directory", zap.String("path", root))
	return w, nil
}

// Events returns the stream of observed changes. The channel is closed
// after Close.
func (w *Watcher) Events() <-chan events.Record {
	return w.out
}

// Close stops watching and waits for the event goroutine to drain.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fsw.Close()
	})
	w.wg.Wait()
	return err
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		w.dirs[path] = true
		return nil
	})
}

func (w *Watcher) run() {
	defer w.wg.Done()
	defer close(w.out)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	switch {
	case ev.Op.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err != nil {
			// Already gone again; the remove event will follow.
			w.emit(events.NewAdded(ev.Name, 0))
			return
		}
		if info.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				w.log.Warn("watch new directory", zap.String("path", ev.Name), zap.Error(err))
			}
			return
		}
		w.emit(events.NewAdded(ev.Name, float64(info.Size())/1024.0))
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		if w.dirs[ev.Name] {
			delete(w.dirs, ev.Name)
			return
		}
		w.emit(events.NewDeleted(ev.Name))
	}
}

func (w *Watcher) emit(rec events.Record) {
	select {
	case w.out <- rec:
	case <-w.done:
	}
}
