package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

const watchDebounce = 100 * time.Millisecond

// Watcher reloads the config file when it changes and hands the fresh Config
// to a callback. It prefers fsnotify and falls back to polling when the
// platform watcher cannot be created.
type Watcher struct {
	path     string
	onChange func(*Config)

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Watch starts watching path. The callback runs on the watcher goroutine; it
// must not block for long.
func Watch(path string, onChange func(*Config)) *Watcher {
	w := &Watcher{
		path:     path,
		onChange: onChange,
		stopCh:   make(chan struct{}),
	}
	w.start()
	return w
}

// Stop terminates the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

func (w *Watcher) start() {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Warn("failed to create file watcher, falling back to polling")
		go w.poll()
		return
	}
	if err := fw.Add(w.path); err != nil {
		log.WithError(err).WithField("path", w.path).Warn("failed to watch config file, falling back to polling")
		fw.Close()
		go w.poll()
		return
	}
	// Watch the directory too, to catch atomic writes (rename-over).
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		log.WithError(err).Warn("failed to watch config directory")
	}
	log.WithField("path", w.path).Info("config watcher started using fsnotify")

	go func() {
		defer fw.Close()

		var debounce *time.Timer
		for {
			select {
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if event.Name != w.path || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(watchDebounce, w.reload)
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("config watcher error")
			case <-w.stopCh:
				if debounce != nil {
					debounce.Stop()
				}
				return
			}
		}
	}()
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	log.WithField("interval", "5s").Info("config watcher started using polling")

	var lastMod time.Time
	if fi, err := os.Stat(w.path); err == nil {
		lastMod = fi.ModTime()
	}
	for {
		select {
		case <-ticker.C:
			fi, err := os.Stat(w.path)
			if err != nil {
				continue
			}
			if fi.ModTime().After(lastMod) {
				lastMod = fi.ModTime()
				w.reload()
			}
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		log.WithError(err).WithField("path", w.path).Warn("config reload failed, keeping previous configuration")
		return
	}
	log.WithField("path", w.path).Info("configuration reloaded")
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
