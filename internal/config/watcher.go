package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"wayrec/internal/logger"
)

// Watcher reloads the store when the settings file is edited outside the
// application (text editor, dotfile sync). Changed settings are reported
// through the callback.
type Watcher struct {
	store    *Store
	onChange func(Settings)
	fsw      *fsnotify.Watcher
	stopChan chan struct{}
}

// NewWatcher creates a watcher for the store's settings file
func NewWatcher(store *Store, onChange func(Settings)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory, not the file: editors and our own atomic
	// writes replace the file by rename.
	if err := fsw.Add(filepath.Dir(store.Path())); err != nil {
		fsw.Close()
		return nil, err
	}

	return &Watcher{
		store:    store,
		onChange: onChange,
		fsw:      fsw,
		stopChan: make(chan struct{}),
	}, nil
}

// Start begins watching in a background goroutine
func (w *Watcher) Start() {
	go w.loop()
}

// Stop stops the watcher
func (w *Watcher) Stop() {
	close(w.stopChan)
	w.fsw.Close()
}

func (w *Watcher) loop() {
	log := logger.WithComponent("config-watcher")

	var debounce *time.Timer
	trigger := make(chan struct{}, 1)

	for {
		select {
		case <-w.stopChan:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.store.Path()) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Coalesce editor write bursts
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(100*time.Millisecond, func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			})
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("settings watch error")
		case <-trigger:
			settings, changed, err := w.store.Reload()
			if err != nil {
				log.Warn().Err(err).Msg("failed to reload settings after external edit")
				continue
			}
			if !changed {
				continue
			}
			log.Info().Str("path", w.store.Path()).Msg("settings reloaded after external edit")
			if w.onChange != nil {
				w.onChange(settings)
			}
		}
	}
}
