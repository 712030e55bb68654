package agent

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watch reloads the registry when its file changes, until ctx is cancelled.
// It watches the parent directory since the file may not exist yet. Returns
// immediately for registries without a backing file.
func (r *Registry) Watch(ctx context.Context) error {
	if r.path == "" {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(r.path)); err != nil {
		fsw.Close()
		return err
	}

	go func() {
		defer fsw.Close()
		target := filepath.Clean(r.path)
		var debounce *time.Timer

		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return

			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 {
					continue
				}
				// Editors fire bursts of events per save; coalesce them.
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(100*time.Millisecond, func() {
					if err := r.Reload(); err != nil {
						log.Warn().Err(err).Str("path", r.path).Msg("Agent registry reload failed, keeping previous set")
						return
					}
					log.Info().Str("path", r.path).Int("agents", len(r.List())).Msg("Agent registry reloaded")
				})

			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				log.Error().Err(err).Msg("Agent registry watcher error")
			}
		}
	}()

	return nil
}
