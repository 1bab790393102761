package config

import (
	"context"
	"log"

	"github.com/fsnotify/fsnotify"
)

// Watch watches the project and user settings files named by settingsPaths
// for writes, invoking onChange with a freshly reloaded Settings each time
// one changes. It blocks until ctx is cancelled; callers run it in its own
// goroutine. Enabled by the CLI's --watch-config flag.
func Watch(ctx context.Context, cwd string, onChange func(*Settings)) error {
	paths, err := settingsPaths(cwd)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// fsnotify can only watch paths that exist; re-adding on every change
	// handles the common "editor replaces the file via rename" pattern,
	// and missing files are simply skipped (they may be created later —
	// this watcher only reloads, it doesn't discover new candidate paths).
	for _, p := range paths {
		_ = watcher.Add(p)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			settings, err := Load(cwd, nil)
			if err != nil {
				log.Printf("config: reload after %s failed: %v", event.Name, err)
				continue
			}
			onChange(settings)
			// A rename-based save (common with editors/atomic writers)
			// drops the watch on the old inode; re-add so future saves
			// are still observed.
			_ = watcher.Add(event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("config: watch error: %v", err)
		}
	}
}
