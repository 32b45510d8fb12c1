package system

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchDebounce collapses editor save bursts into one change.
const WatchDebounce = 250 * time.Millisecond

// WatchFile calls onChange after path is written, created or replaced,
// until ctx is done. The parent directory is watched so atomic saves
// (write to temp + rename) are seen.
func WatchFile(ctx context.Context, path string, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		w.Close()
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					if !debounce.Stop() {
						select {
						case <-debounce.C:
						default:
						}
					}
					debounce.Reset(WatchDebounce)
				}
			case <-debounce.C:
				onChange()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Printf("[!] watch error: %v", err)
			}
		}
	}()
	return nil
}
