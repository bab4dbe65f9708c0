package provider

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"alert_worker/core/port/out"
	"alert_worker/pkg/logger"

	"github.com/fsnotify/fsnotify"
)

const (
	processedDir = "processed"
	failedDir    = "failed"
)

// FileAdapter implements out.MailProvider over a drop directory of .eml
// files, for test feeds and manual replay. Subdirectories become folder
// names; handled files move to processed/ or failed/ siblings. An
// fsnotify watcher queues new files between polls so a full rescan stays
// cheap.
type FileAdapter struct {
	root    string
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]struct{}

	log *logger.Logger
}

func NewFileAdapter(root string) (*FileAdapter, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create watch dir: %w", err)
	}

	a := &FileAdapter{
		root:    root,
		pending: make(map[string]struct{}),
		log:     logger.Default().WithField("component", "file-provider"),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		a.log.WithError(err).Warn("fsnotify unavailable, relying on rescans only")
		return a, nil
	}
	a.watcher = watcher

	if err := watcher.Add(root); err != nil {
		a.log.WithError(err).Warn("Failed to watch drop directory")
	}
	entries, _ := os.ReadDir(root)
	for _, e := range entries {
		if e.IsDir() && e.Name() != processedDir && e.Name() != failedDir {
			_ = watcher.Add(filepath.Join(root, e.Name()))
		}
	}

	go a.watch()
	return a, nil
}

func (a *FileAdapter) watch() {
	for {
		select {
		case ev, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
				base := filepath.Base(ev.Name)
				if base != processedDir && base != failedDir {
					_ = a.watcher.Add(ev.Name)
				}
				continue
			}
			a.mu.Lock()
			a.pending[ev.Name] = struct{}{}
			a.mu.Unlock()
		case err, ok := <-a.watcher.Errors:
			if !ok {
				return
			}
			a.log.WithError(err).Warn("File watcher error")
		}
	}
}

func (a *FileAdapter) Name() string { return "file" }

// Folders lists the drop root plus its immediate subdirectories.
func (a *FileAdapter) Folders() []string {
	folders := []string{"file"}
	entries, err := os.ReadDir(a.root)
	if err != nil {
		return folders
	}
	for _, e := range entries {
		if e.IsDir() && e.Name() != processedDir && e.Name() != failedDir {
			folders = append(folders, e.Name())
		}
	}
	return folders
}

func (a *FileAdapter) Close() error {
	if a.watcher != nil {
		return a.watcher.Close()
	}
	return nil
}

// FetchNew scans the folder for unhandled files. The cursor is unused:
// handled files leave the directory, so anything present is new. Files
// the pipeline cannot use (.msg and unreadable ones) move to failed/.
func (a *FileAdapter) FetchNew(ctx context.Context, folder string, cursor int64, backfill time.Duration) ([]*out.FetchedMessage, error) {
	dir := a.root
	if folder != "file" {
		dir = filepath.Join(a.root, folder)
	}

	a.mu.Lock()
	a.pending = make(map[string]struct{})
	a.mu.Unlock()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read drop dir: %w", err)
	}

	var fetched []*out.FetchedMessage
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		path := filepath.Join(dir, name)
		ext := strings.ToLower(filepath.Ext(name))

		switch ext {
		case ".eml":
		case ".msg":
			// Proprietary Outlook container; no decoder wired in.
			a.log.WithField("file", name).Warn("Cannot decode .msg file, moving to failed")
			a.moveTo(path, dir, failedDir)
			continue
		default:
			continue
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			a.log.WithError(err).WithField("file", name).Warn("Failed to read drop file")
			a.moveTo(path, dir, failedDir)
			continue
		}

		fetched = append(fetched, &out.FetchedMessage{
			Folder: folder,
			UID:    fileUID(name),
			MIME:   raw,
		})
		a.moveTo(path, dir, processedDir)
	}

	sort.Slice(fetched, func(i, j int) bool { return fetched[i].UID < fetched[j].UID })
	return fetched, nil
}

func (a *FileAdapter) moveTo(path, dir, bucket string) {
	dst := filepath.Join(dir, bucket)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		a.log.WithError(err).Warn("Failed to create bucket dir")
		return
	}
	if err := os.Rename(path, filepath.Join(dst, filepath.Base(path))); err != nil {
		a.log.WithError(err).WithField("file", path).Warn("Failed to move drop file")
	}
}

// fileUID derives a stable 31-bit UID from the file name, since drop
// files carry no mailbox UID.
func fileUID(name string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum32() & 0x7fffffff)
}
