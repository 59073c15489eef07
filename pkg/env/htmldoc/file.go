package htmldoc

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/antchfx/htmlquery"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/net/html"

	"github.com/entrhq/pagewatch/pkg/env"
	"github.com/entrhq/pagewatch/pkg/logging"
)

// LoadFile parses the HTML file at path. The location is taken from
// <link rel="canonical"> when present, otherwise it is the file URL.
func LoadFile(path string, opts ...Option) (*Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	root, location, err := parseFile(abs)
	if err != nil {
		return nil, err
	}

	d := &Document{
		root:      root,
		location:  location,
		observers: make(map[int]*observer),
		ready:     make(chan struct{}),
		path:      abs,
	}
	d.logger = logging.Nop()
	for _, opt := range opts {
		opt(d)
	}
	d.MarkReady()
	return d, nil
}

// Path returns the backing file, or "" for documents not loaded from disk.
func (d *Document) Path() string {
	return d.path
}

func parseFile(path string) (*html.Node, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return root, canonicalLocation(root, path), nil
}

func canonicalLocation(root *html.Node, path string) string {
	if link := htmlquery.FindOne(root, "//link[@rel='canonical'][@href]"); link != nil {
		if href := htmlquery.SelectAttr(link, "href"); href != "" {
			return href
		}
	}
	return "file://" + filepath.ToSlash(path)
}

// WatchFile re-parses the backing file whenever it is written and replaces the
// tree, notifying observers. The directory is watched rather than the file so
// editors that save by rename are seen. Stop the returned watcher to end it.
func (d *Document) WatchFile(ctx context.Context) (env.Watcher, error) {
	if d.path == "" {
		return nil, fmt.Errorf("document was not loaded from a file")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(d.path)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", d.path, err)
	}

	fw := &fileWatcher{watcher: w, stopCh: make(chan struct{}), done: make(chan struct{})}
	go fw.loop(ctx, d)

	d.logger.Infof("watching %s for changes", d.path)
	return fw, nil
}

type fileWatcher struct {
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (fw *fileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		close(fw.stopCh)
		err = fw.watcher.Close()
		<-fw.done
	})
	return err
}

func (fw *fileWatcher) loop(ctx context.Context, d *Document) {
	defer close(fw.done)

	for {
		select {
		case <-fw.stopCh:
			return
		case <-ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != d.path {
				continue
			}
			d.reload()

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Warnf("file watcher error: %v", err)
		}
	}
}

func (d *Document) reload() {
	root, location, err := parseFile(d.path)
	if err != nil {
		// Partially written files are retried on the next write event.
		d.logger.Debugf("reload skipped: %v", err)
		return
	}
	d.logger.Debugf("reloaded %s (location %s)", d.path, location)
	d.Replace(root, location)
}
