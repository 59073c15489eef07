// Package htmldoc is an in-memory env.Environment backed by golang.org/x/net/html.
//
// It is used when pagewatch runs against a saved page on disk and as the
// deterministic page in tests. Selectors are evaluated with htmlquery. Every
// edit made through Mutate or an Element notifies observers, the way a
// subtree MutationObserver would.
package htmldoc

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/entrhq/pagewatch/pkg/env"
	"github.com/entrhq/pagewatch/pkg/logging"
)

// Document is a mutable HTML document with a location and observers.
type Document struct {
	mu       sync.RWMutex
	root     *html.Node
	location string
	events   []Event

	obsMu     sync.Mutex
	observers map[int]*observer
	nextObs   int

	ready     chan struct{}
	readyOnce sync.Once

	logger *logging.Logger
	path   string
}

// Event records a Dispatch call. The document runs no scripts, so dispatched
// events are only recorded.
type Event struct {
	Type   string
	Target string
}

type observer struct {
	root string
	fn   func()
}

// Option configures a Document.
type Option func(*Document)

// WithLogger sets the document's logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Document) {
		if l != nil {
			d.logger = l
		}
	}
}

// NotReady leaves the document loading until MarkReady is called.
func NotReady() Option {
	return func(d *Document) {
		d.ready = make(chan struct{})
	}
}

// Parse reads an HTML document from r. The document is ready immediately
// unless NotReady is given.
func Parse(r io.Reader, location string, opts ...Option) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	d := &Document{
		root:      root,
		location:  location,
		observers: make(map[int]*observer),
		logger:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.ready == nil {
		d.ready = make(chan struct{})
		d.MarkReady()
	}
	return d, nil
}

// ParseString is Parse over a string.
func ParseString(s, location string, opts ...Option) (*Document, error) {
	return Parse(strings.NewReader(s), location, opts...)
}

// Location returns the current location.
func (d *Document) Location() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.location
}

// SetLocation changes the location without touching the tree, like
// history.pushState. Observers are not notified.
func (d *Document) SetLocation(location string) {
	d.mu.Lock()
	d.location = location
	d.mu.Unlock()
}

// Navigate changes the location and then applies fn to the tree, the way a
// single-page application swaps its view. Observers are notified once.
func (d *Document) Navigate(location string, fn func(root *html.Node)) {
	d.mu.Lock()
	d.location = location
	if fn != nil {
		fn(d.root)
	}
	d.mu.Unlock()
	d.notify()
}

// Mutate applies fn to the tree under the write lock and notifies observers.
func (d *Document) Mutate(fn func(root *html.Node)) {
	d.mu.Lock()
	fn(d.root)
	d.mu.Unlock()
	d.notify()
}

// Replace swaps the whole tree and notifies observers.
func (d *Document) Replace(root *html.Node, location string) {
	d.mu.Lock()
	d.root = root
	if location != "" {
		d.location = location
	}
	d.mu.Unlock()
	d.notify()
}

// MarkReady completes Ready. Calling it more than once is harmless.
func (d *Document) MarkReady() {
	d.readyOnce.Do(func() { close(d.ready) })
}

// Ready blocks until MarkReady has been called or ctx ends.
func (d *Document) Ready(ctx context.Context) error {
	select {
	case <-d.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Find returns the first element matching the XPath selector.
func (d *Document) Find(_ context.Context, selector string) (env.Element, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	node, err := htmlquery.Query(d.root, selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	if node == nil {
		return nil, fmt.Errorf("%s: %w", selector, env.ErrNotFound)
	}
	return &element{doc: d, node: node, selector: selector}, nil
}

// FindAll returns every element matching the XPath selector.
func (d *Document) FindAll(_ context.Context, selector string) ([]env.Element, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	nodes, err := htmlquery.QueryAll(d.root, selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}

	out := make([]env.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &element{doc: d, node: n, selector: selector})
	}
	return out, nil
}

// Observe registers onMutation for changes while root matches a node.
func (d *Document) Observe(root string, onMutation func()) (env.Watcher, error) {
	d.mu.RLock()
	node, err := htmlquery.Query(d.root, root)
	d.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("invalid root selector %q: %w", root, err)
	}
	if node == nil {
		return nil, fmt.Errorf("%s: %w", root, env.ErrNoRoot)
	}

	d.obsMu.Lock()
	id := d.nextObs
	d.nextObs++
	d.observers[id] = &observer{root: root, fn: onMutation}
	d.obsMu.Unlock()

	d.logger.Debugf("observing %s", root)
	return &stopper{stop: func() {
		d.obsMu.Lock()
		delete(d.observers, id)
		d.obsMu.Unlock()
	}}, nil
}

// Observers returns the number of active observers.
func (d *Document) Observers() int {
	d.obsMu.Lock()
	defer d.obsMu.Unlock()
	return len(d.observers)
}

// Events returns the events dispatched so far.
func (d *Document) Events() []Event {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Event(nil), d.events...)
}

// HTML renders the current tree.
func (d *Document) HTML() string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var sb strings.Builder
	if err := html.Render(&sb, d.root); err != nil {
		return ""
	}
	return sb.String()
}

// notify calls every observer whose root still exists. Callbacks run outside
// all locks so they may read the document.
func (d *Document) notify() {
	d.obsMu.Lock()
	obs := make([]*observer, 0, len(d.observers))
	for _, o := range d.observers {
		obs = append(obs, o)
	}
	d.obsMu.Unlock()

	for _, o := range obs {
		d.mu.RLock()
		node, err := htmlquery.Query(d.root, o.root)
		d.mu.RUnlock()
		if err != nil || node == nil {
			continue
		}
		o.fn()
	}
}

type stopper struct {
	once sync.Once
	stop func()
}

func (s *stopper) Stop() error {
	s.once.Do(s.stop)
	return nil
}
