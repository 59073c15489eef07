package browser

import (
	"fmt"
	"runtime/debug"
	"sort"
	"strconv"
	"sync"

	"github.com/entrhq/pagewatch/pkg/env"
	"github.com/entrhq/pagewatch/pkg/logging"
)

// installObserver attaches a MutationObserver to the node at an XPath root
// and reports batches through the exposed binding. Returns false when the
// root is absent.
const installObserver = `([id, root]) => {
  const node = document.evaluate(root, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
  if (!node) return false;
  const all = window.__pagewatchObservers = window.__pagewatchObservers || {};
  if (all[id]) all[id].disconnect();
  const mo = new MutationObserver(() => window.` + mutationBinding + `(id));
  mo.observe(node, { childList: true, subtree: true, attributes: true, characterData: true });
  all[id] = mo;
  return true;
}`

const uninstallObserver = `(id) => {
  const all = window.__pagewatchObservers;
  if (all && all[id]) {
    all[id].disconnect();
    delete all[id];
  }
}`

// observation is one Observe registration.
type observation struct {
	seq  int
	id   string
	root string
	fn   func()
}

// observers is the Go side of the injected MutationObservers, keyed by the id
// passed to the page.
type observers struct {
	mu     sync.Mutex
	next   int
	byID   map[string]*observation
	logger *logging.Logger
}

func newObservers(logger *logging.Logger) *observers {
	if logger == nil {
		logger = logging.Nop()
	}
	return &observers{byID: make(map[string]*observation), logger: logger}
}

func (o *observers) add(root string, fn func()) *observation {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.byID == nil {
		o.byID = make(map[string]*observation)
	}
	o.next++
	obs := &observation{seq: o.next, id: "obs-" + strconv.Itoa(o.next), root: root, fn: fn}
	o.byID[obs.id] = obs
	return obs
}

func (o *observers) remove(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.byID[id]; !ok {
		return false
	}
	delete(o.byID, id)
	return true
}

// all returns the registrations in creation order.
func (o *observers) all() []*observation {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*observation, 0, len(o.byID))
	for _, obs := range o.byID {
		out = append(out, obs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// dispatch runs the callback for id. Unknown ids are late reports from
// observers already stopped.
func (o *observers) dispatch(id string) {
	o.mu.Lock()
	obs, ok := o.byID[id]
	o.mu.Unlock()
	if !ok {
		return
	}
	o.call(obs)
}

func (o *observers) notifyAll() {
	for _, obs := range o.all() {
		o.call(obs)
	}
}

func (o *observers) call(obs *observation) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Errorf("mutation callback for %s panicked: %v\n%s", obs.root, r, debug.Stack())
		}
	}()
	obs.fn()
}

// onBinding is the exposed page function.
func (o *observers) onBinding(args ...interface{}) interface{} {
	if len(args) == 0 {
		return nil
	}
	if id, ok := args[0].(string); ok {
		o.dispatch(id)
	}
	return nil
}

// pageWatcher stops one page observation.
type pageWatcher struct {
	session *Session
	id      string
	once    sync.Once
	err     error
}

var _ env.Watcher = (*pageWatcher)(nil)

func (w *pageWatcher) Stop() error {
	w.once.Do(func() {
		w.session.obs.remove(w.id)
		if _, err := w.session.Page.Evaluate(uninstallObserver, w.id); err != nil && !w.session.Page.IsClosed() {
			w.err = fmt.Errorf("failed to disconnect observer %s: %w", w.id, err)
		}
	})
	return w.err
}
