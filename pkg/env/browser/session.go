package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/pagewatch/pkg/env"
)

var _ env.Environment = (*Session)(nil)

// attach exposes the mutation binding and subscribes to page lifecycle
// events. Same-document navigations emit framenavigated without a DOM change,
// so every observer is notified for them.
func (s *Session) attach() error {
	if err := s.Page.ExposeFunction(mutationBinding, s.obs.onBinding); err != nil {
		return fmt.Errorf("failed to expose mutation binding: %w", err)
	}

	s.Page.OnFrameNavigated(func(f playwright.Frame) {
		if f.ParentFrame() == nil {
			s.obs.notifyAll()
		}
	})
	// Event handlers run on the driver's dispatch goroutine; page calls from
	// there would deadlock.
	s.Page.OnLoad(func(playwright.Page) {
		go s.reinstall()
	})
	return nil
}

// reinstall re-creates every observer after a full page load discarded them.
func (s *Session) reinstall() {
	for _, obs := range s.obs.all() {
		ok, err := s.install(obs)
		switch {
		case err != nil:
			s.obs.logger.Warnf("failed to reinstall observer on %s: %v", obs.root, err)
		case !ok:
			s.obs.logger.Warnf("observer root %s missing after page load", obs.root)
		}
	}
	s.obs.notifyAll()
}

func (s *Session) install(obs *observation) (bool, error) {
	res, err := s.Page.Evaluate(installObserver, []interface{}{obs.id, obs.root})
	if err != nil {
		return false, err
	}
	ok, _ := res.(bool)
	return ok, nil
}

// Navigate loads url, retrying transient failures with exponential backoff.
func (s *Session) Navigate(ctx context.Context, url string, opts NavigateOptions) error {
	gotoOpts := playwright.PageGotoOptions{}
	if opts.WaitUntil != "" {
		waitUntil := playwright.WaitUntilState(opts.WaitUntil)
		gotoOpts.WaitUntil = &waitUntil
	}
	if opts.Timeout > 0 {
		gotoOpts.Timeout = &opts.Timeout
	}
	retries := opts.Retries
	if retries == 0 {
		retries = DefaultRetries
	}

	attempt := 0
	op := func() error {
		attempt++
		if _, err := s.Page.Goto(url, gotoOpts); err != nil {
			s.obs.logger.Warnf("navigation to %s failed (attempt %d): %v", url, attempt, err)
			return err
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), retries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

// Location returns the page URL.
func (s *Session) Location() string {
	return s.Page.URL()
}

// Ready waits for DOMContentLoaded.
func (s *Session) Ready(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- s.Page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
			State: playwright.LoadStateDomcontentloaded,
		})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Find returns the first element matching an XPath selector.
func (s *Session) Find(ctx context.Context, selector string) (env.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, err := s.Page.QuerySelector(xpath(selector))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", selector, err)
	}
	if h == nil {
		return nil, fmt.Errorf("%w: %s", env.ErrNotFound, selector)
	}
	return &element{session: s, handle: h, selector: selector}, nil
}

// FindAll returns every element matching an XPath selector.
func (s *Session) FindAll(ctx context.Context, selector string) ([]env.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	handles, err := s.Page.QuerySelectorAll(xpath(selector))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", selector, err)
	}
	out := make([]env.Element, 0, len(handles))
	for _, h := range handles {
		out = append(out, &element{session: s, handle: h, selector: selector})
	}
	return out, nil
}

// Observe installs a MutationObserver on the XPath root.
func (s *Session) Observe(root string, onMutation func()) (env.Watcher, error) {
	obs := s.obs.add(root, onMutation)
	ok, err := s.install(obs)
	if err != nil {
		s.obs.remove(obs.id)
		return nil, fmt.Errorf("failed to install observer on %s: %w", root, err)
	}
	if !ok {
		s.obs.remove(obs.id)
		return nil, fmt.Errorf("%w: %s", env.ErrNoRoot, root)
	}
	return &pageWatcher{session: s, id: obs.id}, nil
}

// close releases the page, context and browser, ignoring errors so every
// resource gets its chance.
func (s *Session) close() {
	_ = s.Page.Close()
	_ = s.Context.Close()
	_ = s.Browser.Close()
}

// xpath marks a selector for Playwright's XPath engine.
func xpath(selector string) string {
	if strings.HasPrefix(selector, "xpath=") {
		return selector
	}
	return "xpath=" + selector
}
