// Package browser provides an env.Environment backed by a live Chromium page
// driven through Playwright.
//
// A SessionManager owns the Playwright driver. Each Session is one browser,
// context and page. Selectors are XPath and are handed to Playwright's xpath
// engine. Observe injects a MutationObserver on the root node that reports
// back through a function exposed on the page; same-document navigations
// (history.pushState) and full page loads notify every observer as well,
// and a full load re-installs the injected observers.
//
// Example:
//
//	mgr := browser.NewSessionManager(logger)
//	if err := mgr.Initialize(); err != nil {
//		return err
//	}
//	defer mgr.Shutdown()
//
//	s, err := mgr.StartSession("main", browser.SessionOptions{Headless: true})
//	if err != nil {
//		return err
//	}
//	if err := s.Navigate(ctx, url, browser.NavigateOptions{WaitUntil: "domcontentloaded"}); err != nil {
//		return err
//	}
//	o := orchestrator.New(s, modules)
package browser
