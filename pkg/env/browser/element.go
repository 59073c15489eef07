package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/pagewatch/pkg/env"
)

// element wraps a Playwright element handle. Mutations go through Evaluate so
// no events fire implicitly; callers dispatch what they need.
type element struct {
	session  *Session
	handle   playwright.ElementHandle
	selector string
}

var _ env.Element = (*element)(nil)

const (
	jsConnected  = `e => e.isConnected`
	jsSetValue   = `(e, v) => { e.value = v; return e.value === v; }`
	jsSetChecked = `(e, c) => { e.checked = c; }`
	jsAttr       = `(e, n) => e.getAttribute(n)`
	jsHide       = `e => { if (e.style.display !== 'none') e.style.display = 'none'; }`
	jsInsert     = `(e, r) => {
  if (!r.parentNode) return 'detached';
  if (e === r || e.contains(r)) return 'cycle';
  if (r.previousSibling !== e) r.parentNode.insertBefore(e, r);
  return 'ok';
}`
)

// ready fails fast on a cancelled context or a node that left the document.
func (e *element) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := e.handle.Evaluate(jsConnected)
	if err != nil {
		return fmt.Errorf("%s: %w", e.selector, err)
	}
	if connected, _ := res.(bool); !connected {
		return fmt.Errorf("%w: %s", env.ErrDetached, e.selector)
	}
	return nil
}

func (e *element) Value(ctx context.Context) (string, error) {
	if err := e.ready(ctx); err != nil {
		return "", err
	}
	return e.handle.InputValue()
}

func (e *element) SetValue(ctx context.Context, value string) error {
	if err := e.ready(ctx); err != nil {
		return err
	}
	res, err := e.handle.Evaluate(jsSetValue, value)
	if err != nil {
		return fmt.Errorf("set value on %s: %w", e.selector, err)
	}
	if ok, _ := res.(bool); !ok {
		return fmt.Errorf("%s has no option with value %q", e.selector, value)
	}
	return nil
}

func (e *element) Checked(ctx context.Context) (bool, error) {
	if err := e.ready(ctx); err != nil {
		return false, err
	}
	return e.handle.IsChecked()
}

func (e *element) SetChecked(ctx context.Context, checked bool) error {
	if err := e.ready(ctx); err != nil {
		return err
	}
	_, err := e.handle.Evaluate(jsSetChecked, checked)
	return err
}

func (e *element) Attr(ctx context.Context, name string) (string, bool, error) {
	if err := e.ready(ctx); err != nil {
		return "", false, err
	}
	res, err := e.handle.Evaluate(jsAttr, name)
	if err != nil {
		return "", false, err
	}
	if res == nil {
		return "", false, nil
	}
	s, ok := res.(string)
	return s, ok, nil
}

func (e *element) Text(ctx context.Context) (string, error) {
	if err := e.ready(ctx); err != nil {
		return "", err
	}
	text, err := e.handle.TextContent()
	if err != nil {
		return "", err
	}
	return strings.Join(strings.Fields(text), " "), nil
}

func (e *element) Hidden(ctx context.Context) (bool, error) {
	if err := e.ready(ctx); err != nil {
		return false, err
	}
	return e.handle.IsHidden()
}

func (e *element) Hide(ctx context.Context) error {
	if err := e.ready(ctx); err != nil {
		return err
	}
	_, err := e.handle.Evaluate(jsHide)
	return err
}

func (e *element) InsertBefore(ctx context.Context, ref env.Element) error {
	other, ok := ref.(*element)
	if !ok {
		return errors.New("reference element belongs to a different environment")
	}
	if err := e.ready(ctx); err != nil {
		return err
	}
	res, err := e.handle.Evaluate(jsInsert, other.handle)
	if err != nil {
		return err
	}
	switch res {
	case "detached":
		return fmt.Errorf("%w: %s", env.ErrDetached, other.selector)
	case "cycle":
		return fmt.Errorf("cannot move %s inside itself", e.selector)
	}
	return nil
}

func (e *element) Dispatch(ctx context.Context, event string) error {
	if err := e.ready(ctx); err != nil {
		return err
	}
	return e.handle.DispatchEvent(event, map[string]interface{}{"bubbles": true})
}
