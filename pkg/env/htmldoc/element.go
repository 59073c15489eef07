package htmldoc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/entrhq/pagewatch/pkg/env"
)

// element wraps an *html.Node of a Document.
type element struct {
	doc      *Document
	node     *html.Node
	selector string
}

var _ env.Element = (*element)(nil)

func (e *element) Value(context.Context) (string, error) {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()

	if err := e.attached(); err != nil {
		return "", err
	}

	switch e.node.Data {
	case "textarea":
		return htmlquery.InnerText(e.node), nil
	case "select":
		opt := selectedOption(e.node)
		if opt == nil {
			return "", nil
		}
		return optionValue(opt), nil
	default:
		return htmlquery.SelectAttr(e.node, "value"), nil
	}
}

func (e *element) SetValue(_ context.Context, value string) error {
	err := e.edit(func(n *html.Node) error {
		switch n.Data {
		case "textarea":
			for c := n.FirstChild; c != nil; c = n.FirstChild {
				n.RemoveChild(c)
			}
			n.AppendChild(&html.Node{Type: html.TextNode, Data: value})
		case "select":
			var match *html.Node
			for _, opt := range options(n) {
				if match == nil && optionValue(opt) == value {
					match = opt
				}
			}
			if match == nil {
				return fmt.Errorf("select %s has no option %q", e.selector, value)
			}
			for _, opt := range options(n) {
				if opt == match {
					setAttr(opt, "selected", "")
				} else {
					removeAttr(opt, "selected")
				}
			}
		default:
			setAttr(n, "value", value)
		}
		return nil
	})
	return err
}

func (e *element) Checked(context.Context) (bool, error) {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()

	if err := e.attached(); err != nil {
		return false, err
	}
	return hasAttr(e.node, "checked"), nil
}

func (e *element) SetChecked(_ context.Context, checked bool) error {
	return e.edit(func(n *html.Node) error {
		if checked {
			setAttr(n, "checked", "")
		} else {
			removeAttr(n, "checked")
		}
		return nil
	})
}

func (e *element) Attr(_ context.Context, name string) (string, bool, error) {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()

	if err := e.attached(); err != nil {
		return "", false, err
	}
	for _, a := range e.node.Attr {
		if a.Key == name {
			return a.Val, true, nil
		}
	}
	return "", false, nil
}

func (e *element) Text(context.Context) (string, error) {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()

	if err := e.attached(); err != nil {
		return "", err
	}
	var sb strings.Builder
	visibleText(e.node, &sb)
	return strings.Join(strings.Fields(sb.String()), " "), nil
}

func (e *element) Hidden(context.Context) (bool, error) {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()

	if err := e.attached(); err != nil {
		return false, err
	}
	return isHidden(e.node), nil
}

func (e *element) Hide(context.Context) error {
	return e.edit(func(n *html.Node) error {
		if isHidden(n) {
			return nil
		}
		style := strings.TrimSpace(htmlquery.SelectAttr(n, "style"))
		if style != "" && !strings.HasSuffix(style, ";") {
			style += ";"
		}
		if style != "" {
			style += " "
		}
		setAttr(n, "style", style+"display: none;")
		return nil
	})
}

func (e *element) InsertBefore(_ context.Context, ref env.Element) error {
	r, ok := ref.(*element)
	if !ok || r.doc != e.doc {
		return errors.New("reference element belongs to another document")
	}
	return e.edit(func(n *html.Node) error {
		if !isAttached(r.node, e.doc.root) {
			return fmt.Errorf("%s: %w", r.selector, env.ErrDetached)
		}
		if n == r.node || n.NextSibling == r.node {
			return nil
		}
		for p := r.node.Parent; p != nil; p = p.Parent {
			if p == n {
				return fmt.Errorf("cannot move %s inside itself", e.selector)
			}
		}
		n.Parent.RemoveChild(n)
		r.node.Parent.InsertBefore(n, r.node)
		return nil
	})
}

func (e *element) Dispatch(_ context.Context, event string) error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	if err := e.attached(); err != nil {
		return err
	}
	e.doc.events = append(e.doc.events, Event{Type: event, Target: e.selector})
	return nil
}

// edit applies fn under the write lock and notifies observers on success.
func (e *element) edit(fn func(n *html.Node) error) error {
	e.doc.mu.Lock()
	if err := e.attached(); err != nil {
		e.doc.mu.Unlock()
		return err
	}
	err := fn(e.node)
	e.doc.mu.Unlock()

	if err != nil {
		return err
	}
	e.doc.notify()
	return nil
}

// attached must be called with the document lock held.
func (e *element) attached() error {
	if !isAttached(e.node, e.doc.root) {
		return fmt.Errorf("%s: %w", e.selector, env.ErrDetached)
	}
	return nil
}

func isAttached(n, root *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == root {
			return true
		}
	}
	return false
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != key {
			out = append(out, a)
		}
	}
	n.Attr = out
}

func isHidden(n *html.Node) bool {
	style := strings.ReplaceAll(strings.ToLower(htmlquery.SelectAttr(n, "style")), " ", "")
	return strings.Contains(style, "display:none")
}

func options(sel *html.Node) []*html.Node {
	nodes, _ := htmlquery.QueryAll(sel, ".//option")
	return nodes
}

func selectedOption(sel *html.Node) *html.Node {
	opts := options(sel)
	for _, opt := range opts {
		if hasAttr(opt, "selected") {
			return opt
		}
	}
	if len(opts) > 0 {
		return opts[0]
	}
	return nil
}

func optionValue(opt *html.Node) string {
	if hasAttr(opt, "value") {
		return htmlquery.SelectAttr(opt, "value")
	}
	return strings.TrimSpace(htmlquery.InnerText(opt))
}

// visibleText collects text content, skipping nodes a browser does not render
// as text.
func visibleText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "script", "style", "noscript", "template":
			return
		}
	}
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		sb.WriteByte(' ')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		visibleText(c, sb)
	}
}
