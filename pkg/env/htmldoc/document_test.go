package htmldoc

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/entrhq/pagewatch/pkg/env"
)

const checkoutPage = `<!DOCTYPE html>
<html><head><title>Checkout</title><style>.x{}</style></head>
<body>
  <form id="checkout">
    <input id="email" name="email" value="">
    <input id="terms" type="checkbox">
    <select id="country">
      <option value="US">United States</option>
      <option value="CA">Canada</option>
    </select>
    <textarea id="notes">old</textarea>
  </form>
  <div id="summary"><p>Total <b>$10</b></p><script>var t = 1;</script></div>
  <div id="promo" style="color: red">Promo</div>
  <ul id="list"><li id="a">A</li><li id="b">B</li><li id="c">C</li></ul>
</body></html>`

func newCheckout(t *testing.T, opts ...Option) *Document {
	t.Helper()
	d, err := ParseString(checkoutPage, "https://shop.example/checkout", opts...)
	require.NoError(t, err)
	return d
}

func TestFind(t *testing.T) {
	ctx := context.Background()
	d := newCheckout(t)

	el, err := d.Find(ctx, "//input[@id='email']")
	require.NoError(t, err)
	require.NotNil(t, el)

	_, err = d.Find(ctx, "//input[@id='missing']")
	assert.ErrorIs(t, err, env.ErrNotFound)
	assert.True(t, env.IsNotFound(err))

	_, err = d.Find(ctx, "//input[")
	assert.Error(t, err)
	assert.False(t, env.IsNotFound(err), "invalid selector is a real error")
}

func TestFindAll(t *testing.T) {
	ctx := context.Background()
	d := newCheckout(t)

	items, err := d.FindAll(ctx, "//ul[@id='list']/li")
	require.NoError(t, err)
	assert.Len(t, items, 3)

	none, err := d.FindAll(ctx, "//table")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestValues(t *testing.T) {
	ctx := context.Background()
	d := newCheckout(t)

	email, err := d.Find(ctx, "//*[@id='email']")
	require.NoError(t, err)
	require.NoError(t, email.SetValue(ctx, "a@b.c"))
	v, err := email.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a@b.c", v)

	country, err := d.Find(ctx, "//*[@id='country']")
	require.NoError(t, err)
	v, err = country.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, "US", v, "first option is selected by default")

	require.NoError(t, country.SetValue(ctx, "CA"))
	v, err = country.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, "CA", v)
	assert.Error(t, country.SetValue(ctx, "MX"))

	notes, err := d.Find(ctx, "//*[@id='notes']")
	require.NoError(t, err)
	require.NoError(t, notes.SetValue(ctx, "leave at door"))
	v, err = notes.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, "leave at door", v)
}

func TestChecked(t *testing.T) {
	ctx := context.Background()
	d := newCheckout(t)

	terms, err := d.Find(ctx, "//*[@id='terms']")
	require.NoError(t, err)

	on, err := terms.Checked(ctx)
	require.NoError(t, err)
	assert.False(t, on)

	require.NoError(t, terms.SetChecked(ctx, true))
	require.NoError(t, terms.SetChecked(ctx, true))
	on, err = terms.Checked(ctx)
	require.NoError(t, err)
	assert.True(t, on)

	val, ok, err := terms.Attr(ctx, "type")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "checkbox", val)
}

func TestTextSkipsScripts(t *testing.T) {
	ctx := context.Background()
	d := newCheckout(t)

	summary, err := d.Find(ctx, "//*[@id='summary']")
	require.NoError(t, err)
	text, err := summary.Text(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Total $10", text)
}

func TestHide(t *testing.T) {
	ctx := context.Background()
	d := newCheckout(t)

	promo, err := d.Find(ctx, "//*[@id='promo']")
	require.NoError(t, err)

	require.NoError(t, promo.Hide(ctx))
	require.NoError(t, promo.Hide(ctx))

	hidden, err := promo.Hidden(ctx)
	require.NoError(t, err)
	assert.True(t, hidden)

	style, _, err := promo.Attr(ctx, "style")
	require.NoError(t, err)
	assert.Equal(t, "color: red; display: none;", style)
}

func TestInsertBefore(t *testing.T) {
	ctx := context.Background()
	d := newCheckout(t)

	c, err := d.Find(ctx, "//li[@id='c']")
	require.NoError(t, err)
	a, err := d.Find(ctx, "//li[@id='a']")
	require.NoError(t, err)

	require.NoError(t, c.InsertBefore(ctx, a))
	require.NoError(t, c.InsertBefore(ctx, a), "already in place")

	items, err := d.FindAll(ctx, "//ul[@id='list']/li")
	require.NoError(t, err)
	var order []string
	for _, it := range items {
		id, _, err := it.Attr(ctx, "id")
		require.NoError(t, err)
		order = append(order, id)
	}
	assert.Equal(t, []string{"c", "a", "b"}, order)

	list, err := d.Find(ctx, "//ul[@id='list']")
	require.NoError(t, err)
	assert.Error(t, list.InsertBefore(ctx, a), "cannot move a node inside itself")
}

func TestDispatchRecordsEvent(t *testing.T) {
	ctx := context.Background()
	d := newCheckout(t)

	terms, err := d.Find(ctx, "//*[@id='terms']")
	require.NoError(t, err)
	require.NoError(t, terms.Dispatch(ctx, "change"))

	assert.Equal(t, []Event{{Type: "change", Target: "//*[@id='terms']"}}, d.Events())
}

func TestDetachedElement(t *testing.T) {
	ctx := context.Background()
	d := newCheckout(t)

	promo, err := d.Find(ctx, "//*[@id='promo']")
	require.NoError(t, err)

	d.Mutate(func(root *html.Node) {
		n := htmlquery.FindOne(root, "//*[@id='promo']")
		n.Parent.RemoveChild(n)
	})

	_, err = promo.Text(ctx)
	assert.ErrorIs(t, err, env.ErrDetached)
	assert.ErrorIs(t, promo.Hide(ctx), env.ErrDetached)
}

func TestObserve(t *testing.T) {
	ctx := context.Background()
	d := newCheckout(t)
	var calls atomic.Int32

	w, err := d.Observe("/html", func() { calls.Add(1) })
	require.NoError(t, err)
	assert.Equal(t, 1, d.Observers())

	d.Navigate("https://shop.example/payment", nil)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "https://shop.example/payment", d.Location())

	email, err := d.Find(ctx, "//*[@id='email']")
	require.NoError(t, err)
	require.NoError(t, email.SetValue(ctx, "x"))
	assert.Equal(t, int32(2), calls.Load(), "element edits are mutations")

	d.SetLocation("https://shop.example/other")
	assert.Equal(t, int32(2), calls.Load(), "location change alone is not a mutation")

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
	assert.Equal(t, 0, d.Observers())

	d.Mutate(func(*html.Node) {})
	assert.Equal(t, int32(2), calls.Load())
}

func TestObserve_MissingRoot(t *testing.T) {
	d := newCheckout(t)

	_, err := d.Observe("//*[@id='app']", func() {})
	assert.ErrorIs(t, err, env.ErrNoRoot)
	assert.Equal(t, 0, d.Observers())
}

func TestReady(t *testing.T) {
	d := newCheckout(t)
	assert.NoError(t, d.Ready(context.Background()))

	pending := newCheckout(t, NotReady())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pending.Ready(ctx), context.DeadlineExceeded)

	pending.MarkReady()
	pending.MarkReady()
	assert.NoError(t, pending.Ready(context.Background()))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	plain := filepath.Join(dir, "plain.html")
	require.NoError(t, os.WriteFile(plain, []byte(checkoutPage), 0600))
	d, err := LoadFile(plain)
	require.NoError(t, err)
	assert.Equal(t, "file://"+filepath.ToSlash(plain), d.Location())
	assert.Equal(t, plain, d.Path())

	canon := filepath.Join(dir, "canon.html")
	require.NoError(t, os.WriteFile(canon, []byte(`<html><head><link rel="canonical" href="https://shop.example/cart"></head><body></body></html>`), 0600))
	d, err = LoadFile(canon)
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example/cart", d.Location())

	_, err = LoadFile(filepath.Join(dir, "missing.html"))
	assert.Error(t, err)
}

func TestWatchFile(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping filesystem watcher test in short mode")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "page.html")
	require.NoError(t, os.WriteFile(path, []byte(`<html><head><link rel="canonical" href="https://shop.example/cart"></head><body></body></html>`), 0600))

	d, err := LoadFile(path)
	require.NoError(t, err)

	var calls atomic.Int32
	obs, err := d.Observe("/html", func() { calls.Add(1) })
	require.NoError(t, err)
	defer obs.Stop()

	w, err := d.WatchFile(context.Background())
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte(`<html><head><link rel="canonical" href="https://shop.example/checkout"></head><body></body></html>`), 0600))

	require.Eventually(t, func() bool {
		return d.Location() == "https://shop.example/checkout" && calls.Load() > 0
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}

func TestWatchFile_RequiresFile(t *testing.T) {
	d := newCheckout(t)
	_, err := d.WatchFile(context.Background())
	assert.Error(t, err)
}
