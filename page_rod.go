package main

import (
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// An element counts as visible when it is attached, has a layout box and is not
// hidden by visibility or display. Plenty of sale buttons sit in the markup
// hidden until the sale opens; those must not match. A selector the browser
// rejects reads as not visible.
const visibleSelectorsJS = `(selectors) => selectors.map((sel) => {
	let nodes;
	try {
		nodes = document.querySelectorAll(sel);
	} catch (e) {
		return false;
	}
	for (const el of nodes) {
		if (!el.isConnected || el.getClientRects().length === 0) continue;
		const style = window.getComputedStyle(el);
		if (style.visibility === 'hidden' || style.display === 'none') continue;
		return true;
	}
	return false;
})`

const firstVisibleJS = `(sel) => {
	for (const el of document.querySelectorAll(sel)) {
		if (!el.isConnected || el.getClientRects().length === 0) continue;
		const style = window.getComputedStyle(el);
		if (style.visibility === 'hidden' || style.display === 'none') continue;
		return el;
	}
	return null;
}`

// rodPage adapts a go-rod page to Page and CookieJar.
//
// rod retries an evaluation until the page has a JS context again, which never
// happens while a navigation is stalled. Every call the grab loop makes is
// therefore capped by callTimeout (clickTimeout for clicks), so a page in
// transition reads as a miss and the loop's own deadlines stay in control.
type rodPage struct {
	page         *rod.Page
	loadTimeout  time.Duration
	callTimeout  time.Duration
	clickTimeout time.Duration
}

func newRodPage(page *rod.Page, config *Config) *rodPage {
	return &rodPage{
		page:         page,
		loadTimeout:  time.Duration(config.PageLoadTimeout) * time.Second,
		callTimeout:  400 * time.Millisecond,
		clickTimeout: time.Second,
	}
}

// eval runs js with the per-call cap.
func (p *rodPage) eval(js string, args ...interface{}) (*proto.RuntimeRemoteObject, error) {
	pg := p.page.Timeout(p.callTimeout)
	defer pg.CancelTimeout()

	return pg.Eval(js, args...)
}

func (p *rodPage) Navigate(url string) error {
	pg := p.page.Timeout(p.loadTimeout)
	defer pg.CancelTimeout()

	if err := pg.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if err := pg.WaitLoad(); err != nil {
		return fmt.Errorf("page failed to load: %w", err)
	}
	return nil
}

func (p *rodPage) Reload(bypassCache bool) error {
	pg := p.page.Timeout(p.callTimeout)
	defer pg.CancelTimeout()

	return proto.PageReload{IgnoreCache: bypassCache}.Call(pg)
}

func (p *rodPage) Location() (string, error) {
	res, err := p.eval(`() => window.location.href`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (p *rodPage) Evaluate(js string, timeout time.Duration) (string, error) {
	pg := p.page.Timeout(timeout)
	defer pg.CancelTimeout()

	res, err := pg.Eval(js)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (p *rodPage) VisibleSelectors(selectors []string) ([]bool, error) {
	res, err := p.eval(visibleSelectorsJS, selectors)
	if err != nil {
		return nil, err
	}

	values := res.Value.Arr()
	if len(values) != len(selectors) {
		return nil, fmt.Errorf("scan returned %d results for %d selectors", len(values), len(selectors))
	}

	visible := make([]bool, len(values))
	for i, v := range values {
		visible[i] = v.Bool()
	}
	return visible, nil
}

// Click acts on the first element matching selector that passes the same
// visibility test as VisibleSelectors, not on the first match in the markup.
func (p *rodPage) Click(selector string) error {
	pg := p.page.Timeout(p.clickTimeout)
	defer pg.CancelTimeout()

	el, err := pg.Sleeper(rod.NotFoundSleeper).ElementByJS(rod.Eval(firstVisibleJS, selector))
	if err != nil {
		return err
	}

	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		// Overlays can swallow the real mouse event; the DOM click still fires the handler.
		if _, jsErr := el.Eval(`() => this.click()`); jsErr != nil {
			return fmt.Errorf("click %s: %w", selector, err)
		}
	}
	return nil
}

func (p *rodPage) Cookies() ([]SavedCookie, error) {
	cookies, err := p.page.Cookies(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get cookies: %w", err)
	}

	saved := make([]SavedCookie, 0, len(cookies))
	for _, c := range cookies {
		saved = append(saved, SavedCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: string(c.SameSite),
		})
	}
	return saved, nil
}

func (p *rodPage) SetCookies(cookies []SavedCookie) error {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  proto.TimeSinceEpoch(c.Expires),
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: proto.NetworkCookieSameSite(c.SameSite),
		})
	}
	return p.page.SetCookies(params)
}
