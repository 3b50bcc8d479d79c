package main

import (
	"context"
	"errors"
	"time"
)

// fakeClock only moves when something sleeps on it.
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 4, 23, 19, 59, 0, 0, time.Local)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

// fakePage simulates selector availability deterministically.
type fakePage struct {
	visible    func(sel string) bool
	location   func() string
	readyState string

	scanErr   error
	reloadErr error
	clickErr  map[string]error

	scans       int
	reloads     int
	clicks      []string
	navigations []string

	cookies    []SavedCookie
	cookiesErr error
}

func newFakePage() *fakePage {
	return &fakePage{
		visible:    func(string) bool { return false },
		location:   func() string { return "https://detail.tmall.com/item.htm?id=573515891033" },
		readyState: "complete",
		clickErr:   map[string]error{},
	}
}

func (p *fakePage) Navigate(url string) error {
	p.navigations = append(p.navigations, url)
	return nil
}

func (p *fakePage) Reload(bypassCache bool) error {
	if !bypassCache {
		return errors.New("reload must bypass cache")
	}
	p.reloads++
	return p.reloadErr
}

func (p *fakePage) Location() (string, error) {
	return p.location(), nil
}

func (p *fakePage) Evaluate(js string, timeout time.Duration) (string, error) {
	return p.readyState, nil
}

func (p *fakePage) VisibleSelectors(selectors []string) ([]bool, error) {
	p.scans++
	if p.scanErr != nil {
		return nil, p.scanErr
	}
	visible := make([]bool, len(selectors))
	for i, sel := range selectors {
		visible[i] = p.visible(sel)
	}
	return visible, nil
}

func (p *fakePage) Click(selector string) error {
	if err := p.clickErr[selector]; err != nil {
		return err
	}
	p.clicks = append(p.clicks, selector)
	return nil
}

func (p *fakePage) Cookies() ([]SavedCookie, error) {
	return p.cookies, p.cookiesErr
}

func (p *fakePage) SetCookies(cookies []SavedCookie) error {
	p.cookies = cookies
	return nil
}

// fakeAuthority answers with the clock's time shifted by skew, after failing
// the first failures requests.
type fakeAuthority struct {
	name     string
	clock    *fakeClock
	skew     time.Duration
	failures int
	calls    int
}

func (a *fakeAuthority) Request(ctx context.Context) (time.Time, error) {
	a.calls++
	if a.calls <= a.failures {
		return time.Time{}, errors.New("i/o timeout")
	}
	return a.clock.Now().Add(a.skew), nil
}

func (a *fakeAuthority) String() string {
	return a.name
}
