package main

import "time"

// Page is everything the grab loop needs from a browser tab. Any automation
// backend that satisfies it can drive a session.
type Page interface {
	Navigate(url string) error
	Reload(bypassCache bool) error
	Location() (string, error)
	Evaluate(js string, timeout time.Duration) (string, error)

	// VisibleSelectors checks all selectors in one round trip and reports,
	// per selector, whether a rendered element currently matches it.
	VisibleSelectors(selectors []string) ([]bool, error)

	// Click clicks the first rendered element matching selector.
	Click(selector string) error
}

// CookieJar is the part of a browser session that gets persisted.
type CookieJar interface {
	Cookies() ([]SavedCookie, error)
	SetCookies(cookies []SavedCookie) error
}

// SavedCookie is the browser-independent form of a session cookie.
type SavedCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	HTTPOnly bool    `json:"http_only,omitempty"`
	SameSite string  `json:"same_site,omitempty"`
}
