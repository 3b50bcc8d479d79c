package main

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// LoginProbe decides "already logged in" from the presence of account widgets.
type LoginProbe struct {
	scanner    *ElementScanner
	indicators []string
}

func NewLoginProbe(page Page, indicators []string, logger *zap.Logger) *LoginProbe {
	return &LoginProbe{
		scanner:    NewElementScanner(page, logger),
		indicators: indicators,
	}
}

func (p *LoginProbe) LoggedIn() bool {
	_, ok := p.scanner.Scan(p.indicators)
	return ok
}

// sessionPage is the page as the login step sees it.
type sessionPage interface {
	Page
	CookieJar
}

// ensureLoggedIn restores a saved session if it is still valid, otherwise asks
// the user to log in by hand and saves the result. The grab only needs the
// page to end up logged in; a failed probe is reported, not fatal.
func ensureLoggedIn(page sessionPage, store *SessionStore, probe *LoginProbe, targetURL string, prompt func() error, logger *zap.Logger) error {
	loadErr := store.Load(page)
	switch {
	case loadErr == nil:
		if err := page.Navigate(targetURL); err != nil {
			return err
		}
		if probe.LoggedIn() {
			fmt.Println(T("session_restored"))
			return nil
		}
		fmt.Println(T("session_expired"))
		if err := store.Clear(); err != nil {
			logger.Warn("failed to clear expired session", zap.Error(err))
		}
	case errors.Is(loadErr, errNoSession):
		logger.Info("no saved session")
	default:
		logger.Warn("saved session unusable", zap.Error(loadErr))
		if err := store.Clear(); err != nil {
			logger.Warn("failed to clear session", zap.Error(err))
		}
	}

	if err := prompt(); err != nil {
		return err
	}

	if !probe.LoggedIn() {
		fmt.Println(T("login_not_detected"))
		return nil
	}

	fmt.Println(T("login_detected_saving"))
	if err := store.Save(page); err != nil {
		logger.Warn("failed to save session", zap.Error(err))
	}
	return nil
}
