package main

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	itemURL        = "https://detail.tmall.com/item.htm?id=573515891033"
	loginIndicator = ".site-nav-user"
)

type loginFixture struct {
	page    *fakePage
	store   *SessionStore
	probe   *LoginProbe
	prompts int
	// loggedIn is what the page shows; prompt sets it to afterPrompt.
	loggedIn    bool
	afterPrompt bool
	promptErr   error
}

func newLoginFixture(t *testing.T) *loginFixture {
	t.Helper()
	f := &loginFixture{
		page:        newFakePage(),
		store:       newTestStore(t),
		afterPrompt: true,
	}
	f.page.visible = func(sel string) bool { return sel == loginIndicator && f.loggedIn }
	f.page.cookies = testCookies()
	f.probe = NewLoginProbe(f.page, []string{"#J_SiteNavLogin .sn-login", loginIndicator}, zaptest.NewLogger(t))
	return f
}

func (f *loginFixture) prompt() error {
	f.prompts++
	f.loggedIn = f.afterPrompt
	return f.promptErr
}

func (f *loginFixture) run(t *testing.T) error {
	return ensureLoggedIn(f.page, f.store, f.probe, itemURL, f.prompt, zaptest.NewLogger(t))
}

func TestEnsureLoggedInRestoresSession(t *testing.T) {
	f := newLoginFixture(t)
	require.NoError(t, f.store.Save(f.page))
	f.page.cookies = nil
	f.loggedIn = true

	require.NoError(t, f.run(t))

	assert.Zero(t, f.prompts)
	assert.Equal(t, testCookies(), f.page.cookies)
	assert.Equal(t, []string{itemURL}, f.page.navigations)
}

func TestEnsureLoggedInWithoutSession(t *testing.T) {
	f := newLoginFixture(t)

	require.NoError(t, f.run(t))

	assert.Equal(t, 1, f.prompts)
	assert.True(t, f.store.Exists(), "login should be saved")
	assert.Empty(t, f.page.navigations)
}

func TestEnsureLoggedInExpiredSession(t *testing.T) {
	f := newLoginFixture(t)
	require.NoError(t, f.store.Save(f.page))
	oldKeys, err := os.ReadFile(f.store.keyPath)
	require.NoError(t, err)

	require.NoError(t, f.run(t))

	assert.Equal(t, 1, f.prompts)
	assert.True(t, f.store.Exists())
	newKeys, err := os.ReadFile(f.store.keyPath)
	require.NoError(t, err)
	assert.NotEqual(t, oldKeys, newKeys, "expired session should be cleared before saving again")
}

func TestEnsureLoggedInCorruptSession(t *testing.T) {
	f := newLoginFixture(t)
	require.NoError(t, f.store.Save(f.page))
	require.NoError(t, os.WriteFile(f.store.path, []byte("garbage"), 0600))

	require.NoError(t, f.run(t))

	assert.Equal(t, 1, f.prompts)
	assert.Empty(t, f.page.navigations)
	assert.True(t, f.store.Exists())
}

func TestEnsureLoggedInNotDetected(t *testing.T) {
	f := newLoginFixture(t)
	f.afterPrompt = false

	require.NoError(t, f.run(t))

	assert.Equal(t, 1, f.prompts)
	assert.False(t, f.store.Exists(), "nothing to save without a login")
}

func TestEnsureLoggedInCanceled(t *testing.T) {
	f := newLoginFixture(t)
	f.promptErr = errUserCanceled

	err := f.run(t)

	assert.ErrorIs(t, err, errUserCanceled)
	assert.False(t, f.store.Exists())
}

func TestEnsureLoggedInInterrupted(t *testing.T) {
	f := newLoginFixture(t)
	f.promptErr = context.Canceled

	err := f.run(t)

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, f.store.Exists())
}
