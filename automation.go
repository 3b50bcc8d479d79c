package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"
)

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

var errUserCanceled = errors.New("user canceled operation")

// Automation owns the browser process and the single page a session drives.
type Automation struct {
	config   *Config
	logger   *zap.Logger
	browser  *rod.Browser
	page     *rod.Page
	launcher *launcher.Launcher
	rand     *rand.Rand
}

func NewAutomation(config *Config, logger *zap.Logger) *Automation {
	return &Automation{
		config: config,
		logger: logger,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (a *Automation) Close() {
	fmt.Println(T("cleaning_up"))

	if a.page != nil {
		a.page.Close()
	}

	if a.browser != nil {
		a.browser.Close()
	}

	if a.launcher != nil {
		a.launcher.Cleanup()
	}
}

func (a *Automation) isBrowserAlive() bool {
	if a.browser == nil {
		return false
	}

	if _, err := a.browser.Version(); err != nil {
		a.logger.Debug("browser version check failed", zap.Error(err))
		return false
	}

	if a.page != nil {
		if _, err := a.page.Info(); err != nil {
			a.logger.Debug("page info check failed", zap.Error(err))
			return false
		}
	}

	return true
}

// viewportSize jitters the configured viewport so sessions don't share one
// fingerprintable window size.
func (a *Automation) viewportSize() (int, int) {
	jitter := a.config.ViewportJitter
	if jitter <= 0 {
		return a.config.ViewportWidth, a.config.ViewportHeight
	}
	return a.config.ViewportWidth + a.rand.Intn(2*jitter+1) - jitter,
		a.config.ViewportHeight + a.rand.Intn(2*jitter+1) - jitter
}

func (a *Automation) setupBrowser() error {
	fmt.Println(T("browser_launching"))

	// Leakless deadlocks on Windows, see https://github.com/go-rod/rod/issues/853
	useLeakless := runtime.GOOS != "windows"

	chromePath, chromeExists := launcher.LookPath()

	a.launcher = launcher.New().
		Leakless(useLeakless).
		Headless(a.config.Headless)

	// must be set before Bin()
	if a.config.BrowserProfilePath != "" {
		a.launcher = a.launcher.UserDataDir(a.config.BrowserProfilePath)
		a.logger.Debug("browser profile", zap.String("path", a.config.BrowserProfilePath))
	}

	if chromeExists {
		a.launcher = a.launcher.Bin(chromePath)
		fmt.Println(T("browser_using_system_chrome"))
	} else {
		fmt.Println(T("browser_chrome_not_found"))
	}

	url, err := a.launcher.Launch()
	if err != nil {
		errMsg := err.Error()
		if strings.Contains(errMsg, "ProcessSingleton") || strings.Contains(errMsg, "SingletonLock") {
			fmt.Println(T("error_chrome_already_running"))
		}
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	a.browser = rod.New().ControlURL(url)
	if err := a.browser.Connect(); err != nil {
		return fmt.Errorf("failed to connect to browser: %w", err)
	}

	// stealth hides navigator.webdriver and the other automation tells
	a.page, err = stealth.Page(a.browser)
	if err != nil {
		return fmt.Errorf("failed to create stealth page: %w", err)
	}

	if err := a.page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: userAgent}); err != nil {
		a.logger.Debug("failed to set user agent", zap.Error(err))
	}

	width, height := a.viewportSize()
	if err := a.page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
	}); err != nil {
		a.logger.Debug("failed to set viewport", zap.Error(err))
	}

	fmt.Println(T("browser_launched"))
	return nil
}

// Page exposes the session page through the Page interface.
func (a *Automation) Page() *rodPage {
	return newRodPage(a.page, a.config)
}

// waitForEnter blocks until Enter (continue) or Esc (cancel) is read from in,
// or ctx is done. The reader goroutine is left behind on cancel; stdin reads
// cannot be interrupted.
func waitForEnter(ctx context.Context, in io.Reader, prompt string) error {
	fmt.Print(prompt)

	result := make(chan error, 1)
	go func() {
		result <- readEnter(in)
	}()

	select {
	case <-ctx.Done():
		fmt.Println()
		return ctx.Err()
	case err := <-result:
		return err
	}
}

func readEnter(in io.Reader) error {
	reader := bufio.NewReader(in)
	for {
		input, err := reader.ReadByte()
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		if input == '\n' || input == '\r' {
			fmt.Println()
			return nil
		}

		if input == 27 {
			fmt.Println()
			fmt.Println(T("user_requested_exit"))
			return errUserCanceled
		}
	}
}

func (a *Automation) promptLogin(ctx context.Context) error {
	fmt.Println()
	return waitForEnter(ctx, os.Stdin, T("login_prompt"))
}

// holdOpen keeps the browser up for manual follow-up until the user presses
// Enter, closes the window, or ctx is cancelled.
func (a *Automation) holdOpen(ctx context.Context, in io.Reader) {
	done := make(chan struct{})
	go func() {
		_ = waitForEnter(ctx, in, T("keep_open_prompt"))
		close(done)
	}()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !a.isBrowserAlive() {
				fmt.Println(T("browser_closed_by_user"))
				return
			}
		}
	}
}
