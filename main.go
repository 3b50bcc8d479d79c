package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var errGrabFailed = errors.New("grab failed")

type options struct {
	configPath    string
	url           string
	targetTime    string
	selectors     string
	maxAttempts   int
	interval      float64
	delayMs       int
	submitTimeout float64
	clearCookies  bool
	debug         bool
	headless      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:          "qiangdan",
		Short:        "Click buy and submit on a Taobao/Tmall item page at an exact time",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "config.yaml", "Path to configuration file")
	flags.StringVar(&opts.url, "url", "", "Item page URL (overrides config)")
	flags.StringVar(&opts.targetTime, "time", "", "Grab time, YYYY-MM-DD HH:MM:SS[.fff] in local time")
	flags.StringVar(&opts.selectors, "selectors", "", "Comma separated buy button selectors, replaces the defaults")
	flags.IntVar(&opts.maxAttempts, "max-attempts", 0, "Maximum buy attempts")
	flags.Float64Var(&opts.interval, "interval", 0, "Retry interval in seconds")
	flags.IntVar(&opts.delayMs, "delay", 0, "Network delay compensation in milliseconds (fires this much early)")
	flags.Float64Var(&opts.submitTimeout, "submit-timeout", 0, "Seconds to keep trying the submit order button")
	flags.BoolVar(&opts.clearCookies, "clear-cookies", false, "Clear the saved login state and exit")
	flags.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	flags.BoolVar(&opts.headless, "headless", false, "Run the browser headless")

	return cmd
}

// applyFlags copies explicitly set flags over the config and parses the
// target time. A bad time fails here, before any browser work.
func applyFlags(config *Config, opts *options, changed func(string) bool) (time.Time, error) {
	if opts.url != "" {
		config.TargetURL = opts.url
	}
	if opts.targetTime != "" {
		config.TargetTime = opts.targetTime
	}
	if opts.selectors != "" {
		var selectors []string
		for _, sel := range strings.Split(opts.selectors, ",") {
			if sel = strings.TrimSpace(sel); sel != "" {
				selectors = append(selectors, sel)
			}
		}
		config.Selectors.Primary = selectors
	}
	if changed("max-attempts") {
		config.MaxAttempts = opts.maxAttempts
	}
	if changed("interval") {
		config.RetryIntervalMs = int(math.Round(opts.interval * 1000))
	}
	if changed("delay") {
		config.NetworkDelayMs = opts.delayMs
	}
	if changed("submit-timeout") {
		config.SubmitTimeoutMs = int(math.Round(opts.submitTimeout * 1000))
	}
	if opts.debug {
		config.DebugMode = true
	}
	if opts.headless {
		config.Headless = true
	}

	if config.TargetTime == "" {
		return time.Time{}, fmt.Errorf("%w: no target time given, use --time or target_time in the config", errInvalidTime)
	}
	target, err := ParseTargetTime(config.TargetTime)
	if err != nil {
		return time.Time{}, err
	}

	if err := config.Validate(); err != nil {
		return time.Time{}, err
	}
	return target, nil
}

func run(cmd *cobra.Command, opts *options) error {
	if err := InitLocale(); err != nil {
		log.Printf("Warning: locale initialization failed, using keys: %v", err)
	}

	config, err := LoadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := newLogger(opts.debug || config.DebugMode)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	checkUserDataDir(logger)

	logger.Debug("locale", zap.String("locale", GetLocale()))

	store := NewSessionStore(config.SessionFile, logger)
	if opts.clearCookies {
		if !store.Exists() {
			fmt.Println(T("session_none"))
		}
		if err := store.Clear(); err != nil {
			fmt.Printf(T("session_clear_failed")+"\n", err)
			return err
		}
		fmt.Println(T("session_cleared"))
		return nil
	}

	target, err := applyFlags(config, opts, cmd.Flags().Changed)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("  %s\n", T("app_title"))
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Printf(T("target_url")+"\n", config.TargetURL)
	fmt.Printf(T("target_time")+"\n", target.Format("2006-01-02 15:04:05.000 MST"))
	if opts.selectors != "" {
		fmt.Printf(T("selector_override")+"\n", len(config.Selectors.Primary))
	}
	fmt.Println()

	timeSync := NewTimeSync(newTimeAuthorities(config), systemClock{}, config.TimeSyncAttempts,
		time.Duration(config.TimeSyncRetryMs)*time.Millisecond, logger.Named("timesync"))
	if err := syncClock(ctx, timeSync); err != nil {
		return err
	}

	automation := NewAutomation(config, logger.Named("browser"))
	defer automation.Close()

	if err := automation.setupBrowser(); err != nil {
		return err
	}

	page := automation.Page()
	fmt.Printf(T("opening_target")+"\n", config.TargetURL)
	if err := page.Navigate(config.TargetURL); err != nil {
		return err
	}

	probe := NewLoginProbe(page, config.Selectors.LoginIndicators, logger.Named("login"))
	prompt := func() error { return automation.promptLogin(ctx) }
	if err := ensureLoggedIn(page, store, probe, config.TargetURL, prompt, logger.Named("login")); err != nil {
		return err
	}
	if err := page.Navigate(config.TargetURL); err != nil {
		return err
	}

	countdown := NewCountdown(systemClock{}, CountdownConfig{
		Offset:       timeSync.GetOffset(),
		NetworkDelay: config.NetworkDelay(),
	}, logger.Named("countdown"))

	machine := NewGrabMachine(page, countdown, systemClock{}, config, logger.Named("grab"))
	outcome, err := machine.Run(ctx, target)
	if err != nil {
		return fmt.Errorf("grab interrupted in phase %s: %w", outcome.Phase, err)
	}

	logger.Info("grab finished",
		zap.String("result", outcome.Final.String()),
		zap.String("phase", outcome.Phase.String()),
		zap.Int("attempts", outcome.Attempts),
		zap.Duration("elapsed", outcome.Elapsed),
		zap.Duration("submit_elapsed", outcome.SubmitElapsed),
		zap.String("primary", outcome.PrimarySelector),
		zap.String("secondary", outcome.SecondarySelector),
		zap.String("signal", outcome.Signal))

	if outcome.Succeeded() {
		fmt.Printf(T("grab_succeeded")+"\n", outcome.Attempts, outcome.Elapsed.Round(time.Millisecond))
	} else {
		fmt.Printf(T("grab_failed")+"\n", outcome.Phase, outcome.Attempts, outcome.Elapsed.Round(time.Millisecond))
	}

	if config.KeepBrowserOpen {
		automation.holdOpen(ctx, os.Stdin)
	}

	if !outcome.Succeeded() {
		return errGrabFailed
	}
	return nil
}

// syncClock measures the clock offset and reports it. Unlike a failed sync,
// an interrupt during the measurement ends the session.
func syncClock(ctx context.Context, timeSync *TimeSync) error {
	offset := timeSync.MeasureOffset(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}

	if timeSync.IsSynced() {
		fmt.Printf(T("sync_offset")+"\n", timeSync.GetOffset(), offset.Source)
	} else {
		fmt.Println(T("sync_fallback"))
	}
	fmt.Printf(T("calibrated_time")+"\n", timeSync.Now().Format("2006-01-02 15:04:05.000"))
	return nil
}

// Store init error for later display (after the logger exists)
var initUserDataDirError error

func init() {
	userDataDir := getUserDataDir()
	if err := os.MkdirAll(userDataDir, 0755); err != nil {
		initUserDataDirError = err
	}
}

func checkUserDataDir(logger *zap.Logger) {
	if initUserDataDirError != nil {
		logger.Warn("user data directory unavailable",
			zap.String("path", getUserDataDir()),
			zap.Error(initUserDataDirError))
	}
}

func getUserDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./qiangdan-data"
	}
	return filepath.Join(home, ".qiangdan")
}
