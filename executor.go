package main

import "go.uber.org/zap"

// ClickResult is either Matched(selector) or NoMatch.
type ClickResult struct {
	Selector string
	Matched  bool
}

// NoMatch is the result of a scan or click that found nothing to act on.
var NoMatch = ClickResult{}

func Matched(selector string) ClickResult {
	return ClickResult{Selector: selector, Matched: true}
}

// ActionExecutor clicks whatever the scanner finds. Misses and click errors
// are routine while polling a live storefront, so both come back as NoMatch.
type ActionExecutor struct {
	scanner *ElementScanner
	page    Page
	logger  *zap.Logger
}

func NewActionExecutor(page Page, logger *zap.Logger) *ActionExecutor {
	return &ActionExecutor{
		scanner: NewElementScanner(page, logger),
		page:    page,
		logger:  logger,
	}
}

func (e *ActionExecutor) TryClick(selectors []string) ClickResult {
	selector, ok := e.scanner.Scan(selectors)
	if !ok {
		return NoMatch
	}

	if err := e.page.Click(selector); err != nil {
		e.logger.Debug("click failed", zap.String("selector", selector), zap.Error(err))
		return NoMatch
	}

	e.logger.Info("clicked", zap.String("selector", selector))
	return Matched(selector)
}
