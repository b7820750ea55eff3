package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/adsum/internal/interfaces"
	"github.com/ternarybob/adsum/internal/models"
)

// chromeSession is one browser process bound to a single account.
type chromeSession struct {
	ctx           context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	site          models.SiteDescriptor
	logger        arbor.ILogger
	navTimeout    time.Duration
	limiter       *rate.Limiter
	closeOnce     sync.Once
}

// sessionState is the serialized form of SaveState.
type sessionState struct {
	SavedAt time.Time     `json:"saved_at"`
	Cookies []savedCookie `json:"cookies"`
}

type savedCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"http_only"`
	Secure   bool    `json:"secure"`
}

func (s *chromeSession) Navigate(ctx context.Context, targetURL string, waitVisible string) error {
	navCtx, cancel := s.withNavTimeout(ctx)
	defer cancel()

	actions := []chromedp.Action{chromedp.Navigate(targetURL)}
	if waitVisible != "" {
		actions = append(actions, chromedp.WaitVisible(waitVisible, selectorBy(waitVisible)))
	} else {
		actions = append(actions, chromedp.WaitReady("body", chromedp.ByQuery))
	}

	if err := chromedp.Run(navCtx, actions...); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", targetURL, err)
	}

	s.logger.Debug().Str("url", targetURL).Msg("Page loaded")
	return nil
}

// Fill writes value into the first matching input. The value is set
// through the native property setter so framework-bound inputs
// (React, Vue) observe the change.
func (s *chromeSession) Fill(ctx context.Context, candidates []string, value string) error {
	navCtx, cancel := s.withNavTimeout(ctx)
	defer cancel()

	script := fillScript(candidates, value)

	var filled bool
	if err := chromedp.Run(navCtx, chromedp.Evaluate(script, &filled)); err != nil {
		return fmt.Errorf("fill evaluation failed: %w", err)
	}
	if !filled {
		return fmt.Errorf("no input matched any of %d candidate selectors", len(candidates))
	}
	return nil
}

func (s *chromeSession) FindAndAct(ctx context.Context, candidates []string, action interfaces.ElementAction) (interfaces.ActResult, error) {
	navCtx, cancel := s.withNavTimeout(ctx)
	defer cancel()

	script := findAndActScript(candidates, action == interfaces.ActionClick)

	var raw struct {
		Found   bool   `json:"found"`
		Acted   bool   `json:"acted"`
		Enabled bool   `json:"enabled"`
		Label   string `json:"label"`
	}
	if err := chromedp.Run(navCtx, chromedp.Evaluate(script, &raw)); err != nil {
		return interfaces.ActResult{}, fmt.Errorf("element search failed: %w", err)
	}

	if !raw.Found {
		s.logInteractiveElements(navCtx)
	}

	result := interfaces.ActResult{
		Found:   raw.Found,
		Acted:   raw.Acted,
		Enabled: raw.Enabled,
		Label:   strings.TrimSpace(raw.Label),
	}

	s.logger.Debug().
		Bool("found", result.Found).
		Bool("acted", result.Acted).
		Bool("enabled", result.Enabled).
		Str("label", result.Label).
		Msg("Element action completed")

	return result, nil
}

// EvaluateAuthenticated fetches a protected endpoint from inside the
// page, so the browser's own cookies and headers ride along.
func (s *chromeSession) EvaluateAuthenticated(ctx context.Context, probeURL string) (bool, error) {
	payload, err := s.CallAPI(ctx, probeURL, "GET", nil)
	if err != nil {
		return false, err
	}

	if m, ok := payload.(map[string]any); ok {
		if success, ok := m["success"].(bool); ok {
			return success, nil
		}
		// Some deployments return the user object bare.
		if _, ok := m["id"]; ok {
			return true, nil
		}
	}
	return false, nil
}

// CallAPI performs an in-page fetch and decodes the JSON response.
// Non-JSON bodies come back as the raw text.
func (s *chromeSession) CallAPI(ctx context.Context, url, method string, body any) (any, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	navCtx, cancel := s.withNavTimeout(ctx)
	defer cancel()

	script, err := fetchScript(url, method, body)
	if err != nil {
		return nil, err
	}

	var text string
	err = chromedp.Run(navCtx, chromedp.Evaluate(script, &text,
		func(p *cdpruntime.EvaluateParams) *cdpruntime.EvaluateParams {
			return p.WithAwaitPromise(true)
		},
	))
	if err != nil {
		return nil, fmt.Errorf("in-page request to %s failed: %w", url, err)
	}

	var payload any
	if jsonErr := json.Unmarshal([]byte(text), &payload); jsonErr != nil {
		return text, nil
	}
	return payload, nil
}

func (s *chromeSession) CurrentURL(ctx context.Context) (string, error) {
	navCtx, cancel := s.withNavTimeout(ctx)
	defer cancel()

	var location string
	if err := chromedp.Run(navCtx, chromedp.Location(&location)); err != nil {
		return "", fmt.Errorf("failed to read page location: %w", err)
	}
	return location, nil
}

// SaveState captures the browser's cookies as an opaque blob.
func (s *chromeSession) SaveState(ctx context.Context) ([]byte, error) {
	navCtx, cancel := s.withNavTimeout(ctx)
	defer cancel()

	var cookies []*network.Cookie
	err := chromedp.Run(navCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	state := sessionState{SavedAt: time.Now()}
	for _, c := range cookies {
		state.Cookies = append(state.Cookies, savedCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		})
	}

	return json.Marshal(state)
}

// restoreState loads a previously saved cookie blob into the browser.
func (s *chromeSession) restoreState(ctx context.Context, blob []byte) error {
	var state sessionState
	if err := json.Unmarshal(blob, &state); err != nil {
		return fmt.Errorf("unreadable session state: %w", err)
	}
	if len(state.Cookies) == 0 {
		return fmt.Errorf("session state contains no cookies")
	}

	return chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range state.Cookies {
			param := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithHTTPOnly(c.HTTPOnly).
				WithSecure(c.Secure)
			if c.Expires > 0 {
				expiry := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
				param = param.WithExpires(&expiry)
			}
			if err := param.Do(ctx); err != nil {
				return fmt.Errorf("failed to set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	}))
}

// Close tears down the browser context and its allocator. Idempotent.
func (s *chromeSession) Close() error {
	s.closeOnce.Do(func() {
		if s.browserCancel != nil {
			s.browserCancel()
		}
		if s.allocCancel != nil {
			s.allocCancel()
		}
		s.logger.Debug().Str("site", s.site.Name).Msg("Browser session closed")
	})
	return nil
}

func (s *chromeSession) withNavTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.navTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	merged, cancel := context.WithTimeout(s.ctx, timeout)

	// Honor cancellation of the caller's context too.
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-merged.Done():
		}
	}()

	return merged, cancel
}

func selectorBy(selector string) chromedp.QueryOption {
	if strings.HasPrefix(selector, "//") {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}
