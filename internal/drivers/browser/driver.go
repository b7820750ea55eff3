// -----------------------------------------------------------------------
// Chrome Session Driver - launches or attaches to a browser and opens
// one isolated session per account
// -----------------------------------------------------------------------

package browser

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/adsum/internal/common"
	"github.com/ternarybob/adsum/internal/interfaces"
	"github.com/ternarybob/adsum/internal/models"
)

// stealthScript runs before any page script and hides the obvious
// automation markers Chrome leaves behind.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'languages', { get: () => ['zh-CN', 'zh', 'en'] });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
window.chrome = window.chrome || { runtime: {} };
`

// Driver creates chromedp sessions. Each Open launches a fresh browser
// process (or attaches to a remote one) so no cookies, storage or
// cache survive between accounts.
type Driver struct {
	config common.BrowserConfig
	logger arbor.ILogger
}

// NewDriver creates a session driver from browser configuration.
func NewDriver(config common.BrowserConfig, logger arbor.ILogger) *Driver {
	return &Driver{
		config: config,
		logger: logger,
	}
}

// Open starts a browser session for one account. The caller owns the
// returned session and must Close it exactly once.
func (d *Driver) Open(ctx context.Context, site models.SiteDescriptor, opts interfaces.SessionOptions) (interfaces.Session, error) {
	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)

	proxyURL, proxyUser, proxyPass, err := splitProxyCredentials(opts.Proxy)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy %q: %w", opts.Proxy, err)
	}

	if opts.RemoteDebugEndpoint != "" {
		d.logger.Debug().
			Str("endpoint", opts.RemoteDebugEndpoint).
			Msg("Attaching to remote browser")
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, opts.RemoteDebugEndpoint)
	} else {
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, d.allocatorOptions(opts.Headless, proxyURL)...)
	}

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	session := &chromeSession{
		ctx:           browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		site:          site,
		logger:        d.logger,
		navTimeout:    time.Duration(d.config.NavTimeoutSeconds) * time.Second,
		limiter:       rate.NewLimiter(rate.Limit(apiRate(d.config.APIRatePerSecond)), 1),
	}

	attachConsoleListener(browserCtx)

	// Startup probe: a browser that cannot load about:blank is dead.
	probeCtx, probeCancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer probeCancel()
	if err := chromedp.Run(probeCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
		chromedp.Navigate("about:blank"),
	); err != nil {
		session.Close()
		return nil, fmt.Errorf("browser failed startup test: %w", err)
	}

	if proxyUser != "" {
		if err := session.enableProxyAuth(browserCtx, proxyUser, proxyPass); err != nil {
			session.Close()
			return nil, fmt.Errorf("failed to enable proxy authentication: %w", err)
		}
	}

	if d.config.RandomizeViewport && opts.RemoteDebugEndpoint == "" {
		width := int64(1200 + rand.Intn(720))
		height := int64(800 + rand.Intn(280))
		if err := chromedp.Run(probeCtx, chromedp.EmulateViewport(width, height)); err != nil {
			d.logger.Debug().Err(err).Msg("Viewport emulation failed, continuing with default")
		}
	}

	if len(opts.SavedState) > 0 {
		if err := session.restoreState(probeCtx, opts.SavedState); err != nil {
			// A stale or corrupt blob is not fatal; login proceeds fresh.
			d.logger.Warn().Err(err).Str("site", site.Name).Msg("Failed to restore saved session state")
		} else {
			d.logger.Debug().Str("site", site.Name).Msg("Saved session state restored")
		}
	}

	return session, nil
}

// allocatorOptions builds the Chrome launch flags.
func (d *Driver) allocatorOptions(headless bool, proxyURL string) []chromedp.ExecAllocatorOption {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("no-sandbox", d.config.NoSandbox),
		chromedp.Flag("disable-gpu", d.config.DisableGPU),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.Flag("lang", d.config.Locale),
		chromedp.UserAgent(d.config.UserAgent),
		chromedp.Env("TZ="+d.config.Timezone),
	)
	if proxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(proxyURL))
	}
	return opts
}

// splitProxyCredentials separates embedded credentials from a proxy
// URL. Chrome's --proxy-server flag rejects userinfo, so credentials
// are answered over CDP auth challenges instead.
func splitProxyCredentials(proxy string) (server, username, password string, err error) {
	if proxy == "" {
		return "", "", "", nil
	}

	raw := proxy
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", "", err
	}

	if u.User != nil {
		username = u.User.Username()
		password, _ = u.User.Password()
		u.User = nil
	}
	return u.String(), username, password, nil
}

// enableProxyAuth answers HTTP auth challenges from the proxy with the
// credentials stripped out of the proxy URL.
func (s *chromeSession) enableProxyAuth(ctx context.Context, username, password string) error {
	if err := chromedp.Run(ctx, fetch.Enable().WithHandleAuthRequests(true)); err != nil {
		return err
	}

	chromedp.ListenTarget(ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *fetch.EventAuthRequired:
			go func() {
				_ = chromedp.Run(ctx, fetch.ContinueWithAuth(e.RequestID, &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: username,
					Password: password,
				}))
			}()
		case *fetch.EventRequestPaused:
			go func() {
				_ = chromedp.Run(ctx, fetch.ContinueRequest(e.RequestID))
			}()
		}
	})
	return nil
}

func apiRate(perSecond int) float64 {
	if perSecond <= 0 {
		return 2
	}
	return float64(perSecond)
}
