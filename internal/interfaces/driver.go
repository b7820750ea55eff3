package interfaces

import (
	"context"

	"github.com/ternarybob/adsum/internal/models"
)

// ElementAction is what FindAndAct should do with the first matching
// element.
type ElementAction string

const (
	// ActionClick clicks the element if it is enabled.
	ActionClick ElementAction = "click"
	// ActionInspect only reports the element's state without acting.
	ActionInspect ElementAction = "inspect"
)

// ActResult reports what FindAndAct observed. Found without Acted
// usually means the element was present but disabled; Label carries
// its text so callers can interpret why.
type ActResult struct {
	Found   bool
	Acted   bool
	Enabled bool
	Label   string
}

// SessionOptions configures a new driver session for one account.
type SessionOptions struct {
	Proxy               string // per-account or global proxy, may carry credentials
	RemoteDebugEndpoint string // attach to an already-running browser instead of launching one
	Headless            bool
	SavedState          []byte // opaque session blob from a previous run, nil when absent
}

// Session is one live page/browser context tied to a single account.
// Implementations own whatever browser state backs it; callers must
// Close every session exactly once, on every exit path.
type Session interface {
	// Navigate loads a URL. When waitVisible is non-empty the call
	// blocks until that selector is visible or the context expires.
	Navigate(ctx context.Context, url string, waitVisible string) error

	// Fill writes value into the first matching input candidate.
	Fill(ctx context.Context, candidates []string, value string) error

	// FindAndAct locates the first interactive element matching any
	// candidate selector and performs the action on it. Candidates
	// starting with "//" are treated as XPath, everything else as CSS.
	FindAndAct(ctx context.Context, candidates []string, action ElementAction) (ActResult, error)

	// EvaluateAuthenticated probes an authenticated endpoint from
	// inside the page and reports whether it returned a success flag.
	EvaluateAuthenticated(ctx context.Context, probeURL string) (bool, error)

	// CallAPI performs an in-page HTTP call and returns the decoded
	// JSON payload, or the raw response text when it is not JSON.
	CallAPI(ctx context.Context, url, method string, body any) (any, error)

	// CurrentURL returns the page's current location.
	CurrentURL(ctx context.Context) (string, error)

	// SaveState serializes the session's authentication state into an
	// opaque blob that a later SessionOptions.SavedState can resume.
	SaveState(ctx context.Context) ([]byte, error)

	// Close releases all resources held by the session. Safe to call
	// once; callers must not use the session afterwards.
	Close() error
}

// SessionDriver opens page sessions against a resolved site. The
// checkin workflow consumes this capability; concrete drivers (a
// chromedp browser, a test fake) are interchangeable behind it.
type SessionDriver interface {
	Open(ctx context.Context, site models.SiteDescriptor, opts SessionOptions) (Session, error)
}
