// -----------------------------------------------------------------------
// Checkin Workflow - per-account state machine driving
// authenticate -> confirm -> check in -> read balances
// -----------------------------------------------------------------------

package checkin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/adsum/internal/interfaces"
	"github.com/ternarybob/adsum/internal/models"
	"github.com/ternarybob/adsum/internal/services/tokens"
)

// State is the workflow's position in the per-account state machine.
type State string

const (
	StateIdle           State = "idle"
	StateAuthenticating State = "authenticating"
	StateAuthenticated  State = "authenticated"
	StateCheckingIn     State = "checking_in"
	StateDone           State = "done"
	StateAborted        State = "aborted"
)

// Workflow error taxonomy. All of these surface as a failed
// AccountResult, never as an error to the orchestrator.
var (
	// ErrMissingCredentials marks an account whose configuration
	// cannot be processed at all.
	ErrMissingCredentials = errors.New("missing username or password")

	// ErrAuthFailed marks bad credentials or a login timeout.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrHumanInterventionRequired marks a delegate-auth account that
	// needs an interactive browser and a human to pass a challenge.
	// In headless mode with no saved session this is returned fast
	// instead of waiting out the manual-auth timeout.
	ErrHumanInterventionRequired = errors.New("human intervention required to complete delegate authorization")
)

// Default selector candidates. These are environment-specific probes,
// not core logic; override them via Options when a deployment uses
// different markup.
var (
	DefaultUsernameSelectors = []string{
		`input[name="username"]`,
		`input[placeholder*="用户名"]`,
		`input[placeholder*="账号"]`,
		`input[type="text"]`,
	}
	DefaultPasswordSelectors = []string{
		`input[name="password"]`,
		`input[type="password"]`,
	}
	DefaultLoginSelectors = []string{
		`button[type="submit"]`,
		`//button[contains(., "登录")]`,
		`//button[contains(., "登 录")]`,
		`//button[contains(., "Login")]`,
		`.login-btn`,
	}
	DefaultCheckinSelectors = []string{
		`//button[contains(., "签到")]`,
		`//button[contains(., "Sign")]`,
		`//button[contains(., "Check")]`,
		`[class*="checkin"]`,
		`[class*="sign"]`,
	}
)

// alreadyCheckedPhrases are the known upstream phrasings for an
// idempotent "already checked in today" outcome.
var alreadyCheckedPhrases = []string{"已签到", "已经签到", "already checked"}

// Options tunes the workflow's probing behavior. Proxy and
// RemoteDebugEndpoint are the global settings values; a per-account
// value overrides them.
type Options struct {
	Headless            bool
	Proxy               string
	RemoteDebugEndpoint string
	AuthDeadline        time.Duration // bounded wait for local login confirmation
	PollInterval        time.Duration
	UsernameSelectors   []string
	PasswordSelectors   []string
	LoginSelectors      []string
	CheckinSelectors    []string
}

func (o *Options) setDefaults() {
	if o.AuthDeadline <= 0 {
		o.AuthDeadline = 30 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if len(o.UsernameSelectors) == 0 {
		o.UsernameSelectors = DefaultUsernameSelectors
	}
	if len(o.PasswordSelectors) == 0 {
		o.PasswordSelectors = DefaultPasswordSelectors
	}
	if len(o.LoginSelectors) == 0 {
		o.LoginSelectors = DefaultLoginSelectors
	}
	if len(o.CheckinSelectors) == 0 {
		o.CheckinSelectors = DefaultCheckinSelectors
	}
}

// Workflow runs the login -> checkin -> read-balance sequence for one
// account through a SessionDriver capability.
type Workflow struct {
	driver interfaces.SessionDriver
	logger arbor.ILogger
	opts   Options
}

// New creates a workflow bound to a driver.
func New(driver interfaces.SessionDriver, logger arbor.ILogger, opts Options) *Workflow {
	opts.setDefaults()
	return &Workflow{
		driver: driver,
		logger: logger,
		opts:   opts,
	}
}

// Run processes one account end to end and always returns a result;
// failures of any kind are folded into a failed AccountResult with
// whatever partial data was captured before the failure.
func (w *Workflow) Run(ctx context.Context, site models.SiteDescriptor, account models.Account) (result models.AccountResult) {
	result = models.AccountResult{
		AccountKey: models.AccountKey(site, account.Username),
		Username:   strings.TrimSpace(account.Username),
		Site:       site.Name,
		BaseURL:    site.BaseURL,
		AuthMode:   site.AuthMode,
	}
	state := StateIdle

	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			w.logger.Error().
				Str("account", result.Label()).
				Str("state", string(state)).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(buf[:n])).
				Msg("Recovered from panic in checkin workflow")
			w.abort(&result, &state, fmt.Errorf("panic in state %s: %v", state, r))
		}
		result.CompletedAt = time.Now()
	}()

	if result.Username == "" {
		w.abort(&result, &state, ErrMissingCredentials)
		return result
	}
	if site.AuthMode == models.AuthModeLocal && strings.TrimSpace(account.Password) == "" {
		w.abort(&result, &state, ErrMissingCredentials)
		return result
	}

	savedState := w.loadSavedSession(site)

	session, err := w.driver.Open(ctx, site, interfaces.SessionOptions{
		Proxy:               firstNonEmpty(account.Proxy, w.opts.Proxy),
		RemoteDebugEndpoint: firstNonEmpty(account.RemoteDebugEndpoint, w.opts.RemoteDebugEndpoint),
		Headless:            w.opts.Headless,
		SavedState:          savedState,
	})
	if err != nil {
		w.abort(&result, &state, fmt.Errorf("failed to open session: %w", err))
		return result
	}
	// Single release point for the session, taken on every exit path.
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			w.logger.Warn().Err(closeErr).Str("account", result.Label()).Msg("Failed to close session")
		}
	}()

	state = StateAuthenticating
	if err := w.authenticate(ctx, session, site, account, savedState != nil); err != nil {
		w.abort(&result, &state, err)
		return result
	}
	state = StateAuthenticated

	w.persistSession(ctx, session, site)

	before, beforeOK := w.readUserInfo(ctx, session, site)
	if beforeOK {
		result.UserID = before.ID
		result.QuotaRemaining = before.Quota
	}
	result.Tokens = w.readTokens(ctx, session, site)

	state = StateCheckingIn
	note, err := w.performCheckin(ctx, session, site)
	if err != nil {
		w.abort(&result, &state, err)
		return result
	}
	result.Success = true
	result.Note = note

	if after, ok := w.readUserInfo(ctx, session, site); ok {
		result.QuotaRemaining = after.Quota
		if beforeOK {
			result.QuotaDelta = after.Quota - before.Quota
		}
		if result.UserID == 0 {
			result.UserID = after.ID
		}
	}
	if refreshed := w.readTokens(ctx, session, site); len(refreshed) > 0 {
		result.Tokens = refreshed
	}

	state = StateDone
	w.logger.Info().
		Str("account", result.Label()).
		Int64("quota", result.QuotaRemaining).
		Int64("quota_delta", result.QuotaDelta).
		Int("tokens", len(result.Tokens)).
		Msg("Check-in completed")

	return result
}

// abort moves the state machine to its terminal failure state.
func (w *Workflow) abort(result *models.AccountResult, state *State, err error) {
	*state = StateAborted
	result.Success = false
	result.FailureReason = err.Error()
	w.logger.Warn().
		Str("account", result.Label()).
		Err(err).
		Msg("Check-in failed")
}

// authenticate runs the auth sub-protocol for the site's mode and
// returns once the session is confirmed authenticated.
func (w *Workflow) authenticate(ctx context.Context, session interfaces.Session, site models.SiteDescriptor, account models.Account, resumed bool) error {
	if site.AuthMode == models.AuthModeOAuthDelegate {
		return w.authenticateDelegate(ctx, session, site)
	}
	return w.authenticateLocal(ctx, session, site, account, resumed)
}

func (w *Workflow) authenticateLocal(ctx context.Context, session interfaces.Session, site models.SiteDescriptor, account models.Account, resumed bool) error {
	// A resumed session may already be logged in; probe before
	// touching the login form.
	if resumed {
		if ok, err := session.EvaluateAuthenticated(ctx, site.URL(site.UserAPIPath)); err == nil && ok {
			w.logger.Debug().Str("account", account.Username).Msg("Resumed session still authenticated, skipping login")
			return nil
		}
	}

	if err := session.Navigate(ctx, site.LoginURL(), w.opts.UsernameSelectors[0]); err != nil {
		return fmt.Errorf("%w: login page unreachable: %s", ErrAuthFailed, err)
	}

	if err := session.Fill(ctx, w.opts.UsernameSelectors, account.Username); err != nil {
		return fmt.Errorf("%w: username field: %s", ErrAuthFailed, err)
	}
	if err := session.Fill(ctx, w.opts.PasswordSelectors, account.Password); err != nil {
		return fmt.Errorf("%w: password field: %s", ErrAuthFailed, err)
	}

	act, err := session.FindAndAct(ctx, w.opts.LoginSelectors, interfaces.ActionClick)
	if err != nil || !act.Acted {
		// Fall back to the login API from inside the page; the site
		// exposes it for the form anyway.
		w.logger.Debug().Str("account", account.Username).Msg("Login button not actionable, falling back to login API")
		payload := map[string]string{"username": account.Username, "password": account.Password}
		response, apiErr := session.CallAPI(ctx, site.URL("/api/user/login"), "POST", payload)
		if apiErr != nil {
			return fmt.Errorf("%w: login call: %s", ErrAuthFailed, apiErr)
		}
		if ok, message := successFlag(response); !ok {
			return fmt.Errorf("%w: %s", ErrAuthFailed, orUnknown(message))
		}
		return nil
	}

	return w.awaitLocalLogin(ctx, session, site)
}

// awaitLocalLogin polls for either a URL transition to the console
// path or a positive authenticated-probe, whichever observes first,
// within a bounded deadline.
func (w *Workflow) awaitLocalLogin(ctx context.Context, session interfaces.Session, site models.SiteDescriptor) error {
	deadline := time.Now().Add(w.opts.AuthDeadline)
	probeURL := site.URL(site.UserAPIPath)

	for {
		if current, err := session.CurrentURL(ctx); err == nil {
			if strings.HasPrefix(current, site.ConsoleURL()) {
				return nil
			}
		}
		if ok, err := session.EvaluateAuthenticated(ctx, probeURL); err == nil && ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: login not confirmed within %s", ErrAuthFailed, w.opts.AuthDeadline)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrAuthFailed, ctx.Err())
		case <-time.After(w.opts.PollInterval):
		}
	}
}

// authenticateDelegate resumes a saved session when possible and only
// falls back to the interactive delegate-authorization path, which
// needs a visible browser and a human within the manual-auth timeout.
func (w *Workflow) authenticateDelegate(ctx context.Context, session interfaces.Session, site models.SiteDescriptor) error {
	probeURL := site.URL(site.UserAPIPath)

	if ok, err := session.EvaluateAuthenticated(ctx, probeURL); err == nil && ok {
		w.logger.Debug().Str("site", site.Name).Msg("Saved session resumed")
		return nil
	}

	if w.opts.Headless {
		// Fail fast rather than waiting out the manual timeout; the
		// operator has to rerun with a visible browser.
		return ErrHumanInterventionRequired
	}

	if err := session.Navigate(ctx, site.URL(site.OAuthEntryPath), ""); err != nil {
		return fmt.Errorf("%w: oauth entry unreachable: %s", ErrAuthFailed, err)
	}

	if site.OAuthButtonLabel != "" {
		candidates := []string{fmt.Sprintf(`//button[contains(., %q)]`, site.OAuthButtonLabel)}
		if _, err := session.FindAndAct(ctx, candidates, interfaces.ActionClick); err != nil {
			w.logger.Debug().Err(err).Msg("OAuth entry button not clicked, waiting for manual completion anyway")
		}
	}

	w.logger.Info().
		Str("site", site.Name).
		Dur("timeout", site.ManualAuthTimeout).
		Msg("Waiting for delegate authorization to be completed in the browser")

	deadline := time.Now().Add(site.ManualAuthTimeout)
	for {
		if ok, err := session.EvaluateAuthenticated(ctx, probeURL); err == nil && ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: delegate authorization not completed within %s", ErrAuthFailed, site.ManualAuthTimeout)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrAuthFailed, ctx.Err())
		case <-time.After(w.opts.PollInterval):
		}
	}
}

// performCheckin tries the UI control first and falls back to the
// check-in endpoint. A disabled control or an "already checked in"
// response both count as success: re-runs are idempotent.
func (w *Workflow) performCheckin(ctx context.Context, session interfaces.Session, site models.SiteDescriptor) (note string, err error) {
	if err := session.Navigate(ctx, site.ConsoleURL(), ""); err != nil {
		w.logger.Debug().Err(err).Msg("Console navigation failed, continuing with API check-in")
		return w.apiCheckin(ctx, session, site)
	}

	act, actErr := session.FindAndAct(ctx, w.opts.CheckinSelectors, interfaces.ActionClick)
	switch {
	case actErr == nil && act.Acted:
		// Click landed. The UI gives no machine-readable confirmation;
		// absence of a negative signal is treated as success.
		return "check-in result not confirmed by UI", nil
	case actErr == nil && act.Found && !act.Enabled && isAlreadyChecked(act.Label):
		w.logger.Info().Str("site", site.Name).Msg("Already checked in today")
		return "already checked in", nil
	default:
		return w.apiCheckin(ctx, session, site)
	}
}

func (w *Workflow) apiCheckin(ctx context.Context, session interfaces.Session, site models.SiteDescriptor) (string, error) {
	response, err := session.CallAPI(ctx, site.URL(site.CheckinAPIPath), "POST", nil)
	if err != nil {
		return "", fmt.Errorf("checkin call failed: %w", err)
	}

	ok, message := successFlag(response)
	if ok {
		return "", nil
	}
	if isAlreadyChecked(message) {
		w.logger.Info().Str("site", site.Name).Msg("Already checked in today")
		return "already checked in", nil
	}
	return "", fmt.Errorf("checkin rejected: %s", orUnknown(message))
}

// userInfo is the subset of the user endpoint needed for reporting.
type userInfo struct {
	ID    int64
	Quota int64
}

// readUserInfo is best-effort; absence of data never fails the run.
func (w *Workflow) readUserInfo(ctx context.Context, session interfaces.Session, site models.SiteDescriptor) (userInfo, bool) {
	response, err := session.CallAPI(ctx, site.URL(site.UserAPIPath), "GET", nil)
	if err != nil {
		w.logger.Debug().Err(err).Msg("User info unavailable")
		return userInfo{}, false
	}

	body, ok := response.(map[string]any)
	if !ok {
		return userInfo{}, false
	}
	if success, _ := body["success"].(bool); !success {
		return userInfo{}, false
	}
	data, ok := body["data"].(map[string]any)
	if !ok {
		return userInfo{}, false
	}

	info := userInfo{
		ID:    asInt64(data["id"]),
		Quota: asInt64(data["quota"]),
	}
	return info, true
}

// readTokens is best-effort; any payload shape degrades to an empty
// list via the normalizer.
func (w *Workflow) readTokens(ctx context.Context, session interfaces.Session, site models.SiteDescriptor) []models.TokenRecord {
	if site.TokensAPIPath == "" {
		return nil
	}
	response, err := session.CallAPI(ctx, site.URL(site.TokensAPIPath), "GET", nil)
	if err != nil {
		w.logger.Debug().Err(err).Msg("Token list unavailable")
		return nil
	}
	return tokens.Normalize(response)
}

// loadSavedSession reads the saved session blob when the site has one
// configured and the file exists.
func (w *Workflow) loadSavedSession(site models.SiteDescriptor) []byte {
	if site.SavedSessionPath == "" {
		return nil
	}
	blob, err := os.ReadFile(site.SavedSessionPath)
	if err != nil {
		return nil
	}
	return blob
}

// persistSession saves a refreshed session blob for future reuse.
// Best-effort: failure to persist never fails the account.
func (w *Workflow) persistSession(ctx context.Context, session interfaces.Session, site models.SiteDescriptor) {
	if site.SavedSessionPath == "" {
		return
	}
	blob, err := session.SaveState(ctx)
	if err != nil || len(blob) == 0 {
		w.logger.Debug().Err(err).Msg("Session state not saved")
		return
	}
	if err := os.WriteFile(site.SavedSessionPath, blob, 0600); err != nil {
		w.logger.Warn().Err(err).Str("path", site.SavedSessionPath).Msg("Failed to write session state")
	}
}

// successFlag interprets the common {success, message} envelope.
func successFlag(response any) (bool, string) {
	body, ok := response.(map[string]any)
	if !ok {
		return false, ""
	}
	success, _ := body["success"].(bool)
	message, _ := body["message"].(string)
	return success, message
}

func isAlreadyChecked(message string) bool {
	for _, phrase := range alreadyCheckedPhrases {
		if phrase != "" && strings.Contains(strings.ToLower(message), strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func orUnknown(message string) string {
	if message == "" {
		return "unknown error"
	}
	return message
}

func asInt64(value any) int64 {
	switch v := value.(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}
