package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/example/affiliatebot/internal/config"
	"github.com/example/affiliatebot/internal/logging"
	"github.com/example/affiliatebot/internal/models"
	"github.com/example/affiliatebot/internal/stealth"
)

// ErrNoBrowser means no usable browser binary could be located. This is
// fatal at initialization and never retried.
var ErrNoBrowser = errors.New("no usable browser binary found")

// ErrNotReady means an operation was invoked before initialize/login.
var ErrNotReady = errors.New("browser not initialized or not logged in")

// Status is the driver's readiness snapshot. Pure read, no side effects.
type Status struct {
	Initialized bool `json:"initialized"`
	LoggedIn    bool `json:"loggedIn"`
}

// Driver owns one browser and one page and executes the portal workflow.
// All interactions route through the stealth package; direct unpaced DOM
// manipulation would defeat the point of this component.
type Driver struct {
	cfg *config.Config
	log *logging.Logger

	mu       sync.Mutex
	browser  *rod.Browser
	page     *rod.Page
	loggedIn bool
}

func New(cfg *config.Config) *Driver {
	return &Driver{cfg: cfg, log: logging.New(cfg.Logging.Level).With("module", "driver")}
}

// Initialize launches a browser dressed as a standard desktop client and
// opens the single working page. Any existing instance is torn down first,
// so calling it twice is safe.
func (d *Driver) Initialize(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.browser != nil {
		d.closeLocked()
	}

	bin := d.cfg.Stealth.BrowserBin
	if bin == "" {
		found, ok := launcher.LookPath()
		if !ok {
			return ErrNoBrowser
		}
		bin = found
	}

	l := launcher.New().
		Bin(bin).
		Leakless(false).
		Headless(d.cfg.Stealth.Headless).
		Set("no-sandbox").
		Set("disable-dev-shm-usage").
		Set("disable-background-timer-throttling").
		Set("disable-backgrounding-occluded-windows").
		Set("disable-renderer-backgrounding")

	url, err := l.Launch()
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(url)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect browser: %w", err)
	}
	browser = browser.Context(ctx)

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		return fmt.Errorf("open page: %w", err)
	}

	ua := d.cfg.Stealth.UserAgent
	if ua == "" {
		ua = randomUserAgent()
	}
	platform := "Win32"
	if strings.Contains(ua, "Macintosh") {
		platform = "MacIntel"
	} else if strings.Contains(ua, "Linux") {
		platform = "Linux x86_64"
	}
	_ = proto.EmulationSetUserAgentOverride{UserAgent: ua, Platform: platform}.Call(page)

	w := randRange(d.cfg.Stealth.ViewportWidthMin, d.cfg.Stealth.ViewportWidthMax)
	h := randRange(d.cfg.Stealth.ViewportHeightMin, d.cfg.Stealth.ViewportHeightMax)
	_ = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             w,
		Height:            h,
		DeviceScaleFactor: 1,
		Mobile:            false,
	})

	// Fingerprint masking plus passive behavioral instrumentation on every
	// navigation.
	_, _ = page.EvalOnNewDocument(stealthScript(w, h, platform))
	_, _ = page.EvalOnNewDocument(instrumentationScript())

	d.browser = browser
	d.page = page.Timeout(300 * time.Second)
	d.loggedIn = false
	d.log.Info("browser initialized", "ua", ua, "viewport", fmt.Sprintf("%dx%d", w, h))
	return nil
}

// Login authenticates against the seller portal. Returns true on verified
// success, false when verification fails, and an error when an expected
// page element is missing or interaction breaks.
func (d *Driver) Login(ctx context.Context) (bool, error) {
	d.mu.Lock()
	page := d.page
	d.mu.Unlock()
	if page == nil {
		return false, ErrNotReady
	}

	// Cookie reuse: a saved session avoids retyping credentials entirely.
	if d.loadCookies(page) == nil && d.validateSession(page) {
		d.log.Info("session validated using saved cookies")
		d.setLoggedIn(true)
		return true, nil
	}

	email, password, err := config.Credentials()
	if err != nil {
		return false, err
	}

	if err := stealth.NavigateNaturally(page, d.cfg.Portal.LoginURL); err != nil {
		return false, fmt.Errorf("navigate to login: %w", err)
	}

	emailInput, err := page.Timeout(10 * time.Second).Element(`input[type="email"], input[name="email"]`)
	if err != nil {
		d.screenshotOnError(page, "login_page_fail")
		return false, fmt.Errorf("email input not found: %w", err)
	}
	if err := stealth.TypeHumanLike(emailInput, email); err != nil {
		return false, fmt.Errorf("type email: %w", err)
	}
	stealth.SleepRandom(1000, 2000)

	passwordInput, err := page.Timeout(10 * time.Second).Element(`input[type="password"]`)
	if err != nil {
		return false, fmt.Errorf("password input not found: %w", err)
	}
	if err := stealth.TypeHumanLike(passwordInput, password); err != nil {
		return false, fmt.Errorf("type password: %w", err)
	}
	stealth.SleepRandom(800, 1500)

	submitBtn, err := page.Timeout(10 * time.Second).Element(`button[type="submit"]`)
	if err != nil {
		return false, fmt.Errorf("submit button not found: %w", err)
	}
	if err := stealth.ClickHumanLike(page, submitBtn); err != nil {
		return false, fmt.Errorf("click submit: %w", err)
	}

	// Extended window so a verification challenge can be completed by hand
	// in headful mode.
	if !d.waitForAuthenticated(page, 90*time.Second) {
		d.screenshotOnError(page, "login_verify_fail")
		d.log.Warn("login verification failed", "url", pageURL(page))
		return false, nil
	}

	if err := d.saveCookies(page); err != nil {
		d.log.Warn("save cookies failed", "err", err)
	}
	d.setLoggedIn(true)
	d.log.Info("login successful", "url", pageURL(page))
	return true, nil
}

// waitForAuthenticated polls the page URL against the authenticated
// pattern until the deadline.
func (d *Driver) waitForAuthenticated(page *rod.Page, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		url := pageURL(page)
		if strings.Contains(url, "/dashboard") {
			return true
		}
		if url != "" && !strings.Contains(url, "/login") && !strings.Contains(url, "/account") {
			return true
		}
		stealth.SleepRandom(1500, 3000)
	}
	return false
}

func (d *Driver) validateSession(page *rod.Page) bool {
	if err := page.Navigate(d.cfg.Portal.DashboardURL); err != nil {
		return false
	}
	if err := page.WaitLoad(); err != nil {
		return false
	}
	url := pageURL(page)
	return url != "" && !strings.Contains(url, "/login") && !strings.Contains(url, "/account/login")
}

// FindCreators opens the discovery view and extracts up to limit creator
// summaries. An empty list is not an error; it just means nothing rendered.
func (d *Driver) FindCreators(ctx context.Context, limit int) ([]models.DiscoveredCreator, error) {
	d.mu.Lock()
	page, loggedIn := d.page, d.loggedIn
	d.mu.Unlock()
	if page == nil || !loggedIn {
		return nil, ErrNotReady
	}

	if err := stealth.NavigateNaturally(page, d.cfg.Portal.DiscoveryURL); err != nil {
		return nil, fmt.Errorf("navigate to discovery: %w", err)
	}
	stealth.SleepRandom(2000, 4000)

	if _, err := page.Timeout(15 * time.Second).Element(`.creator-card, [data-testid="creator-card"]`); err != nil {
		d.log.Info("no creator cards rendered", "url", pageURL(page))
		return nil, nil
	}

	// Natural scroll passes to trigger lazy loading
	for i := 0; i < 3; i++ {
		stealth.ScrollNaturally(page, 300)
		stealth.SleepRandom(1000, 2000)
	}
	stealth.MouseIdleMovement(page)

	cards, err := page.Elements(`.creator-card, [data-testid="creator-card"]`)
	if err != nil || len(cards) == 0 {
		return nil, nil
	}

	var out []models.DiscoveredCreator
	for _, card := range cards {
		if len(out) >= limit {
			break
		}
		c := models.DiscoveredCreator{
			Username:  elementText(card, `.username, [data-testid="username"]`),
			Followers: elementText(card, `.followers, [data-testid="followers"]`),
			Category:  elementText(card, `.category, [data-testid="category"]`),
		}
		if c.Username == "" {
			continue
		}
		if c.Followers == "" {
			c.Followers = "0"
		}
		if c.Category == "" {
			c.Category = "Unknown"
		}
		out = append(out, c)
	}
	d.log.Info("creators discovered", "count", len(out))
	return out, nil
}

// SendInvite clicks the invite control for the given handle. A missing
// control is reported as false, not an error, so the caller can account it
// without aborting the loop.
func (d *Driver) SendInvite(ctx context.Context, username string) (bool, error) {
	d.mu.Lock()
	page, loggedIn := d.page, d.loggedIn
	d.mu.Unlock()
	if page == nil || !loggedIn {
		return false, ErrNotReady
	}

	sel := fmt.Sprintf(`button[data-username=%q]`, username)
	btn, err := page.Timeout(10 * time.Second).Element(sel)
	if err != nil {
		// Fallback: invite button inside the card that names the handle
		card, cardErr := page.Timeout(5*time.Second).ElementR(`.creator-card, [data-testid="creator-card"]`, username)
		if cardErr != nil {
			d.log.Warn("invite button not found", "username", username)
			return false, nil
		}
		btn, err = card.ElementR("button", "Invite")
		if err != nil {
			d.log.Warn("invite button not found in card", "username", username)
			return false, nil
		}
	}

	stealth.MouseIdleMovement(page)
	if err := stealth.ClickHumanLike(page, btn); err != nil {
		return false, fmt.Errorf("click invite: %w", err)
	}

	// Settle period for the portal to register the invitation
	stealth.SleepRandom(1000, 2000)
	return true, nil
}

// Status is a pure read of the driver's readiness.
func (d *Driver) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{Initialized: d.browser != nil, LoggedIn: d.loggedIn}
}

// Close releases the page and browser. Closing twice is a no-op.
func (d *Driver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeLocked()
}

func (d *Driver) closeLocked() {
	if d.page != nil {
		_ = d.page.Close()
		d.page = nil
	}
	if d.browser != nil {
		_ = d.browser.Close()
		d.browser = nil
	}
	d.loggedIn = false
}

func (d *Driver) setLoggedIn(v bool) {
	d.mu.Lock()
	d.loggedIn = v
	d.mu.Unlock()
}

func elementText(parent *rod.Element, sel string) string {
	el, err := parent.Timeout(2 * time.Second).Element(sel)
	if err != nil {
		return ""
	}
	text, err := el.Text()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

func pageURL(page *rod.Page) string {
	info, err := page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func randRange(min, max int) int {
	if min >= max {
		return min
	}
	return min + rand.Intn(max-min+1)
}

func randomUserAgent() string {
	uas := []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	}
	return uas[rand.Intn(len(uas))]
}

// Cookie persistence

func cookiesPath() string {
	return filepath.Join(".cache", "cookies.json")
}

func (d *Driver) loadCookies(page *rod.Page) error {
	b, err := os.ReadFile(cookiesPath())
	if err != nil {
		return err
	}
	var cookies []*proto.NetworkCookie
	if err := json.Unmarshal(b, &cookies); err != nil {
		return err
	}
	for _, c := range cookies {
		_, _ = proto.NetworkSetCookie{
			Domain: c.Domain, Name: c.Name, Value: c.Value, Path: c.Path,
			Expires: c.Expires, HTTPOnly: c.HTTPOnly, Secure: c.Secure,
		}.Call(page)
	}
	return nil
}

func (d *Driver) saveCookies(page *rod.Page) error {
	pp := page.Timeout(20 * time.Second)
	cookies, err := proto.StorageGetCookies{}.Call(pp)
	if err != nil {
		time.Sleep(500 * time.Millisecond)
		cookies, err = proto.StorageGetCookies{}.Call(pp)
		if err != nil {
			return err
		}
	}
	b, _ := json.MarshalIndent(cookies.Cookies, "", "  ")
	_ = os.MkdirAll(filepath.Dir(cookiesPath()), 0o755)
	return os.WriteFile(cookiesPath(), b, 0o644)
}

func (d *Driver) screenshotOnError(page *rod.Page, prefix string) {
	path := fmt.Sprintf("%s-%d.png", prefix, time.Now().Unix())
	bts, err := page.Screenshot(true, &proto.PageCaptureScreenshot{})
	if err != nil {
		return
	}
	_ = os.WriteFile(path, bts, 0o644)
	d.log.Info("saved debug screenshot", "path", path)
}
