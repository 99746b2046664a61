// Package wweb drives the web messaging client through a real browser.
//
// It implements the opaque automation capability the session layer builds
// on: open a client, surface the scannable login code, check login state,
// resolve a chat by phone number and push text into it.
package wweb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	logx "hermes/pkg/logx"
)

const clientURL = "https://web.whatsapp.com/"

// Selectors tracked against the current web client markup. They are the
// only thing expected to rot when the client ships a redesign.
const (
	selQRCanvas  = `canvas[aria-label]`
	selQRRef     = `div[data-ref]`
	selChatList  = `#side`
	selComposer  = `footer div[contenteditable="true"]`
	selBadNumber = `div[data-animate-modal-popup="true"]`
)

// ErrChatUnavailable means the phone number does not resolve to a chat.
var ErrChatUnavailable = errors.New("wweb: chat unavailable for number")

type Config struct {
	// ControlURL attaches to a running browser's DevTools endpoint.
	// Empty means launch a browser locally.
	ControlURL string
	// Bin overrides the local launcher's browser binary.
	Bin      string
	Headless bool
	// NavigationTimeout bounds page loads and element waits. Default 45s.
	NavigationTimeout time.Duration
}

func (c Config) navTimeout() time.Duration {
	if c.NavigationTimeout <= 0 {
		return 45 * time.Second
	}
	return c.NavigationTimeout
}

// Driver opens fresh automation clients. One Driver serves all operators;
// each Open returns an isolated Client owning its own browser.
type Driver struct {
	cfg Config
	log logx.Logger
}

func NewDriver(cfg Config, log logx.Logger) *Driver {
	return &Driver{cfg: cfg, log: log}
}

// Open starts a browser, navigates to the messaging client and returns a
// Client sitting on the login screen.
func (d *Driver) Open(ctx context.Context) (*Client, error) {
	var (
		controlURL = d.cfg.ControlURL
		launch     *launcher.Launcher
	)
	if controlURL == "" {
		l := launcher.New().Headless(d.cfg.Headless)
		if d.cfg.Bin != "" {
			l = l.Bin(d.cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("wweb: launch browser: %w", err)
		}
		controlURL = u
		launch = l
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		if launch != nil {
			launch.Kill()
		}
		return nil, fmt.Errorf("wweb: connect browser: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: clientURL})
	if err != nil {
		_ = browser.Close()
		if launch != nil {
			launch.Kill()
		}
		return nil, fmt.Errorf("wweb: open client page: %w", err)
	}
	if err := page.Context(ctx).Timeout(d.cfg.navTimeout()).WaitLoad(); err != nil {
		_ = browser.Close()
		if launch != nil {
			launch.Kill()
		}
		return nil, fmt.Errorf("wweb: load client page: %w", err)
	}

	d.log.Debug("client opened", logx.Bool("headless", d.cfg.Headless), logx.Bool("attached", launch == nil))
	return &Client{cfg: d.cfg, log: d.log, browser: browser, page: page, launch: launch}, nil
}

// Client is one live browser-driven messaging client. Not safe for
// concurrent use: it models a single logical connection.
type Client struct {
	cfg Config
	log logx.Logger

	browser *rod.Browser
	page    *rod.Page
	launch  *launcher.Launcher

	closeOnce sync.Once
	closeErr  error
}

// QR captures the scannable login code as PNG bytes. The image only ever
// lives in memory; nothing touches disk.
func (c *Client) QR(ctx context.Context) ([]byte, error) {
	page := c.page.Context(ctx).Timeout(c.cfg.navTimeout())

	el, err := page.Element(selQRCanvas)
	if err != nil {
		// Older markup exposes the code via a data-ref container.
		el, err = page.Element(selQRRef)
		if err != nil {
			return nil, fmt.Errorf("wweb: login code not found: %w", err)
		}
	}
	png, err := el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return nil, fmt.Errorf("wweb: capture login code: %w", err)
	}
	return png, nil
}

// IsLoggedIn reports whether the operator has completed the scan. A wait
// that merely times out is "not yet", not an error.
func (c *Client) IsLoggedIn(ctx context.Context) (bool, error) {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.page.Context(checkCtx).Element(selChatList)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return false, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return false, fmt.Errorf("wweb: login check: %w", err)
}

// HasChat reports whether the number resolves to a real chat.
func (c *Client) HasChat(ctx context.Context, phone string) (bool, error) {
	err := c.openChat(ctx, phone)
	if errors.Is(err, ErrChatUnavailable) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SendText resolves the chat for the number and types the message into the
// composer. Returning nil means the text was handed off to the client, not
// that the recipient received it.
func (c *Client) SendText(ctx context.Context, phone, text string) error {
	if err := c.openChat(ctx, phone); err != nil {
		return err
	}
	page := c.page.Context(ctx).Timeout(c.cfg.navTimeout())

	composer, err := page.Element(selComposer)
	if err != nil {
		return fmt.Errorf("wweb: composer not found: %w", err)
	}
	if err := composer.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("wweb: focus composer: %w", err)
	}

	// The composer is a contenteditable div; a newline submits. Send the
	// body line by line with shift-enter between them.
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if i > 0 {
			if err := page.Keyboard.Press(input.ShiftLeft); err != nil {
				return fmt.Errorf("wweb: type message: %w", err)
			}
			if err := page.Keyboard.Type(input.Enter); err != nil {
				return fmt.Errorf("wweb: type message: %w", err)
			}
			if err := page.Keyboard.Release(input.ShiftLeft); err != nil {
				return fmt.Errorf("wweb: type message: %w", err)
			}
		}
		if line == "" {
			continue
		}
		if err := page.InsertText(line); err != nil {
			return fmt.Errorf("wweb: type message: %w", err)
		}
	}

	if err := page.Keyboard.Type(input.Enter); err != nil {
		return fmt.Errorf("wweb: submit message: %w", err)
	}
	return nil
}

// openChat drives the send?phone= deep link and waits for either the
// composer or the unknown-number popup.
func (c *Client) openChat(ctx context.Context, phone string) error {
	page := c.page.Context(ctx).Timeout(c.cfg.navTimeout())

	if err := page.Navigate(clientURL + "send?phone=" + phone); err != nil {
		return fmt.Errorf("wweb: open chat %s: %w", phone, err)
	}

	found := ""
	_, err := page.Race().
		Element(selComposer).MustHandle(func(*rod.Element) { found = "composer" }).
		Element(selBadNumber).MustHandle(func(*rod.Element) { found = "popup" }).
		Do()
	if err != nil {
		return fmt.Errorf("wweb: open chat %s: %w", phone, err)
	}
	if found == "popup" {
		return fmt.Errorf("%w: %s", ErrChatUnavailable, phone)
	}
	return nil
}

// Close tears the browser down. Safe to call more than once; only the
// first call does work.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.browser.Close()
		if c.launch != nil {
			c.launch.Kill()
		}
		c.log.Debug("client closed")
	})
	return c.closeErr
}
