// Package portal talks to the participant API the relay pulls recipients
// from. Every call authenticates with a `Credentials` header carrying a
// base64 "username|password" string.
package portal

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const userAgent = "Hermes/1.0"

// ErrBadCredentials is returned by Login when the portal rejects the pair.
var ErrBadCredentials = errors.New("portal: credentials rejected")

type Config struct {
	LoginURL  string
	EventsURL string
	TableURL  string
	Timeout   time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: timeout,
			// The login endpoint answers with redirects for bad sessions;
			// only the raw status code matters.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// EncodeCredentials builds the Credentials header value from a raw pair.
func EncodeCredentials(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + "|" + password))
}

// Login verifies a credential with the portal. Only a 200 means accepted.
func (c *Client) Login(ctx context.Context, creds string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.LoginURL, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req, creds)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("portal login: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return ErrBadCredentials
	}
	return nil
}

// Event is one table the operator may pull recipients from.
type Event struct {
	Table string
	Name  string
}

// Events lists the tables visible to the credential, sorted by display name.
func (c *Client) Events(ctx context.Context, creds string) ([]Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.EventsURL, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, creds)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("portal events: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("portal events: unexpected status %d", resp.StatusCode)
	}

	// The endpoint answers with a {table: display-name} object.
	var raw map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("portal events: decode: %w", err)
	}

	events := make([]Event, 0, len(raw))
	for table, name := range raw {
		events = append(events, Event{Table: table, Name: name})
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Name < events[j].Name })
	return events, nil
}

// Row is one participant record as the portal serves it. Phone may arrive as
// a JSON string or number depending on how the sheet column was typed.
type Row struct {
	ID    int        `json:"id"`
	Name  string     `json:"name"`
	Phone FlexString `json:"phone"`
}

// FlexString decodes a JSON string or number into a string.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	if len(s) > 0 && s[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = FlexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	// Avoid float formatting for large phone numbers.
	if i, err := n.Int64(); err == nil {
		*f = FlexString(strconv.FormatInt(i, 10))
		return nil
	}
	*f = FlexString(n.String())
	return nil
}

// Table fetches every participant row of one event table, in response order.
func (c *Client) Table(ctx context.Context, creds, table string) ([]Row, error) {
	u, err := url.Parse(c.cfg.TableURL)
	if err != nil {
		return nil, fmt.Errorf("portal table: %w", err)
	}
	q := u.Query()
	q.Set("table", table)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, creds)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("portal table %q: %w", table, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("portal table %q: unexpected status %d", table, resp.StatusCode)
	}

	var rows []Row
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("portal table %q: decode: %w", table, err)
	}
	return rows, nil
}

func (c *Client) setHeaders(req *http.Request, creds string) {
	req.Header.Set("Credentials", creds)
	req.Header.Set("User-Agent", userAgent)
}
