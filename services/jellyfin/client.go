package jellyfin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sony/gobreaker"
)

//go:generate mockgen -destination=jellyfinmock/mock_api.go -package=jellyfinmock jelly/services/jellyfin API

const (
	clientName    = "Jelly"
	clientVersion = "1.0.0"
	pageSize      = 500
)

var (
	ErrUnauthorized = errors.New("jellyfin rejected the credentials")
	ErrNotFound     = errors.New("jellyfin item not found")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("jellyfin request failed: %s - %s", e.Status, e.Body)
}

func (e *StatusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// SystemInfo is the subset of /System/Info we use.
type SystemInfo struct {
	ID         string `json:"Id"`
	ServerName string `json:"ServerName"`
	Version    string `json:"Version"`
}

// VirtualFolder is a library as returned by /Library/VirtualFolders.
type VirtualFolder struct {
	Name           string   `json:"Name"`
	CollectionType string   `json:"CollectionType"`
	ItemID         string   `json:"ItemId"`
	Locations      []string `json:"Locations"`
}

// Item is a library item.
type Item struct {
	ID                string            `json:"Id"`
	Name              string            `json:"Name"`
	Type              string            `json:"Type"` // Movie | Series | Episode
	ProductionYear    int               `json:"ProductionYear"`
	ProviderIDs       map[string]string `json:"ProviderIds"`
	ParentIndexNumber *int              `json:"ParentIndexNumber"`
	IndexNumber       *int              `json:"IndexNumber"`
	DateCreated       *time.Time        `json:"DateCreated"`
	ImageTags         map[string]string `json:"ImageTags"`
}

// TMDBID returns the TMDB provider id of the item, or 0.
func (i Item) TMDBID() int64 {
	for k, v := range i.ProviderIDs {
		if strings.EqualFold(k, "tmdb") {
			id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err == nil {
				return id
			}
		}
	}
	return 0
}

// User is a media server account.
type User struct {
	ID            string     `json:"Id"`
	Name          string     `json:"Name"`
	LastLoginDate *time.Time `json:"LastLoginDate"`
	Policy        struct {
		IsAdministrator bool `json:"IsAdministrator"`
		IsDisabled      bool `json:"IsDisabled"`
	} `json:"Policy"`
}

// AuthResult is returned by AuthenticateByName.
type AuthResult struct {
	User        User   `json:"User"`
	AccessToken string `json:"AccessToken"`
}

type itemsResponse struct {
	Items            []Item `json:"Items"`
	TotalRecordCount int    `json:"TotalRecordCount"`
}

// API is the media server surface used by Jelly.
type API interface {
	SystemInfo(ctx context.Context) (SystemInfo, error)
	VirtualFolders(ctx context.Context) ([]VirtualFolder, error)
	Items(ctx context.Context, parentID string, itemTypes ...string) ([]Item, error)
	Episodes(ctx context.Context, seriesID string, season int) ([]Item, error)
	Users(ctx context.Context) ([]User, error)
	CreateUser(ctx context.Context, name, password string) (User, error)
	AuthenticateByName(ctx context.Context, username, password string) (AuthResult, error)
}

// Client talks to a Jellyfin server with an API key, behind a circuit breaker.
type Client struct {
	baseURL  string
	apiKey   string
	deviceID string
	httpc    *http.Client
	breaker  *gobreaker.CircuitBreaker
}

var _ API = (*Client)(nil)

// NewClient builds a client for baseURL. httpc may be nil.
func NewClient(baseURL, apiKey string, httpc *http.Client) *Client {
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	st := gobreaker.Settings{
		Name:        "jellyfin",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// Client errors mean the server is up.
			var se *StatusError
			if errors.As(err, &se) {
				return !se.retryable()
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[jellyfin] circuit breaker %s: %s -> %s", name, from, to)
		},
	}
	return &Client{
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:   strings.TrimSpace(apiKey),
		deviceID: "jelly-backend",
		httpc:    httpc,
		breaker:  gobreaker.NewCircuitBreaker(st),
	}
}

// BaseURL returns the normalised server URL.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) authorizationHeader(token string) string {
	h := fmt.Sprintf(`MediaBrowser Client="%s", Device="%s", DeviceId="%s", Version="%s"`, clientName, clientName, c.deviceID, clientVersion)
	if token != "" {
		h += fmt.Sprintf(`, Token="%s"`, token)
	}
	return h
}

// doJSON performs a request with retries on transient failures and decodes the response into out.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		payload = b
	}
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	return retry.Do(
		func() error {
			_, err := c.breaker.Execute(func() (interface{}, error) {
				return nil, c.once(ctx, method, endpoint, payload, out)
			})
			return err
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(300*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.retryable()
			}
			return !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("[jellyfin] %s %s failed (attempt %d/3): %v", method, path, n+1, err)
		}),
	)
}

func (c *Client) once(ctx context.Context, method, endpoint string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Emby-Token", c.apiKey)
	req.Header.Set("X-Emby-Authorization", c.authorizationHeader(c.apiKey))
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("jellyfin api request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Code: resp.StatusCode, Status: resp.Status, Body: strings.TrimSpace(string(b))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) SystemInfo(ctx context.Context) (SystemInfo, error) {
	var info SystemInfo
	err := c.doJSON(ctx, http.MethodGet, "/System/Info", nil, nil, &info)
	return info, err
}

func (c *Client) VirtualFolders(ctx context.Context) ([]VirtualFolder, error) {
	var folders []VirtualFolder
	if err := c.doJSON(ctx, http.MethodGet, "/Library/VirtualFolders", nil, nil, &folders); err != nil {
		return nil, err
	}
	return folders, nil
}

// Items lists every item under parentID, following pagination.
func (c *Client) Items(ctx context.Context, parentID string, itemTypes ...string) ([]Item, error) {
	if len(itemTypes) == 0 {
		itemTypes = []string{"Movie", "Series"}
	}
	var all []Item
	for start := 0; ; start += pageSize {
		q := url.Values{}
		q.Set("ParentId", parentID)
		q.Set("Recursive", "true")
		q.Set("IncludeItemTypes", strings.Join(itemTypes, ","))
		q.Set("Fields", "ProviderIds,ProductionYear,DateCreated")
		q.Set("StartIndex", strconv.Itoa(start))
		q.Set("Limit", strconv.Itoa(pageSize))

		var page itemsResponse
		if err := c.doJSON(ctx, http.MethodGet, "/Items", q, nil, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if len(page.Items) < pageSize || len(all) >= page.TotalRecordCount {
			return all, nil
		}
	}
}

func (c *Client) Episodes(ctx context.Context, seriesID string, season int) ([]Item, error) {
	q := url.Values{}
	q.Set("season", strconv.Itoa(season))
	q.Set("Fields", "ProviderIds")
	var page itemsResponse
	err := c.doJSON(ctx, http.MethodGet, "/Shows/"+url.PathEscape(seriesID)+"/Episodes", q, nil, &page)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return page.Items, nil
}

func (c *Client) Users(ctx context.Context) ([]User, error) {
	var users []User
	if err := c.doJSON(ctx, http.MethodGet, "/Users", nil, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) CreateUser(ctx context.Context, name, password string) (User, error) {
	var user User
	body := map[string]string{"Name": name, "Password": password}
	err := c.doJSON(ctx, http.MethodPost, "/Users/New", nil, body, &user)
	return user, err
}

// AuthenticateByName logs a user in with its own credentials. It bypasses the
// API key so that a wrong password surfaces as ErrUnauthorized.
func (c *Client) AuthenticateByName(ctx context.Context, username, password string) (AuthResult, error) {
	payload, err := json.Marshal(map[string]string{"Username": username, "Pw": password})
	if err != nil {
		return AuthResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/Users/AuthenticateByName", bytes.NewReader(payload))
	if err != nil {
		return AuthResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Emby-Authorization", c.authorizationHeader(""))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return AuthResult{}, fmt.Errorf("jellyfin api request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return AuthResult{}, ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return AuthResult{}, &StatusError{Code: resp.StatusCode, Status: resp.Status, Body: strings.TrimSpace(string(b))}
	}

	var result AuthResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return AuthResult{}, fmt.Errorf("decode response: %w", err)
	}
	return result, nil
}

// StreamURLs builds direct play and HLS URLs for an item. startSeconds is
// converted to Jellyfin ticks (100ns).
func StreamURLs(baseURL, apiKey, itemID string, startSeconds float64) (direct, hls string) {
	base := strings.TrimRight(baseURL, "/") + "/Videos/" + url.PathEscape(itemID)

	dq := url.Values{}
	dq.Set("static", "true")
	dq.Set("api_key", apiKey)

	hq := url.Values{}
	hq.Set("api_key", apiKey)
	hq.Set("MediaSourceId", itemID)
	hq.Set("VideoCodec", "h264")
	hq.Set("AudioCodec", "aac")
	if startSeconds > 0 {
		ticks := strconv.FormatInt(int64(startSeconds*10_000_000), 10)
		dq.Set("StartTimeTicks", ticks)
		hq.Set("StartTimeTicks", ticks)
	}
	return base + "/stream?" + dq.Encode(), base + "/master.m3u8?" + hq.Encode()
}
