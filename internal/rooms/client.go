// Package rooms provisions video rooms and meeting tokens with Daily.co.
package rooms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/telehealth-consult/internal/metrics"
)

const providerName = "daily"

var tracer = otel.Tracer("telehealth.internal.rooms")

var (
	// ErrNotConfigured is returned before any request when the API key is missing.
	ErrNotConfigured = errors.New("Daily.co API key not configured")
	ErrRoomNotFound  = errors.New("room not found")
)

// Room is the provider's view of a room.
type Room struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	URL        string         `json:"url"`
	Privacy    string         `json:"privacy"`
	CreatedAt  string         `json:"created_at,omitempty"`
	Properties RoomProperties `json:"config"`
}

// RoomProperties mirrors the subset of room config we set and read back.
type RoomProperties struct {
	Exp             *int64 `json:"exp,omitempty"`
	EnablePrejoinUI bool   `json:"enable_prejoin_ui"`
	EnableKnocking  bool   `json:"enable_knocking"`
	EnableChat      bool   `json:"enable_chat"`
}

type createRoomRequest struct {
	Name       string         `json:"name"`
	Privacy    string         `json:"privacy"`
	Properties RoomProperties `json:"properties"`
}

type tokenRequest struct {
	Properties tokenProperties `json:"properties"`
}

type tokenProperties struct {
	RoomName string `json:"room_name"`
	UserID   string `json:"user_id"`
	IsOwner  bool   `json:"is_owner"`
	Exp      int64  `json:"exp,omitempty"`
}

type providerError struct {
	Error string `json:"error"`
	Info  string `json:"info"`
}

// Client calls the Daily REST API with a bearer key.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	metrics    *metrics.Metrics
	tokenTTL   time.Duration
	now        func() time.Time
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTokenTTL bounds how long minted meeting tokens stay valid.
func WithTokenTTL(d time.Duration) Option {
	return func(c *Client) { c.tokenTTL = d }
}

func NewClient(apiKey, baseURL string, opts ...Option) *Client {
	c := &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		tokenTTL:   2 * time.Hour,
		now:        time.Now,
	}
	if c.baseURL == "" {
		c.baseURL = "https://api.daily.co/v1"
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether calls will be attempted at all.
func (c *Client) Configured() bool {
	return c != nil && c.apiKey != ""
}

// CreateRoom creates a private room. The provider's prejoin and knocking UIs
// stay off: admission happens in our waiting room, not theirs.
func (c *Client) CreateRoom(ctx context.Context, name string, expiresAt *int64) (*Room, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	body := createRoomRequest{
		Name:    name,
		Privacy: "private",
		Properties: RoomProperties{
			Exp:             expiresAt,
			EnablePrejoinUI: false,
			EnableKnocking:  false,
			EnableChat:      true,
		},
	}

	var room Room
	status, msg, err := c.do(ctx, "create_room", http.MethodPost, "/rooms", body, &room)
	if err != nil {
		return nil, fmt.Errorf("create failed: %w", err)
	}
	if status >= 300 {
		return nil, fmt.Errorf("create failed: %s", msg)
	}
	return &room, nil
}

// GetRoom fetches a room by name.
func (c *Client) GetRoom(ctx context.Context, name string) (*Room, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	var room Room
	status, msg, err := c.do(ctx, "get_room", http.MethodGet, "/rooms/"+url.PathEscape(name), nil, &room)
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}
	if status == http.StatusNotFound {
		return nil, ErrRoomNotFound
	}
	if status >= 300 {
		return nil, fmt.Errorf("get room failed: %s", msg)
	}
	return &room, nil
}

// DeleteRoom removes a room. A room that is already gone counts as deleted.
func (c *Client) DeleteRoom(ctx context.Context, name string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	status, msg, err := c.do(ctx, "delete_room", http.MethodDelete, "/rooms/"+url.PathEscape(name), nil, nil)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	if status == http.StatusNotFound {
		return nil
	}
	if status >= 300 {
		return fmt.Errorf("delete failed: %s", msg)
	}
	return nil
}

// GetToken mints a meeting token for userID. Owners get the provider's
// elevated privileges in the room.
func (c *Client) GetToken(ctx context.Context, roomName, userID string, isOwner bool) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	body := tokenRequest{Properties: tokenProperties{
		RoomName: roomName,
		UserID:   userID,
		IsOwner:  isOwner,
		Exp:      c.now().Add(c.tokenTTL).Unix(),
	}}

	var out struct {
		Token string `json:"token"`
	}
	status, msg, err := c.do(ctx, "meeting_token", http.MethodPost, "/meeting-tokens", body, &out)
	if err != nil {
		return "", fmt.Errorf("get token: %w", err)
	}
	if status >= 300 {
		return "", fmt.Errorf("token failed: %s", msg)
	}
	if out.Token == "" {
		return "", errors.New("token failed: empty token in response")
	}
	return out.Token, nil
}

// do sends one request. Non-2xx statuses are not errors here: the provider
// message is returned for the caller to wrap.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) (int, string, error) {
	ctx, span := tracer.Start(ctx, "rooms."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("http.method", method), attribute.String("rooms.path", path))

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, "", fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		c.metrics.ObserveProvider(providerName, op, "error", time.Since(start).Seconds())
		return 0, "", err
	}
	defer resp.Body.Close()
	c.metrics.ObserveProvider(providerName, op, strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		span.SetStatus(codes.Error, resp.Status)
		return resp.StatusCode, providerMessage(resp.StatusCode, raw), nil
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, "", fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, "", nil
}

func providerMessage(status int, raw []byte) string {
	var pe providerError
	if err := json.Unmarshal(raw, &pe); err == nil {
		switch {
		case pe.Info != "":
			return pe.Info
		case pe.Error != "":
			return pe.Error
		}
	}
	if msg := strings.TrimSpace(string(raw)); msg != "" {
		return msg
	}
	return http.StatusText(status)
}
