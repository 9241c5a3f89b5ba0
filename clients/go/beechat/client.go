// Package beechat provides a client for the BEEChat realtime server.
package beechat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

// DefaultTimeout bounds each wait for a server event.
const DefaultTimeout = 10 * time.Second

// ErrNotConnected is returned by websocket calls made before Dial.
var ErrNotConnected = errors.New("beechat: not connected")

// ServerError is an `error` event sent by the server.
type ServerError struct {
	Message string `json:"message"`
}

func (e *ServerError) Error() string {
	return "beechat: " + e.Message
}

// Event is one frame received from the server.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// Client is a BEEChat client. HTTP calls work without Dial; websocket
// calls need one live connection. Reads are not safe for concurrent use.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration

	wmu  sync.Mutex
	conn *websocket.Conn
	dec  *json.Decoder
}

// NewClient creates a new BEEChat client.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:3001"
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Timeout:    DefaultTimeout,
	}
}

// Dial opens the websocket connection.
func (c *Client) Dial(ctx context.Context) error {
	wsURL := "ws" + strings.TrimPrefix(c.BaseURL, "http") + "/ws"
	cfg, err := websocket.NewConfig(wsURL, c.BaseURL)
	if err != nil {
		return fmt.Errorf("beechat: websocket config: %w", err)
	}
	conn, err := cfg.DialContext(ctx)
	if err != nil {
		return fmt.Errorf("beechat: dial %s: %w", wsURL, err)
	}
	c.conn = conn
	c.dec = json.NewDecoder(conn)
	return nil
}

// Close closes the websocket connection, if any.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Emit sends one event.
func (c *Client) Emit(event string, data any) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return websocket.JSON.Send(c.conn, struct {
		Event string `json:"event"`
		Data  any    `json:"data,omitempty"`
	}{event, data})
}

// Next waits for the next event.
func (c *Client) Next() (Event, error) {
	if c.conn == nil {
		return Event{}, ErrNotConnected
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(c.Timeout))
	var ev Event
	if err := c.dec.Decode(&ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Expect reads until an event named event arrives and decodes its data
// into v. Other events are discarded; an `error` event is returned as a
// *ServerError.
func (c *Client) Expect(event string, v any) error {
	for {
		ev, err := c.Next()
		if err != nil {
			return err
		}
		if ev.Name == "error" {
			var se ServerError
			_ = json.Unmarshal(ev.Data, &se)
			return &se
		}
		if ev.Name != event {
			continue
		}
		if v == nil {
			return nil
		}
		return json.Unmarshal(ev.Data, v)
	}
}

// expectAny is Expect over several event names; it returns the name seen.
func (c *Client) expectAny(events map[string]any) (string, error) {
	for {
		ev, err := c.Next()
		if err != nil {
			return "", err
		}
		if ev.Name == "error" {
			var se ServerError
			_ = json.Unmarshal(ev.Data, &se)
			return "", &se
		}
		v, ok := events[ev.Name]
		if !ok {
			continue
		}
		if v != nil {
			if err := json.Unmarshal(ev.Data, v); err != nil {
				return "", err
			}
		}
		return ev.Name, nil
	}
}

// Health checks server health. A degraded server answers 503 with a body;
// that is returned without error.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.getJSON(ctx, "/api/health", &resp, http.StatusServiceUnavailable); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Children lists a parent's children.
func (c *Client) Children(ctx context.Context, parentID string) ([]ChildSummary, error) {
	var resp []ChildSummary
	if err := c.getJSON(ctx, "/api/parent/"+parentID+"/children", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any, okStatus ...int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	accepted := resp.StatusCode < 400
	for _, s := range okStatus {
		accepted = accepted || resp.StatusCode == s
	}
	if !accepted {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &errResp)
		return fmt.Errorf("beechat error %d: %s", resp.StatusCode, errResp.Error)
	}
	return json.Unmarshal(body, v)
}
