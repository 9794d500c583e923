// Package onesignal delivers call pushes through the OneSignal REST API.
// iOS devices are reached through a dedicated VoIP app so the push wakes
// the CallKit UI; Android devices through the standard app.
package onesignal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/firgia/soca/types"
)

const (
	DefaultURL = "https://onesignal.com/api/v1/notifications"

	// maxPlayerIDs is the most include_player_ids OneSignal accepts per
	// request.
	maxPlayerIDs = 2000

	androidHighPriority = 10
)

var ErrNotSubscribed = errors.New("onesignal: player not subscribed")

type App struct {
	ID         string
	RESTAPIKey string
}

type Client struct {
	client           *http.Client
	url              string
	app              App
	voip             bool
	androidChannelID string
	maxBytes         int64
}

// NewVoIP creates a client for the iOS VoIP app. If client is nil, a
// default client with a 10s timeout is used.
func NewVoIP(url string, app App, client *http.Client) *Client {
	c := newClient(url, app, client)
	c.voip = true
	return c
}

// NewStandard creates a client for the Android app.
func NewStandard(url string, app App, androidChannelID string, client *http.Client) *Client {
	c := newClient(url, app, client)
	c.androidChannelID = androidChannelID
	return c
}

func newClient(url string, app App, client *http.Client) *Client {
	if url == "" {
		url = DefaultURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		client:   client,
		url:      url,
		app:      app,
		maxBytes: 1 << 20,
	}
}

type notification struct {
	AppID                string            `json:"app_id"`
	IncludePlayerIDs     []string          `json:"include_player_ids"`
	Data                 types.PushPayload `json:"data"`
	ContentAvailable     bool              `json:"content_available"`
	APNSPushTypeOverride string            `json:"apns_push_type_override,omitempty"`
	IsAndroid            *bool             `json:"isAndroid,omitempty"`
	IsIOS                *bool             `json:"isIos,omitempty"`
	Priority             int               `json:"priority,omitempty"`
	AndroidChannelID     string            `json:"android_channel_id,omitempty"`
}

type response struct {
	ID         string          `json:"id"`
	Recipients int             `json:"recipients"`
	Errors     json.RawMessage `json:"errors"`
}

// Deliver sends payload to every player id, batching them into as few
// requests as OneSignal allows. The returned error is set only when no
// handle could be delivered at all.
func (c *Client) Deliver(ctx context.Context, handles []string, payload types.PushPayload) ([]types.DeliveryResult, error) {
	out := make([]types.DeliveryResult, 0, len(handles))
	var (
		errs []error
		sent int
	)

	for start := 0; start < len(handles); start += maxPlayerIDs {
		chunk := handles[start:min(start+maxPlayerIDs, len(handles))]

		results, err := c.send(ctx, chunk, payload)
		if err != nil {
			errs = append(errs, err)
			for _, h := range chunk {
				out = append(out, types.DeliveryResult{Handle: h, Err: err})
			}
			continue
		}

		sent++
		out = append(out, results...)
	}

	if sent == 0 && len(errs) != 0 {
		return out, errors.Join(errs...)
	}

	return out, nil
}

func (c *Client) notification(handles []string, payload types.PushPayload) notification {
	n := notification{
		AppID:            c.app.ID,
		IncludePlayerIDs: handles,
		Data:             payload,
		ContentAvailable: true,
	}
	if c.voip {
		n.APNSPushTypeOverride = "voip"
		return n
	}

	yes, no := true, false
	n.IsAndroid = &yes
	n.IsIOS = &no
	n.Priority = androidHighPriority
	n.AndroidChannelID = c.androidChannelID
	return n
}

func (c *Client) send(ctx context.Context, handles []string, payload types.PushPayload) ([]types.DeliveryResult, error) {
	body, err := json.Marshal(c.notification(handles, payload))
	if err != nil {
		return nil, fmt.Errorf("onesignal: json marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("onesignal: new request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic "+c.app.RESTAPIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("onesignal: http post: %w", err)
	}

	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("onesignal: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("onesignal: http status: %d, body: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var res response
	if err := json.Unmarshal(b, &res); err != nil {
		return nil, fmt.Errorf("onesignal: json unmarshal response: %w", err)
	}

	return results(handles, res), nil
}

// results maps the response errors back to each handle. OneSignal either
// lists the invalid player ids or, when nobody was reached, returns a
// plain list of messages.
func results(handles []string, res response) []types.DeliveryResult {
	out := make([]types.DeliveryResult, len(handles))
	for i, h := range handles {
		out[i].Handle = h
	}

	if len(res.Errors) == 0 || string(res.Errors) == "null" {
		return out
	}

	var invalid struct {
		InvalidPlayerIDs []string `json:"invalid_player_ids"`
	}
	if err := json.Unmarshal(res.Errors, &invalid); err == nil {
		for i := range out {
			if slices.Contains(invalid.InvalidPlayerIDs, out[i].Handle) {
				out[i].Err = ErrNotSubscribed
			}
		}
		return out
	}

	var messages []string
	if err := json.Unmarshal(res.Errors, &messages); err == nil && res.Recipients == 0 {
		err := fmt.Errorf("%w: %s", ErrNotSubscribed, strings.Join(messages, "; "))
		for i := range out {
			out[i].Err = err
		}
	}

	return out
}
