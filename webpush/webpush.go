// Package webpush delivers call pushes to browser volunteers through the
// Web Push protocol with VAPID authentication.
package webpush

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	wp "github.com/SherClockHolmes/webpush-go"
	"github.com/firgia/soca/types"
	"golang.org/x/sync/errgroup"
)

// ErrGone is reported for subscriptions the push service no longer knows.
var ErrGone = errors.New("webpush: subscription gone")

const (
	defaultTTL         = 30
	defaultConcurrency = 16
)

type Options struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	// Subscriber is the contact (mailto: or https:) put in the VAPID claims.
	Subscriber string
	// TTL in seconds the push service keeps an undelivered message. A
	// stale incoming call is useless so this stays short.
	TTL         int
	Concurrency int
	HTTPClient  *http.Client
}

type Gateway struct {
	opts Options
}

func New(opts Options) *Gateway {
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Gateway{opts: opts}
}

// Deliver sends payload to every subscription handle. Web Push has no
// batch endpoint so each subscription gets its own request, bounded by
// the configured concurrency.
func (g *Gateway) Deliver(ctx context.Context, handles []string, payload types.PushPayload) ([]types.DeliveryResult, error) {
	message, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("webpush: json marshal payload: %w", err)
	}

	out := make([]types.DeliveryResult, len(handles))

	var eg errgroup.Group
	eg.SetLimit(g.opts.Concurrency)
	for i, handle := range handles {
		out[i].Handle = handle
		eg.Go(func() error {
			out[i].Err = g.send(ctx, handle, message)
			return nil
		})
	}
	_ = eg.Wait()

	failed := 0
	for _, r := range out {
		if r.Err != nil {
			failed++
		}
	}
	if failed != 0 && failed == len(out) {
		return out, fmt.Errorf("webpush: all %d deliveries failed: %w", failed, out[0].Err)
	}

	return out, nil
}

func (g *Gateway) send(ctx context.Context, handle string, message []byte) error {
	sub, err := types.ParseWebPushHandle(handle)
	if err != nil {
		return fmt.Errorf("webpush: parse subscription: %w", err)
	}

	resp, err := wp.SendNotificationWithContext(ctx, message, &wp.Subscription{
		Endpoint: sub.Endpoint,
		Keys: wp.Keys{
			Auth:   sub.Auth,
			P256dh: sub.P256dh,
		},
	}, &wp.Options{
		HTTPClient:      g.opts.HTTPClient,
		Subscriber:      g.opts.Subscriber,
		TTL:             g.opts.TTL,
		Urgency:         wp.UrgencyHigh,
		VAPIDPublicKey:  g.opts.VAPIDPublicKey,
		VAPIDPrivateKey: g.opts.VAPIDPrivateKey,
	})
	if err != nil {
		return fmt.Errorf("webpush: send: %w", err)
	}

	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		return ErrGone
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("webpush: http status: %d, body: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	return nil
}
