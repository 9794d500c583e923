// Package notify fans call pushes out to every delivery channel.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/firgia/soca/metrics"
	"github.com/firgia/soca/types"
)

type Channel string

const (
	// ChannelVoIP reaches iOS devices through VoIP pushes.
	ChannelVoIP Channel = "voip"
	// ChannelStandard reaches Android devices.
	ChannelStandard Channel = "standard"
	// ChannelWeb reaches browsers through Web Push.
	ChannelWeb Channel = "web"
)

type Gateway interface {
	Deliver(ctx context.Context, handles []string, payload types.PushPayload) ([]types.DeliveryResult, error)
}

type ProfileFinder interface {
	Profiles(ctx context.Context, ids []string) ([]types.Profile, error)
}

type Notifier struct {
	Gateways map[Channel]Gateway
	Profiles ProfileFinder
	Logger   *slog.Logger
}

// Partition groups the push handle of each recipient by channel. A
// recipient without a usable handle for its platform is skipped.
func Partition(recipients []types.Profile) map[Channel][]string {
	out := map[Channel][]string{}
	for _, p := range recipients {
		if p.Platform == nil {
			continue
		}

		switch *p.Platform {
		case types.PlatformIOS:
			if p.VoIPPlayerID != nil && *p.VoIPPlayerID != "" {
				out[ChannelVoIP] = append(out[ChannelVoIP], *p.VoIPPlayerID)
			}
		case types.PlatformAndroid:
			if p.PlayerID != nil && *p.PlayerID != "" {
				out[ChannelStandard] = append(out[ChannelStandard], *p.PlayerID)
			}
		case types.PlatformWeb:
			if p.WebPush != nil && p.WebPush.Endpoint != "" {
				out[ChannelWeb] = append(out[ChannelWeb], p.WebPush.Handle())
			}
		}
	}
	return out
}

func (n *Notifier) NotifyIncoming(ctx context.Context, recipients []types.Profile, caller types.User, callID string) error {
	return n.Notify(ctx, types.PushKindIncomingVideoCall, recipients, caller, callID)
}

// NotifyMissed tells the volunteers behind ids that the call is no
// longer theirs to answer.
func (n *Notifier) NotifyMissed(ctx context.Context, ids []string, caller types.User, callID string) error {
	if len(ids) == 0 {
		return nil
	}

	recipients, err := n.Profiles.Profiles(ctx, ids)
	if err != nil {
		return fmt.Errorf("find missed call recipients: %w", err)
	}

	return n.Notify(ctx, types.PushKindMissedVideoCall, recipients, caller, callID)
}

// Notify delivers one push per channel concurrently. A failing channel
// never stops the others; the joined channel errors are returned.
func (n *Notifier) Notify(ctx context.Context, kind types.PushKind, recipients []types.Profile, caller types.User, callID string) error {
	payload := types.PushPayload{
		Type:       kind,
		UUID:       callID,
		UserCaller: types.NewPushCaller(caller),
	}

	type batch struct {
		channel Channel
		gateway Gateway
		handles []string
		err     error
	}

	var batches []*batch
	for channel, handles := range Partition(recipients) {
		gateway, ok := n.Gateways[channel]
		if !ok {
			n.Logger.Warn("no push gateway configured", "channel", channel, "recipients", len(handles), "call_id", callID)
			continue
		}
		batches = append(batches, &batch{channel: channel, gateway: gateway, handles: handles})
	}

	var wg sync.WaitGroup
	for _, b := range batches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.err = n.deliver(ctx, b.gateway, b.channel, kind, b.handles, payload)
			if b.err != nil {
				n.Logger.Error("push delivery failed", "channel", b.channel, "kind", kind, "call_id", callID, "err", b.err)
			}
		}()
	}
	wg.Wait()

	var errs []error
	for _, b := range batches {
		if b.err != nil {
			errs = append(errs, fmt.Errorf("%s channel: %w", b.channel, b.err))
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) deliver(ctx context.Context, gateway Gateway, channel Channel, kind types.PushKind, handles []string, payload types.PushPayload) error {
	results, err := gateway.Deliver(ctx, handles, payload)

	failed := 0
	for _, r := range results {
		metrics.PushDeliveries.WithLabelValues(string(channel), string(kind), metrics.Result(r.Err)).Inc()
		if r.Err != nil {
			failed++
			n.Logger.Debug("push handle failed", "channel", channel, "call_id", payload.UUID, "err", r.Err)
		}
	}

	if err != nil {
		return err
	}

	if failed != 0 {
		n.Logger.Warn("push partially delivered", "channel", channel, "call_id", payload.UUID,
			"failed", failed, "total", len(handles))
	}

	return nil
}
