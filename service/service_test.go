package service

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/firgia/soca/auth"
	"github.com/firgia/soca/availability"
	"github.com/firgia/soca/matcher"
	"github.com/firgia/soca/memstore"
	"github.com/firgia/soca/ptr"
	"github.com/firgia/soca/rtc"
	"github.com/firgia/soca/store"
	"github.com/firgia/soca/types"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type push struct {
	kind   types.PushKind
	ids    []string
	callID string
}

type recordingNotifier struct {
	mu     sync.Mutex
	pushes []push
}

func (n *recordingNotifier) NotifyIncoming(_ context.Context, recipients []types.Profile, _ types.User, callID string) error {
	ids := make([]string, 0, len(recipients))
	for _, r := range recipients {
		ids = append(ids, r.ID)
	}
	n.record(types.PushKindIncomingVideoCall, ids, callID)
	return nil
}

func (n *recordingNotifier) NotifyMissed(_ context.Context, ids []string, _ types.User, callID string) error {
	n.record(types.PushKindMissedVideoCall, slices.Clone(ids), callID)
	return nil
}

func (n *recordingNotifier) record(kind types.PushKind, ids []string, callID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	slices.Sort(ids)
	n.pushes = append(n.pushes, push{kind: kind, ids: ids, callID: callID})
}

func (n *recordingNotifier) sent(kind types.PushKind) []push {
	n.mu.Lock()
	defer n.mu.Unlock()

	var out []push
	for _, p := range n.pushes {
		if p.kind == kind {
			out = append(out, p)
		}
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []types.CallEvent
}

func (p *recordingPublisher) PublishCall(_ context.Context, ev types.CallEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) states() []types.CallState {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]types.CallState, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.State)
	}
	return out
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	svc      *Service
	durable  *memstore.Durable
	shared   *memstore.Shared
	notifier *recordingNotifier
	events   *recordingPublisher
	clock    *clock
	reported chan error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		durable:  memstore.NewDurable(),
		shared:   memstore.NewShared(),
		notifier: &recordingNotifier{},
		events:   &recordingPublisher{},
		clock:    &clock{now: time.Date(2024, time.March, 3, 10, 0, 0, 0, time.UTC)},
		reported: make(chan error, 64),
	}

	f.svc = New(Config{
		Calls:             store.NewCalls(f.durable, f.shared),
		Profiles:          f.durable,
		History:           f.durable,
		Matcher:           matcher.New(f.durable),
		Notifier:          f.notifier,
		Availability:      availability.New(f.durable, discard),
		Events:            f.events,
		RTC:               rtc.New("app", []byte("certificate"), 0),
		Logger:            discard,
		SideEffectTimeout: time.Second,
		BackgroundTimeout: time.Second,
		Now:               f.clock.Now,
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for err := range f.svc.Errs() {
			t.Logf("service error: %v", err)
			select {
			case f.reported <- err:
			default:
			}
		}
	}()
	t.Cleanup(func() {
		_ = f.svc.Close()
		<-done
	})

	return f
}

func (f *fixture) user(t *testing.T, userID string, userType types.UserType, languages ...string) {
	t.Helper()

	err := f.durable.UpsertProfile(context.Background(), types.Profile{
		User:            types.User{ID: userID, Name: ptr.From(userID), Type: userType},
		Device:          types.Device{Platform: ptr.From(types.PlatformAndroid), PlayerID: ptr.From("player-" + userID)},
		Languages:       languages,
		CanReceiveCalls: true,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) available(t *testing.T, userID string) bool {
	t.Helper()

	p, err := f.durable.Profile(context.Background(), userID)
	if err != nil {
		t.Fatal(err)
	}
	return p.CanReceiveCalls
}

// waitReported waits until a failure of every named task went through
// Errs.
func (f *fixture) waitReported(t *testing.T, names ...string) {
	t.Helper()

	pending := map[string]bool{}
	for _, name := range names {
		pending[name] = true
	}

	timeout := time.After(time.Second)
	for len(pending) != 0 {
		select {
		case err := <-f.reported:
			for name := range pending {
				if strings.HasPrefix(err.Error(), name+": ") {
					delete(pending, name)
				}
			}
		case <-timeout:
			t.Fatalf("failures never reported: %v", pending)
		}
	}
}

func (f *fixture) copyOf(t *testing.T, callID string, scope store.Scope) types.Call {
	t.Helper()

	call, err := f.svc.Calls.Read(context.Background(), callID, scope)
	if err != nil {
		t.Fatalf("read %s copy: %v", scope, err)
	}
	return call
}

// standard scenario: one blind user and two volunteers speaking English.
func (f *fixture) createCall(t *testing.T) types.Call {
	t.Helper()

	f.user(t, "b1", types.UserTypeBlind, "en")
	f.user(t, "v1", types.UserTypeVolunteer, "en")
	f.user(t, "v2", types.UserTypeVolunteer, "en", "id")

	call, err := f.svc.CreateCall(as("b1"))
	if err != nil {
		t.Fatal(err)
	}
	return call
}

func as(userID string) context.Context {
	return auth.ContextWithUserID(context.Background(), userID)
}
