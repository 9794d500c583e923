package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/firgia/soca/metrics"
	"github.com/firgia/soca/store"
	"github.com/firgia/soca/types"
)

type Profiles interface {
	Profile(ctx context.Context, userID string) (types.Profile, error)
	RecordCallCreated(ctx context.Context, userID string, createdAt time.Time) error
}

type History interface {
	CallHistory(ctx context.Context, in types.ListCallHistory) (types.Page[types.CallHistoryItem], error)
	CallCreationTimes(ctx context.Context, userID string, from, to time.Time) ([]time.Time, error)
}

type Matcher interface {
	Match(ctx context.Context, requester types.Profile) ([]types.Profile, error)
}

type CallNotifier interface {
	NotifyIncoming(ctx context.Context, recipients []types.Profile, caller types.User, callID string) error
	NotifyMissed(ctx context.Context, ids []string, caller types.User, callID string) error
}

type AvailabilitySetter interface {
	SetAvailability(ctx context.Context, ids []string, available bool) error
}

type EventPublisher interface {
	PublishCall(ctx context.Context, ev types.CallEvent) error
}

type RTCIssuer interface {
	Issue(channel string, uid uint32, role types.RTCRole) (types.RTCCredential, error)
}

type Config struct {
	Calls        *store.Calls
	Profiles     Profiles
	History      History
	Matcher      Matcher
	Notifier     CallNotifier
	Availability AvailabilitySetter
	Events       EventPublisher
	RTC          RTCIssuer
	Logger       *slog.Logger

	BaseCtx           context.Context
	SideEffectTimeout time.Duration
	BackgroundTimeout time.Duration
	Now               func() time.Time
}

type Service struct {
	Calls        *store.Calls
	Profiles     Profiles
	History      History
	Matcher      Matcher
	Notifier     CallNotifier
	Availability AvailabilitySetter
	Events       EventPublisher
	RTC          RTCIssuer

	logger            *slog.Logger
	baseCtx           context.Context
	sideEffectTimeout time.Duration
	backgroundTimeout time.Duration
	now               func() time.Time
	wg                sync.WaitGroup
	errs              chan error
}

func New(cfg Config) *Service {
	svc := &Service{
		Calls:        cfg.Calls,
		Profiles:     cfg.Profiles,
		History:      cfg.History,
		Matcher:      cfg.Matcher,
		Notifier:     cfg.Notifier,
		Availability: cfg.Availability,
		Events:       cfg.Events,
		RTC:          cfg.RTC,

		logger:            cfg.Logger,
		baseCtx:           cfg.BaseCtx,
		sideEffectTimeout: cfg.SideEffectTimeout,
		backgroundTimeout: cfg.BackgroundTimeout,
		now:               cfg.Now,
		errs:              make(chan error, 64),
	}

	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	if svc.baseCtx == nil {
		svc.baseCtx = context.Background()
	}
	if svc.sideEffectTimeout <= 0 {
		svc.sideEffectTimeout = 15 * time.Second
	}
	if svc.backgroundTimeout <= 0 {
		svc.backgroundTimeout = 15 * time.Second
	}
	if svc.now == nil {
		svc.now = time.Now
	}

	return svc
}

// Errs reports side effect and background failures. It is closed by
// Close.
func (svc *Service) Errs() <-chan error {
	return svc.errs
}

// Wait blocks until every background task is done.
func (svc *Service) Wait() {
	svc.wg.Wait()
}

func (svc *Service) Close() error {
	svc.wg.Wait()
	close(svc.errs)
	return nil
}

type task struct {
	name string
	fn   func(ctx context.Context) error
}

// sideEffects runs the tasks of a committed transition concurrently and
// waits for them. They run detached from the request cancellation but
// bounded by the side effect timeout. Failures are reported, never
// returned.
func (svc *Service) sideEffects(ctx context.Context, tasks ...task) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), svc.sideEffectTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, t := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if rcv := recover(); rcv != nil {
					svc.report(t.name, fmt.Errorf("panic: %v", rcv))
				}
			}()

			if err := t.fn(ctx); err != nil {
				svc.report(t.name, err)
			}
		}()
	}
	wg.Wait()
}

// background runs fn after the request returns.
func (svc *Service) background(name string, fn func(ctx context.Context) error) {
	svc.wg.Add(1)
	go func() {
		defer svc.wg.Done()
		defer func() {
			if rcv := recover(); rcv != nil {
				svc.report(name, fmt.Errorf("panic: %v", rcv))
			}
		}()

		ctx, cancel := context.WithTimeout(svc.baseCtx, svc.backgroundTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			svc.report(name, err)
		}
	}()
}

func (svc *Service) report(name string, err error) {
	metrics.SideEffectFailures.WithLabelValues(name).Inc()

	select {
	case svc.errs <- fmt.Errorf("%s: %w", name, err):
	default:
		svc.logger.Error("service error dropped", "task", name, "err", err)
	}
}
