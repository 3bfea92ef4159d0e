package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

// Broadcaster is the live group-delivery channel: the local hub, or a
// RedisBridge when groups span processes.
type Broadcaster interface {
	PublishToGroup(group string, payload any)
}

// Fanout delivers domain events over two independent channels: live group
// broadcast (at-most-once) and mobile push (at-least-once with dedup and
// bounded retry). Publish is fire-and-forget; failures here never surface to
// the request that produced the event.
type Fanout struct {
	Broadcast Broadcaster
	Provider  Provider
	Tokens    storage.TokenStore
	Dedup     Deduper
	Logger    *slog.Logger

	DedupTTL    time.Duration
	MaxAttempts int
	Backoff     time.Duration
	BackoffMax  time.Duration

	queue chan pushTask
	wg    sync.WaitGroup
	once  sync.Once
}

type pushTask struct {
	userID string
	event  models.NotificationEvent
}

// Config knobs not set fall back to these.
const (
	defaultDedupTTL    = 2 * time.Minute
	defaultMaxAttempts = 3
	defaultBackoff     = 500 * time.Millisecond
	defaultBackoffMax  = 10 * time.Second
	queueDepth         = 1024
)

func NewFanout(b Broadcaster, p Provider, tokens storage.TokenStore, dedup Deduper, logger *slog.Logger) *Fanout {
	return &Fanout{
		Broadcast:   b,
		Provider:    p,
		Tokens:      tokens,
		Dedup:       dedup,
		Logger:      logger,
		DedupTTL:    defaultDedupTTL,
		MaxAttempts: defaultMaxAttempts,
		Backoff:     defaultBackoff,
		BackoffMax:  defaultBackoffMax,
		queue:       make(chan pushTask, queueDepth),
	}
}

// Start launches the push workers. They drain the queue until ctx is done.
func (f *Fanout) Start(ctx context.Context, workers int) {
	f.once.Do(func() {
		if workers <= 0 {
			workers = 4
		}
		for i := 0; i < workers; i++ {
			f.wg.Add(1)
			go func() {
				defer f.wg.Done()
				for {
					select {
					case <-ctx.Done():
						return
					case t := <-f.queue:
						f.deliver(ctx, t)
					}
				}
			}()
		}
	})
}

// Wait blocks until all workers have exited.
func (f *Fanout) Wait() { f.wg.Wait() }

// Publish delivers ev on both channels. It never returns an error and never
// blocks on the push provider: the broadcast is synchronous and cheap, push
// delivery is queued for the background workers.
func (f *Fanout) Publish(_ context.Context, ev models.NotificationEvent) {
	if ev.Group != "" && f.Broadcast != nil {
		f.Broadcast.PublishToGroup(ev.Group, ev)
	}
	if ev.TargetUserID == "" || f.Provider == nil {
		return
	}
	select {
	case f.queue <- pushTask{userID: ev.TargetUserID, event: ev}:
	default:
		observability.PushDropped.Inc()
		f.Logger.Warn("push queue full, dropping task", "user_id", ev.TargetUserID, "type", ev.Type)
	}
}

// PublishAll publishes every event in order.
func (f *Fanout) PublishAll(ctx context.Context, evs []models.NotificationEvent) {
	for _, ev := range evs {
		f.Publish(ctx, ev)
	}
}

func (f *Fanout) deliver(ctx context.Context, t pushTask) {
	key := fmt.Sprintf("%s:%s:%s", t.userID, t.event.RideID, t.event.Type)
	first, err := f.Dedup.FirstSend(ctx, key, f.DedupTTL)
	if err != nil {
		// dedup store down: prefer duplicate delivery over silence
		f.Logger.Warn("dedup check failed, sending anyway", "key", key, "error", err)
	} else if !first {
		observability.PushDeduped.Inc()
		return
	}

	token, err := f.Tokens.PushToken(ctx, t.userID)
	if err != nil {
		f.Logger.Error("push token lookup failed", "user_id", t.userID, "error", err)
		return
	}
	if token == "" {
		f.Logger.Debug("no push token, skipping", "user_id", t.userID)
		return
	}

	note := Note{Title: t.event.Title, Body: t.event.Body, Data: pushData(t.event)}
	backoff := f.Backoff
	for attempt := 1; attempt <= f.MaxAttempts; attempt++ {
		outcome, err := f.Provider.Send(ctx, token, note)
		switch outcome {
		case Delivered:
			observability.PushSentTotal.Inc()
			return
		case PermanentFailure:
			// dead destination: clear the token so future sends fail fast
			observability.TokensCleared.Inc()
			if cerr := f.Tokens.ClearPushToken(ctx, t.userID); cerr != nil {
				f.Logger.Error("failed clearing invalid push token", "user_id", t.userID, "error", cerr)
			}
			f.Logger.Info("push token invalidated", "user_id", t.userID, "error", err)
			return
		case RetryableFailure:
			if attempt == f.MaxAttempts {
				break
			}
			observability.PushRetries.Inc()
			f.Logger.Warn("push attempt failed, backing off", "user_id", t.userID, "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > f.BackoffMax {
				backoff = f.BackoffMax
			}
		}
	}
	observability.PushDropped.Inc()
	f.Logger.Error("push abandoned after retries", "user_id", t.userID, "type", t.event.Type, "attempts", f.MaxAttempts)
}

func pushData(ev models.NotificationEvent) map[string]string {
	data := map[string]string{
		"ride_id": ev.RideID,
		"type":    string(ev.Type),
	}
	for k, v := range ev.Data {
		data[k] = v
	}
	return data
}
