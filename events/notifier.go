package events

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/h2non/gentleman.v2"
	gctx "gopkg.in/h2non/gentleman.v2/context"
	"gopkg.in/h2non/gentleman.v2/plugins/timeout"

	"github.com/speedrun-hq/fundgraph/accountid"
	"github.com/speedrun-hq/fundgraph/logging"
)

const (
	// FreshnessWindow bounds how old an event's block may be for a notification.
	// Older events come from backfill and would only flood the webhook.
	FreshnessWindow = 15 * time.Minute

	notifyTimeout = 10 * time.Second

	// maxInFlight bounds concurrent webhook requests; further notifications are dropped.
	maxInFlight = 16
)

// Notifier posts changed account ids to a cache invalidation webhook.
// Requests run in the background so a slow endpoint never holds up a worker.
type Notifier struct {
	cli    *gentleman.Client
	url    string
	now    func() time.Time
	slots  chan struct{}
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// NewNotifier returns a notifier for url. An empty url disables notifications.
func NewNotifier(url string, logger zerolog.Logger) *Notifier {
	cli := gentleman.New()
	cli.Use(timeout.Request(notifyTimeout))

	return &Notifier{
		cli:    cli,
		url:    url,
		now:    time.Now,
		slots:  make(chan struct{}, maxInFlight),
		logger: logger.With().Str(logging.FieldModule, "notifier").Logger(),
	}
}

// AfterHandle schedules a notification of accounts and returns immediately.
// Failures are only logged.
func (n *Notifier) AfterHandle(ctx context.Context, accounts []accountid.AccountID, blockTimestamp time.Time) {
	if n.url == "" || len(accounts) == 0 {
		return
	}

	if n.now().Sub(blockTimestamp) > FreshnessWindow {
		return
	}

	ids := make([]string, 0, len(accounts))
	seen := make(map[accountid.AccountID]struct{}, len(accounts))
	for _, a := range accounts {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		ids = append(ids, a.String())
	}

	select {
	case n.slots <- struct{}{}:
	default:
		n.logger.Warn().Int("accounts", len(ids)).Msg("Too many pending notifications, dropping")
		return
	}

	n.wg.Add(1)
	go func() {
		defer func() {
			<-n.slots
			n.wg.Done()
		}()
		n.send(context.WithoutCancel(ctx), ids)
	}()
}

// Wait blocks until in-flight notifications finish or timeout elapses.
func (n *Notifier) Wait(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.Errorf("notifications still in flight after %s", timeout)
	}
}

func (n *Notifier) send(ctx context.Context, ids []string) {
	req := n.cli.Request()
	req.Method(http.MethodPost)
	req.URL(n.url)
	req.JSON(ids)
	req.UseRequest(func(gc *gctx.Context, h gctx.Handler) {
		gc.Request = gc.Request.WithContext(ctx)
		h.Next(gc)
	})

	res, err := req.Send()
	if err != nil {
		n.logger.Warn().Err(err).Int("accounts", len(ids)).Msg("Failed to notify cache invalidation endpoint")
		return
	}
	if !res.Ok {
		n.logger.Warn().Int("status", res.StatusCode).Msg("Cache invalidation endpoint rejected notification")
		return
	}

	n.logger.Debug().Strs("accounts", ids).Msg("Notified cache invalidation endpoint")
}
