package notify

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"

	"raptor/internal/store"
)

var metricDeliveries = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "raptor_outbox_deliveries_total",
		Help: "Outbox delivery attempts by outcome",
	},
	[]string{"outcome"},
)

// Config tunes the outbox notifier.
type Config struct {
	WorkerID     string
	PollInterval time.Duration // default 1.5s
	ClaimLimit   int           // default 10
	Lease        time.Duration // default 30s
}

func (c *Config) clamp() {
	if c.PollInterval <= 0 {
		c.PollInterval = 1500 * time.Millisecond
	}
	if c.ClaimLimit <= 0 {
		c.ClaimLimit = 10
	}
	if c.Lease <= 0 {
		c.Lease = 30 * time.Second
	}
}

// Notifier drains the outbox to the chat surface. Delivery is at-least-once;
// the chat surface owns deduplication of late retries.
type Notifier struct {
	store  *store.Store
	sender Sender
	cfg    Config

	chatIDs map[int64]int64 // user id -> chat id
}

func New(s *store.Store, sender Sender, cfg Config) *Notifier {
	cfg.clamp()
	return &Notifier{
		store:   s,
		sender:  sender,
		cfg:     cfg,
		chatIDs: make(map[int64]int64),
	}
}

// Run claims and delivers until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	log.Info().Str("worker", n.cfg.WorkerID).Dur("interval", n.cfg.PollInterval).Msg("outbox notifier started")
	ticker := time.NewTicker(n.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			rows, err := n.store.ClaimNotifications(ctx, n.cfg.WorkerID, n.cfg.ClaimLimit, n.cfg.Lease)
			if err != nil {
				log.Error().Err(err).Msg("claim notifications failed")
				continue
			}
			for _, row := range rows {
				n.deliver(ctx, row)
			}
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, row *store.Notification) {
	chatID, err := n.chatID(ctx, row.UserID)
	if err != nil {
		log.Error().Err(err).Int64("user", row.UserID).Msg("chat id lookup failed")
		n.fail(ctx, row, err)
		return
	}

	text := RenderText(row.Type, row.Payload)
	if err := n.sender.Send(ctx, chatID, text); err != nil {
		log.Warn().Err(err).
			Int64("notification", row.ID).
			Int("attempt", row.Attempts).
			Msg("delivery failed")
		n.fail(ctx, row, err)
		return
	}

	if err := n.store.MarkNotificationSent(ctx, row.ID, n.cfg.WorkerID); err != nil {
		log.Error().Err(err).Int64("notification", row.ID).Msg("mark sent failed")
		return
	}
	metricDeliveries.WithLabelValues("sent").Inc()
}

func (n *Notifier) fail(ctx context.Context, row *store.Notification, cause error) {
	metricDeliveries.WithLabelValues("failed").Inc()
	if err := n.store.MarkNotificationFailed(ctx, row.ID, n.cfg.WorkerID, cause.Error()); err != nil {
		log.Error().Err(err).Int64("notification", row.ID).Msg("mark failed errored")
	}
}

// chatID resolves and memoizes the user's chat id. Chat ids never change for
// a user, so the map only grows.
func (n *Notifier) chatID(ctx context.Context, userID int64) (int64, error) {
	if id, ok := n.chatIDs[userID]; ok {
		return id, nil
	}
	user, err := n.store.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	n.chatIDs[userID] = user.ChatID
	return user.ChatID, nil
}
