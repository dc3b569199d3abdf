package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"tradeguard/internal/alerting"
	"tradeguard/internal/config"
	"tradeguard/internal/notify"
	"tradeguard/internal/observability"
	"tradeguard/internal/storage"
	"tradeguard/internal/stream"
)

// Source is the live event feed consumed by the service.
type Source interface {
	Connect(ctx context.Context, address string) error
	Disconnect()
	Relay() *stream.Relay
	State() stream.State
	Latest() (stream.Message, bool)
}

var _ Source = (*stream.Client)(nil)

// Deps carries the collaborators of a Service. Journal and Notifier are optional.
type Deps struct {
	Source   Source
	Board    *notify.Board
	Journal  storage.NotificationStore
	Notifier alerting.Notifier
	Metrics  *observability.Metrics
	Clock    clockwork.Clock
}

// Service wires the stream into admission, the journal and alert delivery.
type Service struct {
	address  string
	source   Source
	board    *notify.Board
	journal  storage.NotificationStore
	notifier alerting.Notifier
	metrics  *observability.Metrics
	clock    clockwork.Clock
	logger   zerolog.Logger

	alertTimeout time.Duration
	retention    time.Duration
	locker       storage.AdvisoryLocker
	lockKey      int64
}

// New constructs the notification service.
func New(cfg *config.Config, address string, deps Deps, logger zerolog.Logger) *Service {
	if deps.Board == nil {
		deps.Board = notify.NewBoard(notify.Options{})
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewMetricsForTesting()
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	var locker storage.AdvisoryLocker
	if l, ok := deps.Journal.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		address:      address,
		source:       deps.Source,
		board:        deps.Board,
		journal:      deps.Journal,
		notifier:     deps.Notifier,
		metrics:      deps.Metrics,
		clock:        deps.Clock,
		logger:       logger.With().Str("component", "service").Logger(),
		alertTimeout: cfg.Alerting.Timeout,
		retention:    cfg.Database.Retention,
		locker:       locker,
		lockKey:      cfg.Database.AdvisoryLockKey,
	}
}

// Run connects the stream and feeds every relayed message through Process
// until ctx is cancelled. A failed connect is not fatal; the client has
// already reported it.
func (s *Service) Run(ctx context.Context) error {
	if s.source == nil {
		return errors.New("stream source not configured")
	}
	defer s.source.Disconnect()

	if err := s.source.Connect(ctx, s.address); err != nil {
		s.logger.Info().Msg("continuing without a live stream")
	}

	relay := s.source.Relay()
	var seq uint64
	for {
		msg, next, err := relay.Next(ctx, seq)
		if err != nil {
			return err
		}
		if skipped := next - seq - 1; skipped > 0 {
			s.metrics.MessagesSuperseded.Add(float64(skipped))
			s.logger.Debug().Uint64("skipped", skipped).Msg("messages superseded before processing")
		}
		seq = next
		s.Process(ctx, msg)
	}
}

// Process applies admission to msg and, when admitted, journals and delivers it.
// Journal and delivery failures are logged and never returned.
func (s *Service) Process(ctx context.Context, msg stream.Message) notify.Result {
	res := s.board.Admit(msg)
	if !res.Admitted() {
		s.metrics.NotificationsRejected.WithLabelValues(res.Outcome.String()).Inc()
		s.logger.Debug().
			Int64("event_id", msg.ID).
			Str("severity", msg.Severity.String()).
			Str("outcome", res.Outcome.String()).
			Msg("message not admitted")
		return res
	}

	note := res.Notification
	s.metrics.NotificationsAdmitted.Inc()
	s.metrics.NotificationsEvicted.Add(float64(len(res.Evicted)))
	s.metrics.NotificationBufferSize.Set(float64(s.board.Count()))

	s.logger.Info().
		Str("notification_id", note.ID).
		Int64("event_id", note.EventID).
		Str("severity", note.SeverityPercent()).
		Str("title", note.Title).
		Msg("notification admitted")

	s.record(ctx, note)
	s.deliver(ctx, note)
	return res
}

// Notifications returns the visible notifications, most recent first.
func (s *Service) Notifications() []notify.Notification {
	return s.board.Snapshot()
}

// Dismiss removes id from the board and stamps the journal row.
func (s *Service) Dismiss(ctx context.Context, id string) (notify.Notification, bool) {
	note, ok := s.board.Dismiss(id)
	if !ok {
		s.logger.Debug().Str("notification_id", id).Msg("dismiss ignored for unknown notification")
		return notify.Notification{}, false
	}

	s.metrics.NotificationsDismissed.Inc()
	s.metrics.NotificationBufferSize.Set(float64(s.board.Count()))
	s.logger.Info().Str("notification_id", id).Msg("notification dismissed")

	if s.journal != nil {
		err := s.journal.MarkDismissed(ctx, id, s.clock.Now().UTC())
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			s.logger.Debug().Str("notification_id", id).Msg("dismissed notification not in journal")
		case err != nil:
			s.logger.Error().Err(err).Str("notification_id", id).Msg("failed to journal dismissal")
		}
	}
	return note, true
}

// StreamState reports the link status of the source.
func (s *Service) StreamState() stream.State {
	if s.source == nil {
		return stream.Disconnected
	}
	return s.source.State()
}

// LatestMessage returns the last message relayed by the source.
func (s *Service) LatestMessage() (stream.Message, bool) {
	if s.source == nil {
		return stream.Message{}, false
	}
	return s.source.Latest()
}

// Prune deletes journal rows admitted more than the retention period before now.
// Only the replica holding the advisory lock prunes.
func (s *Service) Prune(ctx context.Context, now time.Time) error {
	if s.journal == nil || s.retention <= 0 {
		return nil
	}

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Msg("skip prune because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	cutoff := now.Add(-s.retention)
	deleted, err := s.journal.DeleteNotificationsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune journal: %w", err)
	}
	s.metrics.JournalPruned.Add(float64(deleted))
	s.logger.Info().Time("cutoff", cutoff).Int64("deleted", deleted).Msg("journal pruned")
	return nil
}

func (s *Service) record(ctx context.Context, note notify.Notification) {
	if s.journal == nil {
		return
	}
	rec := storage.NotificationRecord{
		ID:         note.ID,
		EventID:    note.EventID,
		Title:      note.Title,
		Summary:    note.Summary,
		Severity:   note.Severity,
		Port:       note.Port,
		Commodity:  note.Commodity,
		EventTime:  note.EventTime,
		AdmittedAt: note.AdmittedAt,
	}
	if err := s.journal.InsertNotification(ctx, rec); err != nil {
		s.logger.Error().Err(err).Str("notification_id", note.ID).Msg("failed to journal notification")
	}
}

func (s *Service) deliver(ctx context.Context, note notify.Notification) {
	if s.notifier == nil {
		return
	}
	if s.alertTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.alertTimeout)
		defer cancel()
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.metrics.Deliveries.WithLabelValues("error").Inc()
		s.logger.Error().Err(err).Str("notification_id", note.ID).Msg("failed to deliver notification")
		return
	}
	s.metrics.Deliveries.WithLabelValues("success").Inc()
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
