package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"tradeguard/internal/notify"
	"tradeguard/internal/observability"
	"tradeguard/internal/service"
	"tradeguard/internal/storage"
	"tradeguard/internal/stream"
)

// SimulateEvent pushes one synthetic message through admission, the journal
// and the configured alert channels, then reports the outcome.
func (a *App) SimulateEvent(ctx context.Context, opts SimulateOptions) (notify.Result, error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return notify.Result{}, err
	}
	if closeStore != nil {
		defer closeStore()
	}

	var journal storage.NotificationStore
	if store != nil {
		if err := store.EnsureSchema(ctx); err != nil {
			return notify.Result{}, err
		}
		journal = store
	}

	notifier, closeNotifier, err := a.newNotifier(ctx)
	if err != nil {
		return notify.Result{}, err
	}
	defer closeNotifier()

	clock := clockwork.NewRealClock()
	svc := service.New(a.Config, "", service.Deps{
		Board:    a.newBoard(clock),
		Journal:  journal,
		Notifier: notifier,
		Metrics:  observability.NewMetricsForTesting(),
		Clock:    clock,
	}, a.base)

	res := svc.Process(ctx, stream.Message{
		Type:      "event",
		ID:        opts.EventID,
		Title:     opts.Title,
		Summary:   opts.Summary,
		Severity:  opts.Severity,
		Port:      opts.Port,
		Commodity: opts.Commodity,
		Timestamp: clock.Now().UTC().Format(time.RFC3339),
	})

	if res.Admitted() {
		fmt.Fprintf(a.Out, "admitted notification %s (%s)\n", res.Notification.ID, res.Notification.SeverityPercent())
	} else {
		fmt.Fprintf(a.Out, "not admitted: %s (severity %s, threshold %v)\n",
			res.Outcome, opts.Severity.String(), a.Config.Notifications.Threshold)
	}
	return res, nil
}
