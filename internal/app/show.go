package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints recent journal rows.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show notifications")
	}
	if closeStore != nil {
		defer closeStore()
	}

	records, err := store.ListRecentNotifications(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(a.Out, "no notifications found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Admitted (UTC)\tInstance\tID\tSeverity\tPort\tCommodity\tTitle\tDismissed")

	for _, rec := range records {
		dismissed := ""
		if rec.DismissedAt != nil {
			dismissed = rec.DismissedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.AdmittedAt.UTC().Format(time.RFC3339),
			rec.InstanceID,
			rec.ID,
			rec.Severity.StringFixed(2),
			sanitizeInline(rec.Port),
			sanitizeInline(rec.Commodity),
			sanitizeInline(rec.Title),
			dismissed,
		)
	}

	if err := writer.Flush(); err != nil {
		return err
	}

	total, err := store.CountNotifications(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "showing %d of %d journaled notifications\n", len(records), total)
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, "\t", " ")
	return cleaned
}
