package chatbot

import (
	"context"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"
)

// metadataWriter is the slice of the storage engine the maintenance
// loop needs.
type metadataWriter interface {
	SetMetadata(ctx context.Context, key string, value string) (
		previous string,
		existed bool,
		err error,
	)
}

// maintenanceLoop periodically records a heartbeat timestamp in the
// metadata table, so operators (and the lastsave command) can see when
// the store was last known healthy. A failed cycle is logged and the
// loop continues; only context cancellation stops it.
func maintenanceLoop(
	ctx context.Context,
	store metadataWriter,
	interval time.Duration,
	log *slog.Logger,
) {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultMaintenanceInterval
	}
	log.InfoContext(ctx, "starting maintenance loop", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.InfoContext(ctx, "maintenance loop stopped")
			return
		case <-ticker.C:
			runMaintenance(ctx, store, log)
		}
	}
}

func runMaintenance(ctx context.Context, store metadataWriter, log *slog.Logger) {
	now := time.Now().UTC().Format(time.RFC3339)
	previous, existed, err := store.SetMetadata(ctx, MetadataKeyLastSave, now)
	if err != nil {
		log.ErrorContext(ctx, "maintenance heartbeat failed", tint.Err(err))
		return
	}
	attrs := []any{"last_save", now}
	if existed {
		attrs = append(attrs, "previous", previous)
	}
	log.InfoContext(ctx, "maintenance heartbeat recorded", attrs...)
}
