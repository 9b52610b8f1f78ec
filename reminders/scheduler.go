package reminders

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/streamherald/telemetry"
)

// Messenger is the channel-messaging capability the sweep announces through.
// MentionFor resolves a reminder target to a mention string; the second return
// value is false when the target no longer exists in the channel's guild.
type Messenger interface {
	SendChannelMessage(ctx context.Context, channelID, content string) (string, error)
	MentionFor(ctx context.Context, channelID, targetType, targetID string) (string, bool)
}

// StartScheduler sweeps for due reminders on a fixed interval until ctx is
// cancelled. Sweep bodies run inline in the loop, so ticks never overlap and
// all store mutations stay single-writer.
func StartScheduler(ctx context.Context, store *Store, msg Messenger, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("reminder scheduler started", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			SweepOnce(ctx, store, msg, time.Now())
		}
	}
}

// SweepOnce announces and removes every reminder due at now. Reminders are
// walked from the highest index down so removals never shift the index of an
// entry not yet examined.
func SweepOnce(ctx context.Context, store *Store, msg Messenger, now time.Time) {
	nowMS := now.UnixMilli()
	channels, err := store.ChannelsWithReminders(ctx)
	if err != nil {
		slog.Error("reminder sweep: list channels", slog.Any("err", err))
		return
	}
	for _, channelID := range channels {
		reminders, err := store.ForChannel(ctx, channelID)
		if err != nil {
			slog.Error("reminder sweep: load channel", slog.String("channel", channelID), slog.Any("err", err))
			continue
		}
		for i := len(reminders) - 1; i >= 0; i-- {
			r := reminders[i]
			if r.Timestamp > nowMS {
				continue
			}
			mention, found := msg.MentionFor(ctx, channelID, r.Target.Type, r.Target.ID)
			if found {
				content := fmt.Sprintf("%s Reminder to **%s**!", mention, r.Content)
				if _, err := msg.SendChannelMessage(ctx, channelID, content); err != nil {
					// Keep the reminder; a transient send failure retries next sweep.
					slog.Warn("reminder sweep: send failed", slog.String("channel", channelID), slog.Any("err", err))
					continue
				}
				telemetry.IncRemindersFired()
			} else {
				// A vanished target should not be retried forever; consume silently.
				slog.Info("reminder sweep: target gone, consuming reminder",
					slog.String("channel", channelID), slog.String("target", r.Target.ID))
			}
			if _, _, err := store.Remove(ctx, channelID, i); err != nil {
				slog.Error("reminder sweep: remove", slog.String("channel", channelID), slog.Any("err", err))
			}
		}
	}
}
