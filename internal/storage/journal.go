package storage

import (
	"context"
	"time"

	"calnotify/internal/eventbus"
	logx "calnotify/pkg/logx"
)

// Journal copies reminder.sent and reminder.failed events from the bus
// into st until ctx is done.
func Journal(ctx context.Context, bus eventbus.Bus, st Store, log logx.Logger) error {
	ch, unsub := bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			d, isDelivery := ev.Data.(eventbus.Delivery)
			if !isDelivery {
				continue
			}
			rec := DeliveryRecord{
				At:       ev.Time,
				Key:      d.Key,
				EventID:  d.EventID,
				Label:    d.Label,
				State:    d.State,
				Audience: d.Audience,
				OK:       ev.Type == eventbus.TypeReminderSent,
				Error:    d.Err,
				TookMS:   d.Took.Milliseconds(),
			}
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			if err := st.AppendDelivery(wctx, rec); err != nil {
				log.Warn("journal append failed", logx.String("key", d.Key), logx.Err(err))
			}
			cancel()
		}
	}
}
