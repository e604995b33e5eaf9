package messaging

import (
	"context"

	"github.com/duragraph/duragraph/internal/domain/stitchrun"
	"github.com/duragraph/duragraph/internal/infrastructure/persistence/postgres"
	"github.com/duragraph/duragraph/internal/pkg/eventbus"
)

// SubscribeOutbox wires every stitchrun event type onto eventbus, writing
// each occurrence into outbox for OutboxRelay to deliver to NATS. This keeps
// run/node lifecycle fan-out durable across a process restart between the
// engine's write and the NATS publish, the same guarantee the outbox
// pattern gives the rest of this package.
func SubscribeOutbox(bus *eventbus.EventBus, outbox *postgres.Outbox) {
	for _, eventType := range []string{
		stitchrun.EventRunStarted,
		stitchrun.EventNodeStarted,
		stitchrun.EventNodeCompleted,
		stitchrun.EventNodeFailed,
		stitchrun.EventRunCompleted,
		stitchrun.EventRunFailed,
	} {
		bus.Subscribe(eventType, outboxHandler(outbox))
	}
}

func outboxHandler(outbox *postgres.Outbox) eventbus.Handler {
	return func(ctx context.Context, event eventbus.Event) error {
		payload := map[string]interface{}{}
		switch e := event.(type) {
		case stitchrun.NodeEvent:
			payload["nodeId"] = e.NodeID
			payload["status"] = string(e.Status)
			if e.Error != "" {
				payload["error"] = e.Error
			}
		case stitchrun.RunEvent:
			payload["status"] = string(e.Status)
		}
		return outbox.Add(ctx, event.AggregateType(), event.AggregateID(), event.EventType(), payload, nil)
	}
}
