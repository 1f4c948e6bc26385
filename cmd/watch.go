package cmd

import (
	"context"
	"fmt"
	"io"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"coinflip/config"
	"coinflip/events"
	"coinflip/infrastructure"
)

func WatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print wager events published to NATS by running sessions",
		Args:  cobra.NoArgs,
		RunE:  watch,
	}
	cmd.Flags().String("durable", "coinflip-watch", "durable consumer prefix; watchers sharing it share a stream position")
	return cmd
}

func watch(cmd *cobra.Command, args []string) error {
	durable, _ := cmd.Flags().GetString("durable")
	cfg := config.Get()

	nc, err := connectNATS(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := nc.Close(); err != nil {
			log.WithError(err).Error("Error closing NATS connection")
		}
	}()
	nc.WithDurablePrefix(durable)

	subscriber := infrastructure.NewNATSEventSubscriber(nc, infrastructure.NewEventSubjectMapper())
	if err := subscribeEventPrinter(subscriber, cmd.OutOrStdout()); err != nil {
		return err
	}

	log.Info("Watching wager events, press Ctrl+C to stop")
	<-cmd.Context().Done()
	return nil
}

// eventSubscriber is satisfied by infrastructure.NATSEventSubscriber
type eventSubscriber interface {
	Subscribe(eventType events.EventType, handler func(context.Context, events.Event) error) error
}

// subscribeEventPrinter prints every wager event delivered by subscriber
func subscribeEventPrinter(subscriber eventSubscriber, out io.Writer) error {
	var mu sync.Mutex
	printer := func(ctx context.Context, event events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		_, err := fmt.Fprintln(out, describeEvent(event))
		return err
	}

	for _, eventType := range []events.EventType{
		events.EventTypeWagerPhaseChanged,
		events.EventTypeWagerSettled,
		events.EventTypeTransactionFailed,
	} {
		if err := subscriber.Subscribe(eventType, printer); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", eventType, err)
		}
	}
	return nil
}

func describeEvent(event events.Event) string {
	switch e := event.(type) {
	case events.WagerPhaseChangedEvent:
		line := fmt.Sprintf("wager %s: %s -> %s", shortID(e.WagerID), e.OldPhase, e.NewPhase)
		if e.Message != "" {
			line += " (" + e.Message + ")"
		}
		return line
	case events.WagerSettledEvent:
		return fmt.Sprintf("wager %s settled: request %s, %s", shortID(e.WagerID), e.RequestID, e.Description)
	case events.TransactionFailedEvent:
		return fmt.Sprintf("wager %s failed at %s: %s", shortID(e.WagerID), e.Stage, e.Error)
	default:
		return fmt.Sprintf("%s event", event.Type())
	}
}

func shortID(id string) string {
	if id == "" {
		return "-"
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
