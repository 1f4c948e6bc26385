package cmd

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"coinflip/application"
	"coinflip/config"
	"coinflip/domain/entities"
	"coinflip/events"
)

// wagerRunner is the part of a wager session the flip command drives
type wagerRunner interface {
	SubmitWager(ctx context.Context, wallet entities.Wallet, amount string, choice entities.Choice) error
	Snapshot() application.Snapshot
}

func FlipCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flip",
		Short: "Wager tokens on a coin flip and wait for the result",
		Args:  cobra.NoArgs,
		RunE:  flip,
	}
	addFlipFlags(cmd)
	return cmd
}

func addFlipFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("token", "t", "", "token symbol to wager (defaults to DEFAULT_TOKEN)")
	cmd.Flags().StringP("amount", "a", "", "amount to wager in whole tokens, e.g. 1.5")
	_ = cmd.MarkFlagRequired("amount")
	cmd.Flags().Bool("tails", false, "bet on tails instead of heads")
	cmd.Flags().Duration("timeout", 10*time.Minute, "how long to wait for the wager to settle")
}

func flip(cmd *cobra.Command, args []string) error {
	tokenSymbol, _ := cmd.Flags().GetString("token")
	amount, _ := cmd.Flags().GetString("amount")
	tails, _ := cmd.Flags().GetBool("tails")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	a, err := startApp(ctx, config.Get(), tokenSymbol)
	if err != nil {
		return err
	}
	defer a.Close()

	choice := entities.Choice(tails)
	fmt.Fprintf(cmd.OutOrStdout(), "Flipping %s %s on %s\n", amount, a.token.Symbol, choice)

	return runFlip(ctx, a.session, a.bus, a.ledger.Wallet(), amount, choice, cmd.OutOrStdout())
}

// runFlip submits one wager and prints phase changes until it settles or fails
func runFlip(ctx context.Context, session wagerRunner, bus *events.Bus, wallet entities.Wallet, amount string, choice entities.Choice, out io.Writer) error {
	done := followWager(bus, out)

	if err := session.SubmitWager(ctx, wallet, amount, choice); err != nil {
		return fmt.Errorf("wager rejected: %w", err)
	}

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("gave up waiting for the wager to settle: %w", ctx.Err())
	}

	return printOutcome(out, session.Snapshot())
}

// followWager prints phase changes from bus. The returned channel receives the
// phase the wager ended in.
func followWager(bus *events.Bus, out io.Writer) <-chan entities.Phase {
	done := make(chan entities.Phase, 1)
	var (
		mu   sync.Mutex
		last uint64
		once sync.Once
	)

	bus.Subscribe(events.EventTypeWagerPhaseChanged, func(ctx context.Context, event events.Event) {
		e, ok := event.(events.WagerPhaseChangedEvent)
		if !ok {
			return
		}

		mu.Lock()
		// handlers run concurrently; drop anything older than what was printed
		if e.Sequence <= last {
			mu.Unlock()
			return
		}
		last = e.Sequence
		if e.Message != "" {
			fmt.Fprintf(out, "[%s] %s\n", e.NewPhase, e.Message)
		} else {
			fmt.Fprintf(out, "[%s]\n", e.NewPhase)
		}
		mu.Unlock()

		phase := entities.Phase(e.NewPhase)
		if phase.CanDismiss() {
			once.Do(func() { done <- phase })
		}
	})

	return done
}

func printOutcome(out io.Writer, snap application.Snapshot) error {
	switch {
	case snap.Phase == entities.PhaseSettled && snap.Result != nil:
		fmt.Fprintln(out, snap.Result.Headline())
		fmt.Fprintln(out, snap.Result.Description)
		fmt.Fprintf(out, "Request: %s\n", snap.Result.RequestID)
		log.WithFields(log.Fields{
			"request_id": snap.Result.RequestID,
			"won":        snap.Result.Won(),
		}).Debug("Wager settled")
		return nil
	case snap.Phase == entities.PhaseError:
		return fmt.Errorf("wager failed: %s", snap.Error)
	default:
		return fmt.Errorf("wager ended in unexpected phase %s", snap.Phase)
	}
}
