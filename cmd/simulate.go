package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/evcharger/core/model"
	"github.com/kilianp07/evcharger/core/state"
	"github.com/kilianp07/evcharger/infra/logger"
	"github.com/kilianp07/evcharger/internal/eventbus"
)

var (
	simOutlet int
	simTag    string
	simDelay  time.Duration
	simHold   time.Duration
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the charger, plug a car in and present an RFID tag",
	RunE:  simulate,
}

func init() {
	simulateCmd.Flags().IntVar(&simOutlet, "outlet", 1, "outlet the car is plugged into")
	simulateCmd.Flags().StringVar(&simTag, "tag", "abcdef", "RFID tag to present")
	simulateCmd.Flags().DurationVar(&simDelay, "delay", 2*time.Second, "pause between scripted steps")
	simulateCmd.Flags().DurationVar(&simHold, "hold", 30*time.Second, "time to keep the session open afterwards, 0 waits for a signal")
	rootCmd.AddCommand(simulateCmd)
}

func simulate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logg := logger.New("simulate")

	svc, err := startService(ctx)
	if err != nil {
		return err
	}
	defer closeService(svc)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() {
		runErr <- svc.Run(ctx)
		cancel()
	}()

	script := func() error {
		if err := waitConnected(ctx, svc.Store); err != nil {
			return err
		}
		logg.Infof("charger registered, plugging car into outlet %d", simOutlet)
		if err := pause(ctx, simDelay); err != nil {
			return err
		}
		if err := svc.Charger.CarConnected(simOutlet); err != nil {
			return fmt.Errorf("car connected: %w", err)
		}
		if err := pause(ctx, simDelay); err != nil {
			return err
		}
		if err := svc.Charger.BlipRFIDTag(simTag); err != nil {
			return fmt.Errorf("blip tag: %w", err)
		}
		if simHold > 0 {
			return pause(ctx, simHold)
		}
		<-ctx.Done()
		return nil
	}
	scriptErr := script()
	cancel()
	if err := <-runErr; err != nil {
		return err
	}
	if scriptErr != nil && !errors.Is(scriptErr, context.Canceled) {
		return scriptErr
	}
	return nil
}

// waitConnected blocks until the store reports a Connected charger.
func waitConnected(ctx context.Context, store *state.Store) error {
	rx := store.Subscribe()
	if store.Read().IsConnected() {
		return nil
	}
	for {
		tr, err := rx.Recv(ctx)
		if err != nil {
			var lag *eventbus.LaggedError
			if errors.As(err, &lag) {
				if store.Read().IsConnected() {
					return nil
				}
				continue
			}
			return err
		}
		if tr.New.Phase == model.PhaseConnected {
			return nil
		}
	}
}

func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
