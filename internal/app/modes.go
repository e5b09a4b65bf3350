package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"steward/pkg/logging"
)

// runOperator runs the operator until ctx ends or SIGINT or SIGTERM is
// received. SIGHUP resyncs every ConfigBundle. Controllers are stopped and
// their running dispatches awaited before it returns.
func runOperator(ctx context.Context, services *Services) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go resyncOnSignal(ctx, services, hup)

	logging.Info("CLI", "Operator starting. Press Ctrl+C to stop.")
	if err := services.Operator.Start(ctx); err != nil {
		logging.Error("CLI", err, "Operator failed")
		return err
	}

	logging.Info("CLI", "Operator shut down")
	return nil
}

func resyncOnSignal(ctx context.Context, services *Services, signals <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-signals:
			n, err := services.ResyncConfigBundles(ctx)
			if err != nil {
				logging.Warn("CLI", "Resync after SIGHUP stopped after %d ConfigBundles: %v", n, err)
				continue
			}
			logging.Info("CLI", "Requested resync of %d ConfigBundles", n)
		}
	}
}
