package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// waitForShutdown blocks until SIGINT or SIGTERM and runs cleanup before
// returning. A second signal during cleanup exits immediately.
func waitForShutdown(cleanup func()) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		sig := <-sigCh
		go func() {
			<-sigCh
			zap.L().Info("Second interrupt signal received. Exiting immediately.")
			os.Exit(1)
		}()

		zap.L().Info("Shutdown initiated", zap.String("reason", sig.String()))
		cleanup()
		close(done)
	}()

	<-done
	zap.L().Info("Exiting...")
}
