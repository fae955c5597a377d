package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/marcodd23/go-txscope/pkg/logx"
	"github.com/pkg/errors"
)

// CleanUp executes the provided cleanup callback within a context bounded by timeout and returns its error.
// It waits for either the cleanup to complete or the timeout to expire; the callback keeps running
// in the background in the latter case.
//
// Parameters:
//   - rootCtx: The parent context.
//   - timeout: The time allowed to the cleanup callback. Zero means no limit.
//   - cleanupCallback: A function that contains the cleanup code to execute, and that takes a timeoutCtx.
//
// Usage:
//
//	err := shutdown.CleanUp(ctx, 5*time.Second, func(timeoutCtx context.Context) error {
//	    return client.Disconnect(timeoutCtx)
//	})
func CleanUp(rootCtx context.Context, timeout time.Duration, cleanupCallback func(timeoutCtx context.Context) error) error {
	timeoutCtx, cancel := rootCtx, context.CancelFunc(func() {})
	if timeout > 0 {
		timeoutCtx, cancel = context.WithTimeout(rootCtx, timeout)
	}
	defer cancel()

	logx.GetLogger().LogDebug(timeoutCtx, "Cleaning up all resources ....")

	// Channel used to receive the result from cleanup callback function
	ch := make(chan error, 1)

	go func() {
		defer close(ch)
		if cleanupCallback != nil {
			ch <- cleanupCallback(timeoutCtx)
		}
	}()

	select {
	case <-timeoutCtx.Done():
		logx.GetLogger().LogError(timeoutCtx, "Deadline exceeded during resources cleanup", timeoutCtx.Err())
		return errors.Wrap(timeoutCtx.Err(), "cleanup did not complete")
	case err := <-ch:
		if err != nil {
			logx.GetLogger().LogError(timeoutCtx, "Error during resources cleanup", err)
			return err
		}
		logx.GetLogger().LogDebug(timeoutCtx, "All resources cleaned up")

		return nil
	}
}

// OnSignal runs the cleanup callback through CleanUp when SIGINT or SIGTERM is captured.
// The returned stop function unregisters the signal handler; after stop the callback never runs.
//
// Usage:
//
//	stop := shutdown.OnSignal(ctx, 5*time.Second, func(timeoutCtx context.Context) error {
//	    return env.Teardown(timeoutCtx)
//	})
//	defer stop()
func OnSignal(rootCtx context.Context, timeout time.Duration, cleanupCallback func(timeoutCtx context.Context) error) (stop func()) {
	// Handle SIGINT and SIGTERM signals
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		select {
		case signalCaptured := <-signals:
			logx.GetLogger().LogWarning(rootCtx, fmt.Sprintf("Interrupt signal captured: %s", signalCaptured.String()))
			_ = CleanUp(rootCtx, timeout, cleanupCallback)
		case <-done:
		}
	}()

	var once sync.Once

	return func() {
		once.Do(func() {
			signal.Stop(signals)
			close(done)
		})
	}
}
