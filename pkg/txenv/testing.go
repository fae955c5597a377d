package txenv

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/marcodd23/go-txscope/pkg/configx"
	"github.com/marcodd23/go-txscope/pkg/logx"
	"github.com/marcodd23/go-txscope/pkg/shutdown"
)

// Test runs t inside its own transaction and returns the client bound to it.
// The transaction is settled by a t.Cleanup registered here, after the cleanups registered later by the test.
// Tests using an Environment must not run in parallel.
func (e *Environment) Test(t testing.TB) *ScopedClient {
	t.Helper()

	ctx := context.Background()
	entry := TestEntryFromName(t.Name())
	if e.testPath == "" {
		entry.Path = e.callerPath()
	}

	if err := e.HandleTestEvent(ctx, Event{Kind: EventTestStart, Test: entry}); err != nil {
		t.Fatalf("unable to begin the test transaction: %v", err)
	}

	t.Cleanup(func() {
		fnKind := EventTestFnSuccess
		if t.Failed() {
			fnKind = EventTestFnFailure
		}
		_ = e.HandleTestEvent(ctx, Event{Kind: fnKind, Test: entry})

		doneKind := EventTestDone
		if t.Skipped() {
			doneKind = EventTestSkip
		}
		if err := e.HandleTestEvent(ctx, Event{Kind: doneKind, Test: entry}); err != nil {
			t.Errorf("unable to end the test transaction: %v", err)
		}
	})

	_ = e.HandleTestEvent(ctx, Event{Kind: EventTestFnStart, Test: entry})

	return e.scoped
}

// callerPath returns the file of the test calling Test, relative to the configured root dir when possible.
func (e *Environment) callerPath() string {
	_, file, _, ok := runtime.Caller(2)
	if !ok {
		return ""
	}

	if root := e.cfg.RootDir; root != "" {
		if rel, err := filepath.Rel(root, file); err == nil {
			return filepath.ToSlash(rel)
		}
	}

	return filepath.Base(file)
}

// RunMain sets the environment up, runs the tests and tears it down, also on SIGINT and SIGTERM.
// It returns the exit code for os.Exit:
//
//	func TestMain(m *testing.M) { os.Exit(env.RunMain(m)) }
func (e *Environment) RunMain(m interface{ Run() int }) int {
	ctx := context.Background()

	if _, err := e.Setup(ctx); err != nil {
		logx.GetLogger().LogError(ctx, "unable to set up the transactional test environment", err)
		return 1
	}

	stop := shutdown.OnSignal(ctx, e.signalTimeout(), e.Teardown)
	defer stop()

	code := m.Run()

	if err := e.Teardown(ctx); err != nil {
		logx.GetLogger().LogError(ctx, "unable to tear down the transactional test environment", err)
		if code == 0 {
			code = 1
		}
	}

	return code
}

func (e *Environment) signalTimeout() time.Duration {
	return max(e.cfg.Timeout, configx.DefaultTimeout)
}
