package txenv

import (
	"errors"
	"testing"
	"time"

	"github.com/marcodd23/go-txscope/pkg/dbx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminationSignalFiresOnce(t *testing.T) {
	signal := newTerminationSignal()
	rollback := errors.New("rollback")

	assert.True(t, signal.Fire(rollback))
	assert.False(t, signal.Fire(nil))
	assert.False(t, signal.Fire(errors.New("late")))

	select {
	case outcome := <-signal.Done():
		assert.Same(t, rollback, outcome)
	default:
		t.Fatal("signal not delivered")
	}

	select {
	case <-signal.Done():
		t.Fatal("signal delivered twice")
	default:
	}
}

func TestSavepointNamesAreScopedToTheTransaction(t *testing.T) {
	first := newActiveTx("a")
	assert.Equal(t, "txscope_sp_1", first.nextSavepoint())
	assert.Equal(t, "txscope_sp_2", first.nextSavepoint())

	second := newActiveTx("b")
	assert.Equal(t, "txscope_sp_1", second.nextSavepoint())
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "awaiting-begin", StateAwaitingBegin.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "awaiting-end", StateAwaitingEnd.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "State(42)", State(42).String())
}

func TestQueryLogRecordsOnlyWhileActive(t *testing.T) {
	log := &queryLog{}

	log.record(dbx.QueryEvent{Query: "BEGIN"})
	assert.Zero(t, log.size())

	log.start()
	log.record(dbx.QueryEvent{Query: "SELECT 1", Params: []any{1, "a"}, Duration: time.Millisecond})
	log.record(dbx.QueryEvent{Query: "SELECT 2"})
	assert.Equal(t, 2, log.size())

	events := log.drain()
	require.Len(t, events, 2)
	assert.Equal(t, "SELECT 1", events[0].Query)

	log.record(dbx.QueryEvent{Query: "ROLLBACK"})
	assert.Zero(t, log.size())
	assert.Empty(t, log.drain())

	records := toRecords(events)
	assert.Equal(t, `[1,"a"]`, records[0].Params)
	assert.Equal(t, time.Millisecond, records[0].Duration)
	assert.Empty(t, records[1].Params)
}

func TestQueryLogStartDiscardsLeftovers(t *testing.T) {
	log := &queryLog{}

	log.start()
	log.record(dbx.QueryEvent{Query: "SELECT 1"})
	log.start()

	assert.Zero(t, log.size())
}

func TestTestEntryFromName(t *testing.T) {
	entry := TestEntryFromName("TestUsers/create/duplicate_id")

	assert.Equal(t, "duplicate_id", entry.Name)
	require.NotNil(t, entry.Parent)
	assert.Equal(t, "create", entry.Parent.Name)
	assert.Equal(t, "TestUsers", entry.Parent.Parent.Name)
	assert.Equal(t, rootDescribeBlock, entry.Parent.Parent.Parent.Name)
	assert.Nil(t, entry.Parent.Parent.Parent.Parent)

	top := TestEntryFromName("TestPlain")
	assert.Equal(t, "TestPlain", top.Name)
	assert.Equal(t, rootDescribeBlock, top.Parent.Name)
}

func TestBreadcrumb(t *testing.T) {
	tests := []struct {
		name     string
		testPath string
		entry    TestEntry
		want     string
	}{
		{
			name:     "nested blocks",
			testPath: "users/users_test.go",
			entry:    TestEntryFromName("TestUsers/create/duplicate"),
			want:     "users/users_test.go > TestUsers > create > duplicate",
		},
		{
			name:  "no path",
			entry: TestEntryFromName("TestPlain"),
			want:  "TestPlain",
		},
		{
			name:     "entry path wins",
			testPath: "ignored_test.go",
			entry:    TestEntry{Name: "it works", Parent: &DescribeBlock{Name: "Suite", Parent: &DescribeBlock{Name: rootDescribeBlock}}, Path: "posts_test.go"},
			want:     "posts_test.go > Suite > it works",
		},
		{
			name:  "no parent",
			entry: TestEntry{Name: "orphan"},
			want:  "orphan",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Breadcrumb(tt.testPath, tt.entry))
		})
	}
}
