package txenv

import (
	"sync"

	"github.com/marcodd23/go-txscope/pkg/dbx"
	"github.com/marcodd23/go-txscope/pkg/logx"
	"github.com/marcodd23/go-txscope/pkg/utilx/jsonx"
)

// queryLog buffers the statements executed while a test body runs.
// Outside a test body it discards everything.
type queryLog struct {
	mu     sync.Mutex
	active bool
	events []dbx.QueryEvent
}

// record is the query event handler subscribed to the client.
func (l *queryLog) record(event dbx.QueryEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active {
		l.events = append(l.events, event)
	}
}

func (l *queryLog) start() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.active = true
	l.events = nil
}

// drain stops recording and hands over the buffered statements.
func (l *queryLog) drain() []dbx.QueryEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := l.events
	l.events = nil
	l.active = false

	return events
}

func (l *queryLog) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.events)
}

func toRecords(events []dbx.QueryEvent) []logx.QueryRecord {
	records := make([]logx.QueryRecord, len(events))
	for i, event := range events {
		records[i] = logx.QueryRecord{
			Query:    event.Query,
			Params:   jsonx.RenderParams(event.Params),
			Duration: event.Duration,
		}
	}

	return records
}
