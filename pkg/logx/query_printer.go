package logx

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// QueryRecord is one statement captured while a test body was running.
type QueryRecord struct {
	Query    string
	Params   string
	Duration time.Duration
}

// QueryPrinter renders the statements captured for one test.
type QueryPrinter interface {
	PrintQueries(breadcrumb string, records []QueryRecord)
}

// ZeroLogQueryPrinter writes one line per statement, each tagged with the test breadcrumb.
type ZeroLogQueryPrinter struct {
	zeroLog zerolog.Logger
}

// NewQueryPrinter - QueryPrinter writing to w. A console printer is meant for humans,
// otherwise every line is a JSON document.
func NewQueryPrinter(w io.Writer, console bool) *ZeroLogQueryPrinter {
	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly, PartsExclude: []string{zerolog.LevelFieldName}}
	}

	return &ZeroLogQueryPrinter{zeroLog: zerolog.New(w).With().Timestamp().Logger()}
}

// PrintQueries logs without a level so the lines survive whatever level the service logger runs at.
func (p *ZeroLogQueryPrinter) PrintQueries(breadcrumb string, records []QueryRecord) {
	for _, record := range records {
		event := p.zeroLog.Log().
			Str("tag", "txscope:query").
			Str("breadcrumb", breadcrumb).
			Dur("duration", record.Duration)

		if record.Params != "" {
			event = event.Str("params", record.Params)
		}

		event.Msg(record.Query)
	}
}
