package txenv

import (
	"github.com/marcodd23/go-txscope/pkg/dbx"
	"github.com/marcodd23/go-txscope/pkg/logx"
)

// Option configures an Environment.
type Option func(*Environment)

// WithClient injects the client instead of building the one registered under the configured client path.
// The client must serve Connect, Disconnect and Transaction.
func WithClient(client dbx.Client) Option {
	return func(e *Environment) {
		e.custom = client
	}
}

// WithTestPath sets the test file path shown first in query log breadcrumbs.
func WithTestPath(path string) Option {
	return func(e *Environment) {
		e.testPath = path
	}
}

// WithQueryPrinter replaces the printer of the verbose query log.
func WithQueryPrinter(printer logx.QueryPrinter) Option {
	return func(e *Environment) {
		e.printer = printer
	}
}
