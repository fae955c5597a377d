package dbx

// =====================================
// Batch Interface
// =====================================

// Statement is one queued SQL statement.
type Statement struct {
	Query string
	Args  []any
}

// Batch defines the interface for managing a batch of SQL statements to be executed within a transaction.
//
// A Batch allows multiple SQL statements to be queued together and executed in a single batch operation,
// which can improve performance by reducing the number of round trips to the database.
//
// Example Usage:
//
//	batch := dbx.NewBatch()
//	batch.Queue("INSERT INTO users (name, email) VALUES ($1, $2)", "John Doe", "john@example.com")
//	batch.Queue("UPDATE users SET last_login = now() WHERE id = $1", userID)
//
//	rowsAffected, err := session.SendBatch(ctx, batch)
type Batch interface {
	Len() int
	Queue(query string, arguments ...any)
	Statements() []Statement
}

// StatementBatch - driver neutral Batch.
type StatementBatch struct {
	statements []Statement
}

// NewBatch creates a new, empty batch for queuing SQL statements.
func NewBatch() *StatementBatch {
	return &StatementBatch{}
}

// Len returns the number of SQL statements queued in the batch.
func (b *StatementBatch) Len() int {
	return len(b.statements)
}

// Queue adds a SQL statement to the batch with the given query and arguments.
func (b *StatementBatch) Queue(query string, arguments ...any) {
	b.statements = append(b.statements, Statement{Query: query, Args: arguments})
}

// Statements returns the queued statements in order.
func (b *StatementBatch) Statements() []Statement {
	return b.statements
}
