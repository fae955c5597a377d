package pgxdb

import (
	"github.com/jackc/pgx/v5"
	"github.com/marcodd23/go-txscope/pkg/dbx"
)

//###################################
//#       Postgres BATCH            #
//###################################

// toPgxBatch queues the statements of a dbx.Batch into a pgx.Batch, keeping their order.
func toPgxBatch(batch dbx.Batch) *pgx.Batch {
	pgxBatch := &pgx.Batch{}
	for _, stmt := range batch.Statements() {
		pgxBatch.Queue(stmt.Query, stmt.Args...)
	}

	return pgxBatch
}
