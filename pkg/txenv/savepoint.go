package txenv

import (
	"context"
	"fmt"

	"github.com/marcodd23/go-txscope/pkg/dbx"
	"github.com/marcodd23/go-txscope/pkg/logx"
	"github.com/marcodd23/go-txscope/pkg/utilx/copyx"
	"github.com/pkg/errors"
)

const (
	savepointPrefix = "txscope_sp_"
	probeSavepoint  = "txscope_probe"
)

// savepointEmulator runs nested transactions inside the physical test transaction.
//
// When enabled, every nested transaction is wrapped in SAVEPOINT / RELEASE SAVEPOINT and a failing one
// is undone with ROLLBACK TO SAVEPOINT. When disabled, a failing nested transaction still returns its
// error but its earlier writes stay until the test transaction is rolled back.
type savepointEmulator struct {
	enabled bool
}

// run executes form against session, the scoped client bound to tx, so deeper nesting is emulated as well.
// The error of form is returned unchanged.
func (e savepointEmulator) run(ctx context.Context, tx *activeTx, form dbx.TxForm, session dbx.Session) (any, error) {
	name := tx.nextSavepoint()

	if e.enabled {
		if _, err := tx.handle.ExecRaw(ctx, "SAVEPOINT "+name); err != nil {
			return nil, errors.Wrapf(err, "unable to create savepoint %s", name)
		}
	}

	result, err := dbx.RunForm(ctx, form, session)
	if err != nil {
		if e.enabled {
			if _, rbErr := tx.handle.ExecRaw(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
				logx.GetLogger().LogError(ctx, fmt.Sprintf("unable to roll back to savepoint %s", name), rbErr)
			}
		}

		return nil, err
	}

	if e.enabled {
		if _, err := tx.handle.ExecRaw(ctx, "RELEASE SAVEPOINT "+name); err != nil {
			return nil, errors.Wrapf(err, "unable to release savepoint %s", name)
		}
	}

	return copyx.Normalize(result), nil
}
