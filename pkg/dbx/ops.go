package dbx

import (
	"strconv"
	"strings"
)

// Op names one operation of the client surface. The scoped client dispatches on it.
type Op uint8

const (
	OpExec Op = iota
	OpQuery
	OpQueryRow
	OpExecRaw
	OpSendBatch
	OpCopyFrom
	OpTransaction
	OpConnect
	OpDisconnect
	OpSubscribeQueryEvents
)

var opNames = [...]string{
	OpExec:                 "Exec",
	OpQuery:                "Query",
	OpQueryRow:             "QueryRow",
	OpExecRaw:              "ExecRaw",
	OpSendBatch:            "SendBatch",
	OpCopyFrom:             "CopyFrom",
	OpTransaction:          "Transaction",
	OpConnect:              "Connect",
	OpDisconnect:           "Disconnect",
	OpSubscribeQueryEvents: "SubscribeQueryEvents",
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}

	return "Op(" + strconv.Itoa(int(op)) + ")"
}

// AllOps returns every operation of the client surface.
func AllOps() []Op {
	ops := make([]Op, 0, len(opNames))
	for i := range opNames {
		ops = append(ops, Op(i))
	}

	return ops
}

// OpSet is the set of operations a client or a transaction handle can serve.
type OpSet uint16

// NewOpSet builds an OpSet from ops.
func NewOpSet(ops ...Op) OpSet {
	var set OpSet
	for _, op := range ops {
		set |= 1 << op
	}

	return set
}

// Has reports whether op is in the set.
func (s OpSet) Has(op Op) bool {
	return s&(1<<op) != 0
}

// With returns a copy of the set including ops.
func (s OpSet) With(ops ...Op) OpSet {
	return s | NewOpSet(ops...)
}

// Without returns a copy of the set excluding ops.
func (s OpSet) Without(ops ...Op) OpSet {
	return s &^ NewOpSet(ops...)
}

func (s OpSet) String() string {
	names := make([]string, 0, len(opNames))
	for _, op := range AllOps() {
		if s.Has(op) {
			names = append(names, op.String())
		}
	}

	return "{" + strings.Join(names, ",") + "}"
}

var (
	// HandleOps - operations served by a transaction handle.
	HandleOps = NewOpSet(OpExec, OpQuery, OpQueryRow, OpExecRaw, OpSendBatch, OpCopyFrom, OpTransaction)
	// ClientOps - operations served by a top-level transactional client.
	ClientOps = HandleOps.With(OpConnect, OpDisconnect, OpSubscribeQueryEvents)
	// TransactionalOps - the minimum a custom client must serve to back test transactions.
	TransactionalOps = NewOpSet(OpConnect, OpDisconnect, OpTransaction)
)
