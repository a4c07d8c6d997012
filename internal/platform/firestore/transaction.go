package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	txMaxAttempts = 5
	txTimeout     = 15 * time.Second
)

// TxFunc is the body of a transaction. Firestore retries it on contention, so it must not
// have side effects outside tx.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// RunTransaction runs fn on client with a bounded retry count and duration. Errors that
// already carry repository semantics come back unchanged; the rest are wrapped.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc) error {
	switch {
	case client == nil:
		return errors.New("firestore: client is nil")
	case fn == nil:
		return errors.New("firestore: transaction function is nil")
	}

	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > txTimeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, txTimeout)
		defer cancel()
	}

	err := client.RunTransaction(ctx, fn, firestore.MaxAttempts(txMaxAttempts))
	var classified interface{ IsNotFound() bool }
	if err == nil || errors.As(err, &classified) {
		return err
	}
	return WrapError("transaction", err)
}
