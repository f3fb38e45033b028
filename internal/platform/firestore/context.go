package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"
)

type txContextKey struct{}

// ContextWithTransaction returns a context carrying the given transaction.
// Repository write operations consult the context so that a group of
// mutations started by RunInTx commits atomically.
func ContextWithTransaction(ctx context.Context, tx *firestore.Transaction) context.Context {
	if ctx == nil || tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txContextKey{}, tx)
}

// TransactionFromContext extracts the ambient transaction, if any.
func TransactionFromContext(ctx context.Context) (*firestore.Transaction, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(txContextKey{}).(*firestore.Transaction)
	return tx, ok && tx != nil
}

// RunInTx executes fn within a Firestore transaction, exposing the
// transaction to repositories through the context. Nested calls reuse the
// ambient transaction instead of opening a new one.
func (p *Provider) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return WrapError("transaction", errors.New("firestore: transaction function is nil"))
	}
	if _, ok := TransactionFromContext(ctx); ok {
		return fn(ctx)
	}
	return p.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(ContextWithTransaction(ctx, tx))
	})
}
