package syncrun

import (
	"context"

	"github.com/google/uuid"
)

type runIDKey struct{}

// WithRunID tags ctx with the id of the sync run executing under it, so
// listing events can be attributed to the run.
func WithRunID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

func RunIDFrom(ctx context.Context) *uuid.UUID {
	id, ok := ctx.Value(runIDKey{}).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return nil
	}
	return &id
}
