package rpc

import (
	"context"

	"github.com/vietddude/adbatch/internal/core/domain"
	"github.com/vietddude/adbatch/internal/infra/rpc/provider"
)

// NewOperation creates a non-idempotent Operation. Transient failures are
// returned to the caller instead of being retried.
func NewOperation(
	name string,
	invoke func(ctx context.Context, cred domain.Credential) (any, error),
) Operation {
	return provider.Operation{
		Name:   name,
		Invoke: invoke,
	}
}

// NewIdempotentOperation creates an Operation the Coordinator may retry on
// transient failures.
func NewIdempotentOperation(
	name string,
	invoke func(ctx context.Context, cred domain.Credential) (any, error),
) Operation {
	return provider.Operation{
		Name:       name,
		Idempotent: true,
		Invoke:     invoke,
	}
}
