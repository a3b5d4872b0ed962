package verify

import (
	"context"

	"wardsync/internal/entity"
)

// Verifier approves or rejects a verification_record mutation before it
// is merged. A RejectionError marks a policy rejection; any other error
// is treated as a verifier outage and also rejects the operation.
type Verifier interface {
	Verify(ctx context.Context, entityID string, mutation map[string]entity.Value) error
}

// RejectionError reports that the verifier looked at the mutation and
// said no.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return "verification rejected: " + e.Reason
}

// Func adapts a plain function to the Verifier interface.
type Func func(ctx context.Context, entityID string, mutation map[string]entity.Value) error

func (f Func) Verify(ctx context.Context, entityID string, mutation map[string]entity.Value) error {
	return f(ctx, entityID, mutation)
}

// AcceptAll approves every mutation. It is the default when no external
// verifier is configured.
func AcceptAll() Verifier {
	return Func(func(context.Context, string, map[string]entity.Value) error {
		return nil
	})
}
