package callinfo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// CallerInfo is the metadata attached to a call at session start. CallerID
// is the label stamped onto every emitted transcription event.
type CallerInfo struct {
	CallerID string
	From     string
	To       string
}

// Resolver looks up caller metadata for a call. Implementations must be safe
// for concurrent use; the gateway resolves from multiple connection loops.
type Resolver interface {
	Resolve(ctx context.Context, callSid string) (CallerInfo, error)
}

// Placeholder generates an opaque caller label used when resolution fails
// or no call identifier is available. Resolution failure degrades the label,
// never the session.
func Placeholder() string {
	return fmt.Sprintf("caller-%s", uuid.New().String()[:8])
}

// StaticResolver returns a fixed caller id for every call, used in tests and
// single-tenant deployments.
type StaticResolver struct {
	CallerID string
}

// Resolve returns the configured caller id.
func (r StaticResolver) Resolve(_ context.Context, _ string) (CallerInfo, error) {
	return CallerInfo{CallerID: r.CallerID}, nil
}
