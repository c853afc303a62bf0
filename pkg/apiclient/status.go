package apiclient

import (
	"context"
	"fmt"

	"github.com/toques-bi/toques/pkg/helpers"
)

type requireSuccessKey struct{}

// StatusError is returned for a non-success response when the caller asked for it via RequireSuccess.
type StatusError struct {
	Endpoint string
	Status   int
	Message  string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s returned status %d", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Endpoint, e.Status, e.Message)
}

// RequireSuccess marks ctx so that non-success responses, including exhausted
// rate limiting, surface as *StatusError instead of an empty document.
func RequireSuccess(ctx context.Context) context.Context {
	return context.WithValue(ctx, requireSuccessKey{}, true)
}

func statusError(ctx context.Context, endpoint string, status int, body string) error {
	if strict, _ := ctx.Value(requireSuccessKey{}).(bool); !strict {
		return nil
	}
	return &StatusError{Endpoint: endpoint, Status: status, Message: helpers.TruncateMessage(body)}
}
