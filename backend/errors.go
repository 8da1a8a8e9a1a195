package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"invasion-viewer/models"
)

// Error is returned by every Client call that fails. It unwraps to both the
// error kind (models.ErrNotFound, models.ErrTimeout, ...) and the cause.
type Error struct {
	Op         string
	StatusCode int
	Kind       error
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: backend returned status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func kindForStatus(status int) error {
	switch status {
	case http.StatusNotFound:
		return models.ErrNotFound
	case http.StatusConflict:
		return models.ErrConflict
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return models.ErrValidation
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return models.ErrTimeout
	default:
		return models.ErrTransport
	}
}

// transportError classifies a failure that happened before a response arrived.
func transportError(op string, ctx context.Context, err error) *Error {
	kind := models.ErrTransport
	var netErr net.Error
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		kind = models.ErrTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = models.ErrTimeout
	}
	return &Error{Op: op, Kind: kind, Err: err}
}
