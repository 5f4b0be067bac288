package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/matheus3301/duet/internal/account"
	"github.com/matheus3301/duet/internal/gateway"
	"github.com/matheus3301/duet/internal/outbox"
	"github.com/matheus3301/duet/internal/restapi"
	"github.com/matheus3301/duet/internal/state"
	"github.com/sony/gobreaker"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// toStatus maps a domain error onto a gRPC status.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}
	return grpcstatus.Error(codeOf(err), err.Error())
}

func codeOf(err error) codes.Code {
	var (
		apiErr  *restapi.APIError
		connErr *gateway.ConnectionError
		sendErr *outbox.SendError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, account.ErrSignedOut), errors.Is(err, restapi.ErrUnauthorized):
		return codes.Unauthenticated
	case errors.As(err, &connErr):
		if connErr.Rejected() {
			return codes.Unauthenticated
		}
		return codes.Unavailable
	case errors.As(err, &sendErr):
		if sendErr.Kind == outbox.AttachmentUploadFailed {
			return codes.FailedPrecondition
		}
		return codes.Unavailable
	case errors.Is(err, outbox.ErrEmpty):
		return codes.InvalidArgument
	case errors.Is(err, outbox.ErrNotFailed):
		return codes.FailedPrecondition
	case errors.Is(err, outbox.ErrUnknownSend), errors.Is(err, state.ErrUnknownMessage):
		return codes.NotFound
	case errors.Is(err, gateway.ErrNotConnected), errors.Is(err, gobreaker.ErrOpenState):
		return codes.Unavailable
	case errors.Is(err, state.ErrClosed):
		return codes.Aborted
	case errors.As(err, &apiErr):
		switch {
		case apiErr.Status == http.StatusNotFound:
			return codes.NotFound
		case apiErr.Status == http.StatusForbidden:
			return codes.PermissionDenied
		case apiErr.Status == http.StatusUnprocessableEntity, apiErr.Status == http.StatusBadRequest:
			return codes.InvalidArgument
		case apiErr.Status >= 500:
			return codes.Unavailable
		}
	}
	return codes.Internal
}
