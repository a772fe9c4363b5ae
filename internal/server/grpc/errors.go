package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus translates domain errors into gRPC statuses. Unrecognised errors
// are logged and reported as Internal without detail.
func (s *GRPCServer) toStatus(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var rl *common.RateLimitError
	switch {
	case errors.As(err, &rl):
		return status.Error(codes.ResourceExhausted, rl.Error())

	case errors.Is(err, common.ErrMissingToken),
		errors.Is(err, common.ErrInvalidAuthHeaderFormat),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired),
		errors.Is(err, common.ErrTokenRevoked),
		errors.Is(err, common.ErrRefreshTokenUsed),
		errors.Is(err, common.ErrRefreshTokenExpired),
		errors.Is(err, common.ErrRefreshTokenRevoked),
		errors.Is(err, common.ErrorUnauthorized):
		return status.Error(codes.Unauthenticated, authMessage(err))

	case errors.Is(err, common.ErrorValidation):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, common.ErrorAlreadyExists):
		return status.Error(codes.AlreadyExists, "already exists")

	case errors.Is(err, common.ErrorNotFound):
		return status.Error(codes.NotFound, "not found")

	case errors.Is(err, common.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, common.ErrPoolTimeout):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")

	case errors.Is(err, common.ErrStoreUnavailable),
		errors.Is(err, common.ErrTransientStorage),
		errors.Is(err, common.ErrPoolClosed),
		errors.Is(err, common.ErrPoolExhausted),
		errors.Is(err, common.ErrConnectionFailed):
		return status.Error(codes.Unavailable, "service unavailable")
	}

	s.logger.Error(ctx, "internal error", "error", err)
	return status.Error(codes.Internal, "internal error")
}

func authMessage(err error) string {
	switch {
	case errors.Is(err, common.ErrMissingToken):
		return "missing token"
	case errors.Is(err, common.ErrTokenExpired), errors.Is(err, common.ErrRefreshTokenExpired):
		return "token expired"
	case errors.Is(err, common.ErrTokenRevoked), errors.Is(err, common.ErrRefreshTokenRevoked):
		return "token revoked"
	case errors.Is(err, common.ErrRefreshTokenUsed):
		return "refresh token already used"
	case errors.Is(err, common.ErrInvalidAuthHeaderFormat), errors.Is(err, common.ErrInvalidToken):
		return "invalid token"
	}
	return "unauthorized"
}
