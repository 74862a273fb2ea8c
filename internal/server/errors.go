package server

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/matt-riley/cerebro/internal/core"
	"github.com/matt-riley/cerebro/internal/service"
)

var errUnauthenticated = errors.New("namespace could not be determined")

// errorClass maps a service error onto both transports.
type errorClass struct {
	httpStatus int
	grpcCode   codes.Code
	message    string
}

func classifyError(err error) errorClass {
	switch {
	case errors.Is(err, errUnauthenticated):
		return errorClass{http.StatusUnauthorized, codes.Unauthenticated, "unauthorized"}
	case errors.Is(err, service.ErrNamespaceRequired):
		return errorClass{http.StatusBadRequest, codes.InvalidArgument, "namespace is required"}
	case errors.Is(err, service.ErrSettingRequired):
		return errorClass{http.StatusBadRequest, codes.InvalidArgument, "setting name is required"}
	case errors.Is(err, core.ErrMissingPercentageSeed):
		return errorClass{http.StatusBadRequest, codes.InvalidArgument, core.ErrMissingPercentageSeed.Error()}
	case errors.Is(err, service.ErrInvalidEntry):
		return errorClass{http.StatusUnprocessableEntity, codes.InvalidArgument, err.Error()}
	case errors.Is(err, core.ErrUnknownConditionType),
		errors.Is(err, core.ErrInvalidRangeFormat),
		errors.Is(err, core.ErrNonNumericRangeContext):
		return errorClass{http.StatusUnprocessableEntity, codes.FailedPrecondition, err.Error()}
	case errors.Is(err, service.ErrNamespaceNotFound):
		return errorClass{http.StatusNotFound, codes.NotFound, "namespace not found"}
	case errors.Is(err, service.ErrSettingNotFound):
		return errorClass{http.StatusNotFound, codes.NotFound, "setting not found"}
	case errors.Is(err, context.Canceled):
		return errorClass{http.StatusRequestTimeout, codes.Canceled, "request canceled"}
	case errors.Is(err, context.DeadlineExceeded):
		return errorClass{http.StatusGatewayTimeout, codes.DeadlineExceeded, "deadline exceeded"}
	default:
		return errorClass{http.StatusInternalServerError, codes.Internal, "internal server error"}
	}
}

func toGRPCError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	class := classifyError(err)
	return status.Error(class.grpcCode, class.message)
}
