package rpc

import (
	"errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"skiff.dev/skiff/docstore"
	"skiff.dev/skiff/model"
	"skiff.dev/skiff/storage"
)

// mapErr turns domain errors into gRPC statuses on the server side.
// Sentinel messages ride in the status message so mapRPC can restore
// them on the client side.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok && status.Code(err) != codes.Unknown {
		return err
	}
	switch {
	case errors.Is(err, docstore.ErrEntryNotFound),
		errors.Is(err, docstore.ErrUnknownNamespace),
		errors.Is(err, docstore.ErrUnknownAuthor),
		errors.Is(err, storage.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, docstore.ErrReadOnly):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, docstore.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, storage.ErrInvalidCID), model.IsCode(err, model.ErrTicketParse):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, storage.ErrCIDMismatch):
		return status.Error(codes.DataLoss, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

var wireCodes = []model.ErrorCode{
	model.ErrRuntime,
	model.ErrNodeCreate,
	model.ErrDoc,
	model.ErrTicketParse,
	model.ErrAuthor,
}

var wireSentinels = []error{
	docstore.ErrEntryNotFound,
	docstore.ErrUnknownNamespace,
	docstore.ErrUnknownAuthor,
	docstore.ErrReadOnly,
	docstore.ErrClosed,
	storage.ErrNotFound,
	storage.ErrInvalidCID,
	storage.ErrCIDMismatch,
}

// mapRPC restores domain errors from gRPC statuses on the client side.
// Coded errors come back as coded errors, known sentinels as the
// sentinel values, so errors.Is works across the wire.
func mapRPC(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	msg := st.Message()
	for _, code := range wireCodes {
		prefix := string(code) + ": "
		if strings.HasPrefix(msg, prefix) {
			return model.NewError(code, strings.TrimPrefix(msg, prefix))
		}
	}
	for _, sentinel := range wireSentinels {
		if msg == sentinel.Error() {
			return sentinel
		}
	}
	switch st.Code() {
	case codes.NotFound:
		return docstore.ErrEntryNotFound
	case codes.PermissionDenied:
		return docstore.ErrReadOnly
	case codes.DataLoss:
		return storage.ErrCIDMismatch
	default:
		return err
	}
}
