package rpc

import (
	"errors"

	"github.com/fortiblox/intcode/pkg/intcode"
	"github.com/fortiblox/intcode/pkg/progstore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Status codes returned by Execute:
//
//	InvalidArgument    malformed program text, bad poke, missing program
//	NotFound           Ref names no stored program
//	FailedPrecondition Ref given but the server has no store
//	ResourceExhausted  step or memory limit reached
//	Aborted            the machine faulted
//	Canceled/DeadlineExceeded  the caller gave up

func invalidArgument(err error) error {
	return status.Error(codes.InvalidArgument, err.Error())
}

// storeError maps progstore errors to status errors.
func storeError(err error) error {
	if errors.Is(err, progstore.ErrNotFound) {
		return status.Error(codes.NotFound, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// runError maps machine errors to status errors.
func runError(err error) error {
	if errors.Is(err, intcode.ErrStepLimitExceeded) || errors.Is(err, intcode.ErrMemoryLimit) {
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	var fault *intcode.Fault
	if errors.As(err, &fault) {
		return status.Error(codes.Aborted, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
