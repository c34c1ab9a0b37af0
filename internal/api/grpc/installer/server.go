package installer

import (
	"context"
	"errors"

	"github.com/spf13/afero"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/boot-installer/internal/logger"
	svc "github.com/oshokin/boot-installer/internal/service/installer"
	"github.com/oshokin/boot-installer/internal/version"
)

// Service abstracts the installer operations the transport layer depends on.
type Service interface {
	Execute(ctx context.Context, req svc.Request) (*svc.Result, error)
	Active() bool
}

// Server implements the InstallerService gRPC API.
type Server struct {
	// service runs the operations.
	service Service
	// fs opens input files named by callers.
	fs afero.Fs
}

var _ InstallerServer = (*Server)(nil)

// NewServer wires the provided service into a gRPC handler. Input paths are
// resolved on fs, or on the OS filesystem when fs is nil.
func NewServer(service Service, fs afero.Fs) *Server {
	if fs == nil {
		fs = afero.NewOsFs()
	}

	return &Server{
		service: service,
		fs:      fs,
	}
}

// Execute runs one operation. Installation failures are reported inside the
// response together with the console; a busy installer yields codes.Aborted.
func (s *Server) Execute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	call, err := DecodeCall(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	ctx = logger.WithKV(ctx, "requested_by", call.RequestedBy)

	request := svc.Request{Operation: call.Operation}

	if call.Operation == svc.OpPatchFile {
		if call.InputPath == "" {
			return nil, status.Error(codes.InvalidArgument, "input_path is required")
		}

		input, err := s.fs.Open(call.InputPath)
		if err != nil {
			return nil, status.Errorf(codes.NotFound, "open input: %v", err)
		}

		defer func() {
			_ = input.Close()
		}()

		request.Input = input
	}

	logger.InfoKV(ctx, "Executing remote operation", "operation", call.Operation.String())

	res, runErr := s.service.Execute(ctx, request)
	if errors.Is(runErr, svc.ErrSessionActive) {
		return nil, status.Error(codes.Aborted, runErr.Error())
	}

	resp, err := EncodeResult(res, runErr)
	if err != nil {
		return nil, status.Error(codes.Internal, "unable to encode result")
	}

	return resp, nil
}

// Status reports whether an operation is running.
func (s *Server) Status(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	resp, err := EncodeStatus(Status{
		Active:  s.service.Active(),
		Version: version.Short(),
	})
	if err != nil {
		return nil, status.Error(codes.Internal, "unable to encode status")
	}

	return resp, nil
}
