package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/fortiblox/intcode/internal/types"
	"github.com/fortiblox/intcode/pkg/intcode"
	"github.com/fortiblox/intcode/pkg/progstore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Default server limits.
const (
	DefaultMaxStepLimit   = 10_000_000
	DefaultMaxCells       = 16 * 1024 * 1024
	DefaultMaxMessageSize = 16 * 1024 * 1024
)

// ServerConfig holds the server limits.
type ServerConfig struct {
	// MaxStepLimit caps the instructions one request may execute.
	MaxStepLimit uint64

	// MaxCells caps the memory of one request's machine.
	MaxCells int

	// MaxMessageSize caps request and response sizes in bytes.
	MaxMessageSize int
}

// DefaultServerConfig returns the default server limits.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MaxStepLimit:   DefaultMaxStepLimit,
		MaxCells:       DefaultMaxCells,
		MaxMessageSize: DefaultMaxMessageSize,
	}
}

// Runner is the service implemented by Server.
type Runner interface {
	Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Runner)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: executeHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func executeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ExecuteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Runner).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: executeMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Runner).Execute(ctx, req.(*ExecuteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Server runs programs on behalf of remote callers.
type Server struct {
	store  progstore.Store // may be nil
	config ServerConfig
	log    *slog.Logger
	grpc   *grpc.Server

	executed atomic.Uint64
	failed   atomic.Uint64
}

// NewServer creates a server. store may be nil, in which case only inline
// program text is accepted.
func NewServer(store progstore.Store, config ServerConfig, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if config.MaxStepLimit == 0 {
		config.MaxStepLimit = DefaultMaxStepLimit
	}
	if config.MaxCells <= 0 {
		config.MaxCells = DefaultMaxCells
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}

	s := &Server{
		store:  store,
		config: config,
		log:    log,
	}
	s.grpc = grpc.NewServer(
		grpc.MaxRecvMsgSize(config.MaxMessageSize),
		grpc.MaxSendMsgSize(config.MaxMessageSize),
		grpc.UnaryInterceptor(s.logUnary),
	)
	s.grpc.RegisterService(&serviceDesc, s)
	return s
}

// Serve accepts connections on lis until ctx is cancelled, then stops
// gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.log.Info("serving", "addr", lis.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.grpc.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		s.grpc.GracefulStop()
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// Stop closes all connections immediately.
func (s *Server) Stop() {
	s.grpc.Stop()
}

// Stats returns the number of completed and failed requests.
func (s *Server) Stats() (executed, failed uint64) {
	return s.executed.Load(), s.failed.Load()
}

// Execute implements Runner.
func (s *Server) Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error) {
	text, err := s.programText(req)
	if err != nil {
		return nil, err
	}
	cells, err := intcode.Parse(text)
	if err != nil {
		return nil, invalidArgument(err)
	}

	limit := req.StepLimit
	if limit == 0 || limit > s.config.MaxStepLimit {
		limit = s.config.MaxStepLimit
	}
	m := intcode.New(cells, intcode.Options{
		StepLimit: limit,
		MaxCells:  s.config.MaxCells,
		Logger:    s.log,
	})

	for _, p := range req.Pokes {
		if err := m.Poke(p.Addr, p.Value); err != nil {
			return nil, invalidArgument(err)
		}
	}
	m.Push(req.Inputs...)
	m.PushASCII(req.ASCII)

	outputs := []int64{}
	for {
		if err := ctx.Err(); err != nil {
			return nil, status.FromContextError(err).Err()
		}
		res, err := m.Run()
		if err != nil {
			return nil, runError(err)
		}
		if res.Status != intcode.StatusOutput {
			break
		}
		outputs = append(outputs, res.Value)
	}

	return &ExecuteResponse{
		ProgramID: types.ComputeProgramID(intcode.Format(cells)).String(),
		Outputs:   outputs,
		Status:    m.Status().String(),
		Steps:     m.Steps(),
		Cursor:    m.Cursor(),
	}, nil
}

func (s *Server) programText(req *ExecuteRequest) (string, error) {
	if req.Program != "" {
		return req.Program, nil
	}
	if req.Ref == "" {
		return "", status.Error(codes.InvalidArgument, "program or ref is required")
	}
	if s.store == nil {
		return "", status.Error(codes.FailedPrecondition, "no program store configured")
	}

	prog, err := s.store.Get(req.Ref)
	if err != nil {
		return "", storeError(err)
	}
	return prog.Text, nil
}

func (s *Server) logUnary(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	code := status.Code(err)
	if err != nil {
		s.failed.Add(1)
		s.log.Warn("request failed", "method", info.FullMethod, "code", code.String(), "err", err)
	} else {
		s.executed.Add(1)
		s.log.Debug("request done", "method", info.FullMethod, "elapsed", time.Since(start))
	}
	return resp, err
}

// String describes the server limits.
func (c ServerConfig) String() string {
	return fmt.Sprintf("max_steps=%d max_cells=%d max_msg=%d", c.MaxStepLimit, c.MaxCells, c.MaxMessageSize)
}
