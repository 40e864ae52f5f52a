package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/agentgate/internal/approval"
	"github.com/ppiankov/agentgate/internal/captoken"
	"github.com/ppiankov/agentgate/internal/config"
	"github.com/ppiankov/agentgate/internal/contract"
	"github.com/ppiankov/agentgate/internal/gate"
	"github.com/ppiankov/agentgate/internal/model"
)

// Config holds gRPC server configuration.
type Config struct {
	Addr       string
	ConfigPath string
	Log        io.Writer
}

// Server exposes a Gate over gRPC.
type Server struct {
	gate       *gate.Gate
	cfg        Config
	log        io.Writer
	grpcServer *grpc.Server
}

// New creates a gRPC server for g.
func New(g *gate.Gate, cfg Config) *Server {
	log := cfg.Log
	if log == nil {
		log = os.Stderr
	}
	s := &Server{
		gate:       g,
		cfg:        cfg,
		log:        log,
		grpcServer: grpc.NewServer(),
	}
	RegisterGateServer(s.grpcServer, s)
	return s
}

// Serve listens on the configured address. Blocks until stopped.
func (s *Server) Serve() error {
	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.cfg.Addr, err)
	}
	fmt.Fprintf(s.log, "server: listening on %s\n", lis.Addr())
	return s.grpcServer.Serve(lis)
}

// ServeOn serves on the given listener. For testing.
func (s *Server) ServeOn(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// GracefulStop gracefully shuts down the gRPC server.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// ReloadPolicy reloads the config file and swaps it into the gate.
// Called by the hot-reloader on file change.
func (s *Server) ReloadPolicy() error {
	cfg, hash, err := config.LoadWithHash(s.cfg.ConfigPath)
	if err != nil {
		return err
	}
	if hash == s.gate.PolicyHash() {
		return nil
	}
	return s.gate.Reload(cfg, hash)
}

// DecideRequest is the Decide request body.
type DecideRequest struct {
	Event model.Event `json:"event"`
}

// Decide implements the Decide RPC.
func (s *Server) Decide(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req DecideRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode event: %v", err)
	}
	d, err := s.gate.Decide(ctx, req.Event)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(d)
}

// ExecuteRequest is the Execute request body.
type ExecuteRequest struct {
	Envelope *contract.DecisionEnvelope `json:"envelope"`
}

// ExecuteResponse is the Execute response body.
type ExecuteResponse struct {
	Status  contract.ExecStatus        `json:"status"`
	Receipt *contract.ExecutionReceipt `json:"receipt"`
	Error   string                     `json:"error,omitempty"`
	Kind    string                     `json:"kind,omitempty"`
}

// Execute implements the Execute RPC. The side effect runs on the caller:
// an EXECUTED receipt clears it to proceed, a BLOCKED receipt does not.
func (s *Server) Execute(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ExecuteRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode envelope: %v", err)
	}
	res := s.gate.Execute(ctx, req.Envelope, func(context.Context) (any, error) { return nil, nil })
	resp := ExecuteResponse{Status: res.Status, Receipt: res.Receipt}
	if res.Err != nil {
		resp.Error = res.Err.Error()
		resp.Kind = contract.Kind(res.Err)
	}
	return toStruct(resp)
}

// TokenRequest is the IssueToken request body.
type TokenRequest struct {
	Subject      string   `json:"subject"`
	Capabilities []string `json:"capabilities"`
	TTL          string   `json:"ttl"`
}

// TokenResponse is returned by IssueToken and VerifyToken.
type TokenResponse struct {
	Token        string          `json:"token,omitempty"`
	Details      *captoken.Token `json:"details"`
	Capabilities []string        `json:"capabilities,omitempty"`
}

// IssueToken implements the IssueToken RPC.
func (s *Server) IssueToken(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req TokenRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	ttl := time.Hour
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid ttl %q: %v", req.TTL, err)
		}
		ttl = d
	}
	tok, enc, err := s.gate.IssueToken(req.Subject, req.Capabilities, ttl)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return toStruct(TokenResponse{Token: enc, Details: tok, Capabilities: tok.Capabilities})
}

// VerifyToken implements the VerifyToken RPC.
func (s *Server) VerifyToken(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req struct {
		Token string `json:"token"`
	}
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	tok, caps, err := s.gate.VerifyToken(req.Token)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(TokenResponse{Details: tok, Capabilities: caps})
}

// ResolveRequest is the Approve and Deny request body.
type ResolveRequest struct {
	DecisionID string `json:"decision_id"`
	By         string `json:"by"`
}

// ResolveResponse is the Approve and Deny response body. Envelope is the
// newly issued ALLOW envelope on approval.
type ResolveResponse struct {
	Approval *approval.Approval         `json:"approval"`
	Envelope *contract.DecisionEnvelope `json:"envelope,omitempty"`
}

// Approve implements the Approve RPC.
func (s *Server) Approve(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ResolveRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	a, env, err := s.gate.Approve(ctx, req.DecisionID, resolver(req.By))
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(ResolveResponse{Approval: a, Envelope: env})
}

// Deny implements the Deny RPC.
func (s *Server) Deny(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ResolveRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	a, err := s.gate.Deny(req.DecisionID, resolver(req.By))
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(ResolveResponse{Approval: a})
}

// ListPending implements the ListPending RPC.
func (s *Server) ListPending(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	list, err := s.gate.Pending()
	if err != nil {
		return nil, toStatus(err)
	}
	if list == nil {
		list = []approval.Approval{}
	}
	return toStruct(map[string]any{"approvals": list})
}

func resolver(by string) string {
	if by == "" {
		return "grpc"
	}
	return by
}

// toStatus maps domain errors onto gRPC codes.
func toStatus(err error) error {
	var te *captoken.TokenError
	switch {
	case errors.Is(err, approval.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, approval.ErrResolved):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, gate.ErrNoApprovals):
		return status.Error(codes.Unimplemented, err.Error())
	case errors.As(err, &te):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// toStruct converts any JSON-marshalable value into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	s := new(structpb.Struct)
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return s, nil
}

// fromStruct decodes a Struct into v through its JSON form.
func fromStruct(s *structpb.Struct, v any) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
