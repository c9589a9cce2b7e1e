// Package grpc exposes the vault facade over gRPC. Messages use a JSON
// codec and the service descriptor is written by hand, so no generated
// code is involved. Every call is authenticated with an access token whose
// subject becomes the vault user id.
package grpc

import (
	"context"
	"net"

	"google.golang.org/grpc"

	"github.com/dmitrijs2005/memvault/internal/logging"
	"github.com/dmitrijs2005/memvault/internal/server/auth"
	"github.com/dmitrijs2005/memvault/internal/vault"
)

// Vault is the part of *vault.Vault served over RPC.
type Vault interface {
	EncryptMemory(ctx context.Context, userID string, value any, opts vault.EncryptOptions) (string, error)
	DecryptMemories(ctx context.Context, userID string, opts vault.DecryptOptions) ([]vault.Entry, error)
	RegisterUserKey(ctx context.Context, userID string) (vault.KeyRegistration, error)
	PurgeUserMemories(ctx context.Context, userID string) error
}

type GRPCServer struct {
	address string
	vault   Vault
	tokens  *auth.Tokens
	logger  logging.Logger
}

func NewGRPCServer(address string, l logging.Logger, v Vault, tokens *auth.Tokens) *GRPCServer {
	return &GRPCServer{
		address: address,
		vault:   v,
		tokens:  tokens,
		logger:  l.With("module", "grpc_server"),
	}
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.recoverInterceptor, s.accessTokenInterceptor))
	srv.RegisterService(&ServiceDesc, s)
	return srv
}

// Run listens on the configured address and serves until ctx is done.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve serves on lis until ctx is done, then stops gracefully.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.newServer()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		s.logger.Info(context.Background(), "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil {
		return err
	}
	<-stopped
	return nil
}
