package grpc

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dmitrijs2005/memvault/internal/common"
	"github.com/dmitrijs2005/memvault/internal/vault"
)

func (s *GRPCServer) caller(ctx context.Context) (string, error) {
	id, ok := userIDFromContext(ctx)
	if !ok {
		return "", toStatus(common.ErrUnauthorized)
	}
	return id, nil
}

func (s *GRPCServer) fail(ctx context.Context, op string, err error) error {
	st := toStatus(err)
	s.logger.Error(ctx, op+" failed", "error", err.Error())
	return st
}

func (s *GRPCServer) EncryptMemory(ctx context.Context, req *EncryptRequest) (*EncryptResponse, error) {
	userID, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}

	value := req.Value
	if req.Bytes != nil {
		value = req.Bytes
	}
	if value == nil {
		return nil, status.Error(codes.InvalidArgument, "value or bytes is required")
	}

	id, err := s.vault.EncryptMemory(ctx, userID, value, vault.EncryptOptions{
		Type:        req.Type,
		IsShortTerm: req.IsShortTerm,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		return nil, s.fail(ctx, "encrypt memory", err)
	}
	return &EncryptResponse{ID: id}, nil
}

func (s *GRPCServer) DecryptMemories(ctx context.Context, req *DecryptRequest) (*DecryptResponse, error) {
	userID, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}

	entries, err := s.vault.DecryptMemories(ctx, userID, vault.DecryptOptions{Type: req.Type, Limit: req.Limit})
	if err != nil {
		return nil, s.fail(ctx, "decrypt memories", err)
	}
	if entries == nil {
		entries = []vault.Entry{}
	}
	return &DecryptResponse{Memories: entries}, nil
}

func (s *GRPCServer) RegisterUserKey(ctx context.Context, _ *RegisterKeyRequest) (*RegisterKeyResponse, error) {
	userID, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}

	reg, err := s.vault.RegisterUserKey(ctx, userID)
	if err != nil {
		return nil, s.fail(ctx, "register key", err)
	}
	return &RegisterKeyResponse{Created: reg.Created, CreatedAt: reg.CreatedAt}, nil
}

func (s *GRPCServer) PurgeUserMemories(ctx context.Context, _ *PurgeRequest) (*PurgeResponse, error) {
	userID, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.vault.PurgeUserMemories(ctx, userID); err != nil {
		return nil, s.fail(ctx, "purge", err)
	}
	s.logger.Info(ctx, "Purged user memories", "userId", userID)
	return &PurgeResponse{}, nil
}
