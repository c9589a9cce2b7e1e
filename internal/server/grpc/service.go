package grpc

import (
	"context"
	"time"

	"google.golang.org/grpc"

	"github.com/dmitrijs2005/memvault/internal/vault"
)

const serviceName = "memvault.v1.Vault"

// Full method names.
const (
	MethodEncryptMemory   = "/" + serviceName + "/EncryptMemory"
	MethodDecryptMemories = "/" + serviceName + "/DecryptMemories"
	MethodRegisterKey     = "/" + serviceName + "/RegisterUserKey"
	MethodPurge           = "/" + serviceName + "/PurgeUserMemories"
)

// EncryptRequest carries one memory. Value holds any JSON value; Bytes,
// when set, is stored as a raw buffer instead.
type EncryptRequest struct {
	Value       any        `json:"value,omitempty"`
	Bytes       []byte     `json:"bytes,omitempty"`
	Type        string     `json:"type,omitempty"`
	IsShortTerm bool       `json:"isShortTerm,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

type EncryptResponse struct {
	ID string `json:"id"`
}

type DecryptRequest struct {
	Type  string `json:"type,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

type DecryptResponse struct {
	Memories []vault.Entry `json:"memories"`
}

type RegisterKeyRequest struct{}

type RegisterKeyResponse struct {
	Created   bool      `json:"created"`
	CreatedAt time.Time `json:"createdAt"`
}

type PurgeRequest struct{}

type PurgeResponse struct{}

// VaultServer is the server API of the vault service. The caller's user id
// is taken from the context, never from the request.
type VaultServer interface {
	EncryptMemory(context.Context, *EncryptRequest) (*EncryptResponse, error)
	DecryptMemories(context.Context, *DecryptRequest) (*DecryptResponse, error)
	RegisterUserKey(context.Context, *RegisterKeyRequest) (*RegisterKeyResponse, error)
	PurgeUserMemories(context.Context, *PurgeRequest) (*PurgeResponse, error)
}

func unaryHandler[Req any](method string, call func(VaultServer, context.Context, *Req) (any, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(VaultServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(VaultServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes the vault service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*VaultServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "EncryptMemory",
			Handler: unaryHandler(MethodEncryptMemory, func(s VaultServer, ctx context.Context, in *EncryptRequest) (any, error) {
				return s.EncryptMemory(ctx, in)
			}),
		},
		{
			MethodName: "DecryptMemories",
			Handler: unaryHandler(MethodDecryptMemories, func(s VaultServer, ctx context.Context, in *DecryptRequest) (any, error) {
				return s.DecryptMemories(ctx, in)
			}),
		},
		{
			MethodName: "RegisterUserKey",
			Handler: unaryHandler(MethodRegisterKey, func(s VaultServer, ctx context.Context, in *RegisterKeyRequest) (any, error) {
				return s.RegisterUserKey(ctx, in)
			}),
		},
		{
			MethodName: "PurgeUserMemories",
			Handler: unaryHandler(MethodPurge, func(s VaultServer, ctx context.Context, in *PurgeRequest) (any, error) {
				return s.PurgeUserMemories(ctx, in)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "memvault/v1/vault",
}

// Client calls the vault service over a connection. Requests are encoded
// with the JSON codec; the access token goes in the "access_token"
// metadata key.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) EncryptMemory(ctx context.Context, in *EncryptRequest, opts ...grpc.CallOption) (*EncryptResponse, error) {
	return invoke[EncryptResponse](ctx, c.cc, MethodEncryptMemory, in, opts)
}

func (c *Client) DecryptMemories(ctx context.Context, in *DecryptRequest, opts ...grpc.CallOption) (*DecryptResponse, error) {
	return invoke[DecryptResponse](ctx, c.cc, MethodDecryptMemories, in, opts)
}

func (c *Client) RegisterUserKey(ctx context.Context, in *RegisterKeyRequest, opts ...grpc.CallOption) (*RegisterKeyResponse, error) {
	return invoke[RegisterKeyResponse](ctx, c.cc, MethodRegisterKey, in, opts)
}

func (c *Client) PurgeUserMemories(ctx context.Context, in *PurgeRequest, opts ...grpc.CallOption) (*PurgeResponse, error) {
	return invoke[PurgeResponse](ctx, c.cc, MethodPurge, in, opts)
}
