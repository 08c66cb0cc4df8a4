// Package grpcauth is the gRPC counterpart of apiclient: it injects the bearer
// credential into outgoing metadata and invalidates the session when the
// server reports Unauthenticated.
package grpcauth

import (
	"context"

	"github.com/and161185/sessionkit/internal/apiclient"
	"github.com/and161185/sessionkit/internal/errs"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const authorizationKey = "authorization"

// withAccessToken replaces any authorization entry in the outgoing metadata.
func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(authorizationKey, "Bearer "+token)
	return metadata.NewOutgoingContext(ctx, md)
}

// UnaryClientInterceptor attaches the credential returned by getter (if any)
// and calls invalidate on codes.Unauthenticated. It never retries.
func UnaryClientInterceptor(getter apiclient.TokenGetter, invalidate apiclient.Invalidator, log *zap.Logger) grpc.UnaryClientInterceptor {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if getter != nil {
			tok, err := getter(ctx)
			if err != nil {
				return errs.E(errs.KindVault, method, err)
			}
			if tok != "" {
				ctx = withAccessToken(ctx, tok)
			}
		}

		err := invoker(ctx, method, req, reply, cc, opts...)
		if err == nil {
			return nil
		}
		st, ok := status.FromError(err)
		if !ok || st.Code() != codes.Unauthenticated {
			return err
		}

		if invalidate != nil {
			if ierr := invalidate(ctx); ierr != nil {
				log.Error("credential invalidation failed", zap.String("method", method), zap.Error(ierr))
			}
		}
		return &errs.Error{Kind: errs.KindUnauthorized, Op: method, Message: st.Message(), Err: err}
	}
}
