// Package grpcserver hosts the authenticated gRPC side listener.
package grpcserver

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/and161185/sessionkit/internal/server/authctx"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// TokenParser verifies an access token and returns its subject.
type TokenParser func(tok string) (uuid.UUID, error)

// LoggingUnary returns a unary server interceptor for structured logging.
func LoggingUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)

		var remote string
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			remote = p.Addr.String()
		}
		// metadata only, never payloads
		log.Info("grpc",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", remote),
		)
		return resp, err
	}
}

// RecoverUnary returns a unary server interceptor that recovers from panics.
func RecoverUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("method", info.FullMethod),
				)
				err = status.Error(codes.Internal, "internal")
			}
		}()
		return next(ctx, req)
	}
}

// AuthUnary rejects calls without a valid bearer token, except for the
// listed public methods, and puts the caller's ID into the context.
func AuthUnary(parse TokenParser, public ...string) grpc.UnaryServerInterceptor {
	open := methodSet(public)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if open[info.FullMethod] {
			return next(ctx, req)
		}
		ctx, err := authenticate(ctx, parse)
		if err != nil {
			return nil, err
		}
		return next(ctx, req)
	}
}

// AuthStream is AuthUnary for streaming calls.
func AuthStream(parse TokenParser, public ...string) grpc.StreamServerInterceptor {
	open := methodSet(public)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, next grpc.StreamHandler) error {
		if open[info.FullMethod] {
			return next(srv, ss)
		}
		ctx, err := authenticate(ss.Context(), parse)
		if err != nil {
			return err
		}
		return next(srv, &authedStream{ServerStream: ss, ctx: ctx})
	}
}

type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context { return s.ctx }

func methodSet(methods []string) map[string]bool {
	m := make(map[string]bool, len(methods))
	for _, v := range methods {
		m[v] = true
	}
	return m
}

func authenticate(ctx context.Context, parse TokenParser) (context.Context, error) {
	tok, ok := bearerTokenFromMD(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing bearer token")
	}
	id, err := parse(tok)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}
	return authctx.WithUserID(ctx, id), nil
}

func bearerTokenFromMD(ctx context.Context) (string, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	for _, v := range md.Get("authorization") {
		if t, ok := authctx.BearerToken(v); ok {
			return t, true
		}
	}
	return "", false
}
