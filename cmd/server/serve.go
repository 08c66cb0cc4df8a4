package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/sessionkit/internal/config"
	"github.com/and161185/sessionkit/internal/limiter"
	"github.com/and161185/sessionkit/internal/migrate"
	"github.com/and161185/sessionkit/internal/repository"
	"github.com/and161185/sessionkit/internal/repository/memory"
	"github.com/and161185/sessionkit/internal/repository/postgres"
	grpcserver "github.com/and161185/sessionkit/internal/server/grpc"
	"github.com/and161185/sessionkit/internal/server/httpapi"
	"github.com/and161185/sessionkit/internal/service"
)

const shutdownGrace = 5 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the optional gRPC listener",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Dev)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return serve(cmd.Context(), cfg, logger)
		},
	}
	f := cmd.Flags()
	f.String("addr", ":8080", "HTTP listen address")
	f.String("grpc-addr", "", "gRPC listen address (empty disables)")
	f.String("jwt-key", "", "HS256 signing key (required)")
	f.Duration("access-ttl", 15*time.Minute, "access token TTL")
	f.Duration("refresh-ttl", 30*24*time.Hour, "refresh token TTL")
	f.String("store", config.StorePostgres, "storage backend: postgres or memory")
	f.String("tls-cert", "", "TLS certificate (PEM)")
	f.String("tls-key", "", "TLS private key (PEM)")
	f.Bool("dev", false, "development logging and gRPC reflection")
	f.Bool("require-email-verification", false, "new accounts must confirm a mailed code before logging in")
	return cmd
}

type backend struct {
	accounts repository.AccountRepository
	tokens   repository.TokenRepository
	codes    repository.CodeRepository
	lim      limiter.Limiter
	ping     httpapi.Pinger
	close    func()
}

func openBackend(ctx context.Context, cfg config.Server, log *zap.Logger) (*backend, error) {
	l := cfg.Limiter
	if cfg.Store == config.StoreMemory {
		log.Warn("using in-memory store; data is lost on exit")
		return &backend{
			accounts: memory.NewAccounts(),
			tokens:   memory.NewTokens(),
			codes:    memory.NewCodes(),
			lim:      limiter.NewMemory(l.Window, l.MaxFails, l.BlockFor),
			close:    func() {},
		}, nil
	}

	if err := migrate.Up(ctx, cfg.DSN, log); err != nil {
		return nil, err
	}
	db, err := postgres.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &backend{
		accounts: postgres.NewAccountRepo(db),
		tokens:   postgres.NewTokenRepo(db),
		codes:    postgres.NewCodeRepo(db),
		lim:      limiter.NewPG(db.Pool, l.Window, l.MaxFails, l.BlockFor),
		ping:     db,
		close:    db.Close,
	}, nil
}

func serve(ctx context.Context, cfg config.Server, log *zap.Logger) error {
	log.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
		zap.String("store", cfg.Store),
	)

	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer be.close()

	svc := service.NewAccountService(be.accounts, be.tokens, be.codes, be.lim, service.Config{
		SignKey:    []byte(cfg.JWTKey),
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
		ResetTTL:   cfg.ResetTTL,

		RequireVerification: cfg.RequireEmailVerification,
	}, log)

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewRouter(svc, be.ping, log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	tls := cfg.TLSCert != ""

	// The gRPC listener is bound first so a setup failure leaves nothing running.
	grpcSrv, lis, err := newGRPC(cfg, svc, log)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("http listening", zap.String("addr", cfg.Addr), zap.Bool("tls", tls))
		var err error
		if tls {
			err = httpSrv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if grpcSrv != nil {
		go func() {
			log.Info("grpc listening", zap.String("addr", lis.Addr().String()))
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Error("server error", zap.Error(err))
		shutdown(httpSrv, grpcSrv)
		return err
	}
	shutdown(httpSrv, grpcSrv)
	log.Info("shutdown complete")
	return nil
}

// newGRPC builds the gRPC server and binds its listener. It returns nils when
// no gRPC address is configured.
func newGRPC(cfg config.Server, svc *service.AccountService, log *zap.Logger) (*grpc.Server, net.Listener, error) {
	if cfg.GRPCAddr == "" {
		return nil, nil, nil
	}
	var opts []grpc.ServerOption
	if cfg.TLSCert != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, grpc.Creds(creds))
	}
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return nil, nil, err
	}
	srv, _ := grpcserver.New(svc.ParseAccessToken, log, opts...)
	if cfg.Dev {
		reflection.Register(srv)
	}
	return srv, lis, nil
}

func shutdown(httpSrv *http.Server, grpcSrv *grpc.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)

	if grpcSrv == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		grpcSrv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		grpcSrv.Stop()
	}
}
