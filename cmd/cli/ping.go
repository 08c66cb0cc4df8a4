package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/and161185/sessionkit/internal/errs"
	"github.com/and161185/sessionkit/internal/grpcauth"
	grpcserver "github.com/and161185/sessionkit/internal/server/grpc"
)

// transportCreds returns plaintext credentials for local development and
// system-root TLS otherwise.
func transportCreds(plaintext bool) credentials.TransportCredentials {
	if plaintext {
		return insecure.NewCredentials()
	}
	return credentials.NewClientTLSFromCert(nil, "")
}

func newPingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check the gRPC listener with the stored access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.GRPCAddr == "" {
				return errs.E(errs.KindValidation, "ping", fmt.Errorf("grpc_addr is not configured"))
			}
			ctx := cmd.Context()
			a.session.Initialize(ctx)

			conn, err := grpc.NewClient(a.cfg.GRPCAddr,
				grpc.WithTransportCredentials(transportCreds(a.cfg.GRPCInsecure)),
				grpc.WithUnaryInterceptor(grpcauth.UnaryClientInterceptor(a.session.AccessToken, a.session.ClearAuth, a.log)),
			)
			if err != nil {
				return errs.E(errs.KindNetwork, "ping", err)
			}
			defer conn.Close()

			if a.cfg.APITimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, a.cfg.APITimeout)
				defer cancel()
			}
			resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: grpcserver.ServiceName})
			if err != nil {
				if errs.KindOf(err) != errs.KindUnknown {
					return err
				}
				return errs.E(errs.KindNetwork, "ping", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.GetStatus().String())
			return nil
		},
	}
}
