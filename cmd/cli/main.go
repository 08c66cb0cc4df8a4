// Command sk is the sessionkit command-line client: account login, session
// status and local preferences.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/and161185/sessionkit/internal/errs"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fail(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode: 1 generic, 2 usage/validation, 3 not logged in, 4 rate limited.
func exitCode(err error) int {
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return 2
	case errs.KindUnauthorized:
		return 3
	case errs.KindRateLimited:
		return 4
	}
	return 1
}

func fail(w io.Writer, err error) {
	var e *errs.Error
	if errors.As(err, &e) && e.Message != "" {
		fmt.Fprintf(w, "sk: %s (%s)\n", e.Message, e.Kind)
		return
	}
	fmt.Fprintln(w, "sk:", err)
}

func newRootCmd() *cobra.Command {
	var a app
	root := &cobra.Command{
		Use:           "sk",
		Short:         "sessionkit client",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[noApp] == "true" {
				return nil
			}
			return a.open(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) { a.close() },
	}
	pf := root.PersistentFlags()
	pf.String("config", "", "config file (default $XDG_CONFIG_HOME/sessionkit/config.yaml)")
	pf.String("api-url", "", "account API base URL")
	pf.Duration("api-timeout", 0, "per-request timeout")
	pf.String("vault", "", "credential vault file")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("grpc-addr", "", "server gRPC address for ping")

	root.AddCommand(
		newRegisterCmd(&a),
		newVerifyEmailCmd(&a),
		newLoginCmd(&a),
		newLogoutCmd(&a),
		newWhoamiCmd(&a),
		newStatusCmd(&a),
		newRefreshCmd(&a),
		newForgotPasswordCmd(&a),
		newResetPasswordCmd(&a),
		newProfileCmd(&a),
		newPrefsCmd(&a),
		newOnboardingCmd(&a),
		newPingCmd(&a),
		newConfigCmd(),
		newVersionCmd(),
	)
	return root
}
