package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/and161185/sessionkit/internal/apiclient"
	"github.com/and161185/sessionkit/internal/authclient"
	"github.com/and161185/sessionkit/internal/config"
	"github.com/and161185/sessionkit/internal/errs"
	"github.com/and161185/sessionkit/internal/prefs"
	"github.com/and161185/sessionkit/internal/session"
	"github.com/and161185/sessionkit/internal/storage"
	"github.com/and161185/sessionkit/internal/vault"
)

// PassphraseEnv names the variable holding the vault passphrase.
const PassphraseEnv = "SK_VAULT_PASSPHRASE"

// noApp marks commands that run without config, vault or network.
const noApp = "sk.noapp"

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// app is the client stack shared by the commands.
type app struct {
	cfg     config.Client
	log     *zap.Logger
	session *session.Store
	vault   vault.Vault
	api     *apiclient.Client
	auth    *authclient.Service
	prefs   *prefs.Store
}

func (a *app) open(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadClient(path, cmd.Flags())
	if err != nil {
		return errs.E(errs.KindValidation, "config", err)
	}
	a.cfg = cfg

	if a.log, err = newLogger(cfg.LogLevel, cmd.ErrOrStderr()); err != nil {
		return errs.E(errs.KindValidation, "config", err)
	}

	pass, err := passphrase(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	v, err := vault.Open(cmd.Context(), storage.NewFile(cfg.VaultPath), pass)
	if err != nil {
		return err
	}

	a.vault = v
	a.session = session.NewStore(v, a.log)
	a.api, err = apiclient.New(cfg.APIURL, a.session.AccessToken,
		apiclient.WithTimeout(cfg.APITimeout),
		apiclient.WithInvalidator(a.session.ClearAuth),
		apiclient.WithLogger(a.log),
	)
	if err != nil {
		return err
	}
	a.auth = authclient.New(a.api, a.session, a.log)

	a.prefs = prefs.NewStore(storage.NewFile(cfg.PrefsPath), a.log)
	a.prefs.Initialize(cmd.Context())
	return nil
}

func (a *app) close() {
	if a.log != nil {
		_ = a.log.Sync()
	}
}

// restore loads the session and resolves the profile, failing when there is
// no session to work with.
func (a *app) restore(ctx context.Context) (session.State, error) {
	st, err := a.auth.Restore(ctx)
	if err != nil {
		return st, err
	}
	if !st.IsLoggedIn {
		return st, errs.E(errs.KindUnauthorized, "session", errs.ErrUnauthorized)
	}
	return st, nil
}

func newLogger(level string, w io.Writer) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	enc := zap.NewDevelopmentEncoderConfig()
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(w), lvl)
	return zap.New(core), nil
}

func passphrase(prompt io.Writer) ([]byte, error) {
	if v := os.Getenv(PassphraseEnv); v != "" {
		return []byte(v), nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, errs.E(errs.KindValidation, "vault", fmt.Errorf("set %s or run interactively", PassphraseEnv))
	}
	return readSecret(prompt, "Vault passphrase: ")
}

func readSecret(w io.Writer, prompt string) ([]byte, error) {
	fmt.Fprint(w, prompt)
	b, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// password returns the flag value or prompts for it.
func password(cmd *cobra.Command, flag, prompt string) (string, error) {
	if v, _ := cmd.Flags().GetString(flag); v != "" {
		return v, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errs.E(errs.KindValidation, cmd.Name(), fmt.Errorf("--%s is required when stdin is not a terminal", flag))
	}
	b, err := readSecret(cmd.ErrOrStderr(), prompt)
	return strings.TrimRight(string(b), "\r\n"), err
}
