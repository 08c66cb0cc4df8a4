package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/and161185/sessionkit/internal/authclient"
	"github.com/and161185/sessionkit/internal/config"
	"github.com/and161185/sessionkit/internal/errs"
	"github.com/and161185/sessionkit/internal/prefs"
	"github.com/and161185/sessionkit/internal/vault"
)

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func newRegisterCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and log into it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			email, _ := cmd.Flags().GetString("email")
			name, _ := cmd.Flags().GetString("name")
			pw, err := password(cmd, "password", "Password: ")
			if err != nil {
				return err
			}
			u, err := a.auth.Register(cmd.Context(), email, pw, name)
			if errors.Is(err, authclient.ErrVerificationPending) {
				fmt.Fprintf(cmd.OutOrStdout(), "registered %s; confirm with: verify-email --email %s --code <code>\n", u.Email, u.Email)
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered and logged in as %s\n", u.Email)
			return nil
		},
	}
	cmd.Flags().String("email", "", "account email")
	cmd.Flags().String("name", "", "display name")
	cmd.Flags().String("password", "", "password (prompted when omitted)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newLoginCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store credentials in the vault",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			email, _ := cmd.Flags().GetString("email")
			pw, err := password(cmd, "password", "Password: ")
			if err != nil {
				return err
			}
			u, err := a.auth.Login(cmd.Context(), email, pw)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s\n", u.Email)
			return nil
		},
	}
	cmd.Flags().String("email", "", "account email")
	cmd.Flags().String("password", "", "password (prompted when omitted)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and wipe stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.auth.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the current user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.restore(cmd.Context())
			if err != nil {
				return err
			}
			if st.User == nil {
				return fmt.Errorf("profile unavailable (status %s)", st.Status)
			}
			printJSON(cmd.OutOrStdout(), st.User)
			return nil
		},
	}
}

type statusView struct {
	Status        string              `json:"status"`
	LoggedIn      bool                `json:"loggedIn"`
	AccessExpires *time.Time          `json:"accessExpires,omitempty"`
	Environment   string              `json:"environment"`
	APIURL        string              `json:"apiUrl"`
	Features      config.FeatureFlags `json:"features"`
	// Keys reports which auxiliary vault entries are present.
	Keys map[string]bool `json:"keys"`
}

// accessExpiry reads the exp claim without verifying the signature; the key
// lives on the server.
func accessExpiry(tok string) *time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &claims); err != nil || claims.ExpiresAt == nil {
		return nil
	}
	t := claims.ExpiresAt.Time
	return &t
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the locally stored session without contacting the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a.session.Initialize(ctx)
			st := a.session.State()
			v := statusView{
				Status:      st.Status.String(),
				LoggedIn:    st.IsLoggedIn,
				Environment: a.cfg.Environment,
				APIURL:      a.api.BaseURL(),
				Features:    a.cfg.Flags(),
				Keys:        map[string]bool{},
			}
			for _, k := range []string{vault.KeyBiometric, vault.KeyAPI} {
				_, ok, err := a.vault.Get(ctx, k)
				if err != nil {
					return err
				}
				v.Keys[k] = ok
			}
			if tok, err := a.session.AccessToken(ctx); err == nil && tok != "" {
				v.AccessExpires = accessExpiry(tok)
			}
			printJSON(cmd.OutOrStdout(), v)
			return nil
		},
	}
}

func newRefreshCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new token pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := a.auth.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tokens refreshed for %s\n", u.Email)
			return nil
		},
	}
}

func newVerifyEmailCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify-email",
		Short: "Confirm the account email and log in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			email, _ := cmd.Flags().GetString("email")
			if resend, _ := cmd.Flags().GetBool("resend"); resend {
				if err := a.auth.ResendVerification(cmd.Context(), email); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "if the account awaits verification, a new code has been sent")
				return nil
			}
			code, _ := cmd.Flags().GetString("code")
			if code == "" {
				return errs.E(errs.KindValidation, "verify-email", errors.New("--code or --resend is required"))
			}
			u, err := a.auth.VerifyEmail(cmd.Context(), email, code)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "email verified, logged in as %s\n", u.Email)
			return nil
		},
	}
	cmd.Flags().String("email", "", "account email")
	cmd.Flags().String("code", "", "verification code")
	cmd.Flags().Bool("resend", false, "mail a new code instead")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newForgotPasswordCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forgot-password",
		Short: "Request a password reset code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			email, _ := cmd.Flags().GetString("email")
			if err := a.auth.ForgotPassword(cmd.Context(), email); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "if the account exists, a reset code has been sent")
			return nil
		},
	}
	cmd.Flags().String("email", "", "account email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newResetPasswordCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Set a new password using a reset code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			email, _ := cmd.Flags().GetString("email")
			code, _ := cmd.Flags().GetString("code")
			pw, err := password(cmd, "password", "New password: ")
			if err != nil {
				return err
			}
			u, err := a.auth.ResetPassword(cmd.Context(), email, code, pw)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "password changed, logged in as %s\n", u.Email)
			return nil
		},
	}
	cmd.Flags().String("email", "", "account email")
	cmd.Flags().String("code", "", "reset code")
	cmd.Flags().String("password", "", "new password (prompted when omitted)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("code")
	return cmd
}

func newProfileCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "profile", Short: "Manage the account profile"}
	set := &cobra.Command{
		Use:   "set",
		Short: "Change display name and avatar",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.restore(cmd.Context())
			if err != nil {
				return err
			}
			name, avatar := "", ""
			if st.User != nil {
				name, avatar = st.User.Name, st.User.AvatarURL
			}
			if cmd.Flags().Changed("name") {
				name, _ = cmd.Flags().GetString("name")
			}
			if cmd.Flags().Changed("avatar") {
				avatar, _ = cmd.Flags().GetString("avatar")
			}
			u, err := a.auth.UpdateProfile(cmd.Context(), name, avatar)
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), u)
			return nil
		},
	}
	set.Flags().String("name", "", "display name")
	set.Flags().String("avatar", "", "avatar URL")
	cmd.AddCommand(set)
	return cmd
}

type prefsView struct {
	prefs.Settings
	OnboardingCompleted bool `json:"onboardingCompleted"`
}

func newPrefsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "prefs", Short: "Show or change local preferences"}
	get := &cobra.Command{
		Use:   "get",
		Short: "Print preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			printJSON(cmd.OutOrStdout(), prefsView{Settings: a.prefs.Settings(), OnboardingCompleted: a.prefs.OnboardingCompleted()})
			return nil
		},
	}
	set := &cobra.Command{
		Use:   "set",
		Short: "Change preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var p prefs.Patch
			f := cmd.Flags()
			if f.Changed("language") {
				s, _ := f.GetString("language")
				l, err := prefs.ParseLanguage(s)
				if err != nil {
					return err
				}
				p.Language = &l
			}
			if f.Changed("theme") {
				s, _ := f.GetString("theme")
				t, err := prefs.ParseTheme(s)
				if err != nil {
					return err
				}
				p.Theme = &t
			}
			if f.Changed("notifications") {
				on, _ := f.GetBool("notifications")
				p.NotificationsEnabled = &on
			}
			if p == (prefs.Patch{}) {
				return errs.E(errs.KindValidation, "prefs set", fmt.Errorf("nothing to change"))
			}
			if err := a.prefs.Update(cmd.Context(), p); err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), a.prefs.Settings())
			return nil
		},
	}
	set.Flags().String("language", "", "en, es or fr")
	set.Flags().String("theme", "", "light, dark or system")
	set.Flags().Bool("notifications", true, "enable notifications")
	cmd.AddCommand(get, set)
	return cmd
}

func newOnboardingCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "onboarding", Short: "Onboarding state"}
	cmd.AddCommand(&cobra.Command{
		Use:   "complete",
		Short: "Mark onboarding as completed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.prefs.CompleteOnboarding(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "onboarding completed")
			return nil
		},
	})
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Client configuration"}
	cmd.AddCommand(&cobra.Command{
		Use:         "init",
		Short:       "Write a default config file",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{noApp: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			if path == "" {
				path = config.DefaultClientPath()
			}
			c := config.DefaultClient()
			if v, _ := cmd.Flags().GetString("api-url"); v != "" {
				c.APIURL = v
			}
			if err := c.Validate(); err != nil {
				return errs.E(errs.KindValidation, "config init", err)
			}
			if err := config.WriteClient(path, c); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	})
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{noApp: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "sk %s (%s)\n", version, buildDate)
			return err
		},
	}
}
