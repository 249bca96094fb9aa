// ABOUTME: Session commands: login, logout, status, refresh, and whoami
// ABOUTME: Each one drives the authenticator held by the registry

package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-session/internal/auth"
	"github.com/2389/coven-session/internal/registry"
	"github.com/2389/coven-session/internal/role"
)

func (a *app) loginCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := registry.FromContext(cmd.Context())
			p := newPrompter(a.in, a.out)

			var err error
			if email == "" {
				if email, err = p.line("Email: "); err != nil {
					return err
				}
			}
			password, err := p.secret("Password: ")
			if err != nil {
				return err
			}

			if !reg.Auth.Login(cmd.Context(), email, password) {
				return authFailure(reg, "login failed")
			}

			state := reg.Auth.State()
			color.New(color.FgGreen).Fprint(a.out, "✓ ")
			fmt.Fprintf(a.out, "Logged in as %s (%s)\n", state.Username, state.Role)
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	return cmd
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and remove stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := registry.FromContext(cmd.Context())
			if !reg.Tokens.HasToken(cmd.Context()) {
				fmt.Fprintln(a.out, "Not logged in")
				return nil
			}
			reg.Auth.Logout(cmd.Context())
			color.New(color.FgGreen).Fprint(a.out, "✓ ")
			fmt.Fprintln(a.out, "Logged out")
			return nil
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current session and allowed features",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := registry.FromContext(cmd.Context())
			printState(a.out, reg.Auth.State(), reg.Config.API.BaseURL)

			yellow := color.New(color.FgYellow)
			fmt.Fprintln(a.out)
			yellow.Fprintln(a.out, "Features:")
			allowed := reg.Permissions.Allowed()
			if len(allowed) == 0 {
				fmt.Fprintln(a.out, "  (none)")
			}
			for _, f := range allowed {
				fmt.Fprintf(a.out, "  %s\n", f)
			}
			return nil
		},
	}
}

func (a *app) refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := registry.FromContext(cmd.Context())
			if !reg.Auth.Refresh(cmd.Context()) {
				return authFailure(reg, "refresh failed")
			}
			color.New(color.FgGreen).Fprint(a.out, "✓ ")
			fmt.Fprint(a.out, "Token refreshed")
			if exp := reg.Auth.State().ExpiresAt; exp != nil {
				fmt.Fprintf(a.out, ", expires %s", exp.Local().Format(time.RFC1123))
			}
			fmt.Fprintln(a.out)
			return nil
		},
	}
}

func (a *app) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Fetch the signed-in user from the identity service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := registry.FromContext(cmd.Context())
			if !reg.Auth.IsAuthenticated() {
				return errNotLoggedIn
			}
			if !reg.Auth.RefreshUser(cmd.Context()) {
				return authFailure(reg, "fetching user failed")
			}

			user := reg.Auth.CurrentUser(cmd.Context())
			fmt.Fprintf(a.out, "ID:       %s\n", user.ID)
			fmt.Fprintf(a.out, "Username: %s\n", user.DisplayName())
			if user.Email != "" {
				fmt.Fprintf(a.out, "Email:    %s\n", user.Email)
			}
			fmt.Fprintf(a.out, "Role:     %s\n", reg.Permissions.CurrentRole())
			if len(user.Permissions) > 0 {
				fmt.Fprintf(a.out, "Grants:   %s\n", strings.Join(user.Permissions, ", "))
			}
			return nil
		},
	}
}

func printState(w io.Writer, s auth.AuthState, baseURL string) {
	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)

	fmt.Fprint(w, "Session:  ")
	if !s.Authenticated {
		gray.Fprintln(w, "guest")
		fmt.Fprintf(w, "Server:   %s\n", baseURL)
		return
	}
	green.Fprintln(w, "authenticated")
	fmt.Fprintf(w, "Server:   %s\n", baseURL)
	fmt.Fprintf(w, "User:     %s", s.Username)
	if s.Email != "" {
		fmt.Fprintf(w, " <%s>", s.Email)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Role:     %s", s.Role)
	if s.Role == role.Unsubscribed {
		color.New(color.FgRed).Fprint(w, " (inactive)")
	}
	fmt.Fprintln(w)
	if s.ExpiresAt != nil {
		remaining := time.Until(*s.ExpiresAt).Truncate(time.Minute)
		fmt.Fprintf(w, "Expires:  %s (in %s)\n", s.ExpiresAt.Local().Format(time.RFC1123), remaining)
	}
}
