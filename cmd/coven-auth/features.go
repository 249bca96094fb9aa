// ABOUTME: Feature gate and profile commands
// ABOUTME: can checks one feature; profile and passwd edit the signed-in account

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-session/internal/registry"
	"github.com/2389/coven-session/internal/role"
)

func (a *app) canCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "can <feature>",
		Short: "Check whether the current role may use a feature",
		Long:  "Exits 0 when the feature is allowed and 1 when it is denied.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := registry.FromContext(cmd.Context())
			feature := role.Feature(strings.TrimSpace(args[0]))

			res := reg.Permissions.Check(feature)
			if res.Allowed {
				color.New(color.FgGreen).Fprint(a.out, "✓ ")
				fmt.Fprintf(a.out, "%s: allowed (%s)\n", feature, res.Role)
				return nil
			}

			action := reg.Permissions.AccessDeniedAction(feature)
			color.New(color.FgRed).Fprint(a.out, "✗ ")
			fmt.Fprintf(a.out, "%s: denied (%s)\n", feature, res.Role)
			fmt.Fprintf(a.out, "  %s\n", action.Message)
			if action.Command != "" {
				fmt.Fprintf(a.out, "  Run: %s\n", action.Command)
			}
			return errSilent
		},
	}
}

func (a *app) profileCmd() *cobra.Command {
	profile := &cobra.Command{
		Use:   "profile",
		Short: "View or edit your profile",
	}
	profile.AddCommand(&cobra.Command{
		Use:   "set <field=value>...",
		Short: "Update profile fields",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := registry.FromContext(cmd.Context())
			if !reg.Auth.IsAuthenticated() {
				return errNotLoggedIn
			}

			fields, err := parseFields(args)
			if err != nil {
				return err
			}
			if !reg.Auth.UpdateProfile(cmd.Context(), fields) {
				return authFailure(reg, "updating profile failed")
			}
			color.New(color.FgGreen).Fprint(a.out, "✓ ")
			fmt.Fprintln(a.out, "Profile updated")
			return nil
		},
	})
	return profile
}

func (a *app) passwdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "passwd",
		Short: "Change your password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := registry.FromContext(cmd.Context())
			if !reg.Auth.IsAuthenticated() {
				return errNotLoggedIn
			}

			p := newPrompter(a.in, a.out)
			current, err := p.secret("Current password: ")
			if err != nil {
				return err
			}
			next, err := p.secret("New password: ")
			if err != nil {
				return err
			}
			confirm, err := p.secret("Confirm new password: ")
			if err != nil {
				return err
			}
			if next != confirm {
				return errors.New("passwords do not match")
			}

			if !reg.Auth.ChangePassword(cmd.Context(), current, next) {
				return authFailure(reg, "changing password failed")
			}
			color.New(color.FgGreen).Fprint(a.out, "✓ ")
			fmt.Fprintln(a.out, "Password changed")
			return nil
		},
	}
}

func parseFields(args []string) (map[string]any, error) {
	fields := make(map[string]any, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid field %q (want field=value)", arg)
		}
		fields[k] = v
	}
	return fields, nil
}
