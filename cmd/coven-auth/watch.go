// ABOUTME: watch command streaming auth events until interrupted
// ABOUTME: Keeps the session re-validating and optionally serves metrics

package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-session/internal/events"
	"github.com/2389/coven-session/internal/registry"
)

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream session and permission events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := registry.FromContext(cmd.Context())
			ctx := cmd.Context()

			ch, _ := reg.Bus.SubscribeChan(ctx)
			printState(a.out, reg.Auth.State(), reg.Config.API.BaseURL)
			fmt.Fprintln(a.out)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return reg.ServeMetrics(ctx) })
			g.Go(func() error {
				for {
					select {
					case <-ctx.Done():
						return nil
					case evt, ok := <-ch:
						if !ok {
							return nil
						}
						printEvent(a, evt)
					}
				}
			})
			return g.Wait()
		},
	}
}

func printEvent(a *app, evt events.Event) {
	c := color.New(color.FgCyan)
	switch evt.Type {
	case events.LoginFailed, events.TokenExpired, events.AuthError:
		c = color.New(color.FgRed)
	case events.Logout:
		c = color.New(color.FgYellow)
	}
	fmt.Fprintf(a.out, "%s ", evt.Timestamp.Local().Format(time.TimeOnly))
	c.Fprintf(a.out, "%-22s", evt.Type)
	fmt.Fprintf(a.out, " %s\n", evt.Summary)
}
