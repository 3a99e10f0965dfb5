package main

import (
	"fmt"
	"strconv"

	"gantry/cmd/gantry/ui"
	"gantry/sdk"

	"github.com/spf13/cobra"
)

func statusCmd(socket *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and pass counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := sdk.Dial(*socket)
			status, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}

			pairs := []ui.Pair{
				ui.KV("version", status.Version),
				ui.KV("network", ui.Accent(status.Network)),
				ui.KV("watching", ui.Bool(status.Watching)),
				ui.KV("passes", strconv.Itoa(status.Passes)),
				ui.KV("promoted", strconv.Itoa(status.Promoted)),
				ui.KV("unchanged", strconv.Itoa(status.Unchanged)),
				ui.KV("failed", strconv.Itoa(status.Failed)),
			}
			if last := status.LastPass; last != nil {
				outcome := ui.Outcome(last.Outcome)
				if last.Detail != "" {
					outcome += " " + ui.Muted("("+last.Detail+")")
				}
				pairs = append(pairs,
					ui.KV("last pass", outcome),
					ui.KV("last trigger", last.Trigger),
					ui.KV("last routes", strconv.Itoa(last.Routes)),
				)
			}
			fmt.Print(ui.KeyValues("", pairs...))
			return nil
		},
	}
}
