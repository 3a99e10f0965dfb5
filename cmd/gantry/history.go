package main

import (
	"fmt"
	"strconv"
	"time"

	"gantry/cmd/gantry/ui"
	"gantry/sdk"

	"github.com/spf13/cobra"
)

func historyCmd(socket *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent rebuild passes, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := sdk.Dial(*socket)
			passes, err := client.Passes(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(passes) == 0 {
				fmt.Println(ui.Muted("no passes recorded"))
				return nil
			}

			rows := make([][]string, 0, len(passes))
			for _, pass := range passes {
				rows = append(rows, []string{
					pass.StartedAt.Local().Format(time.DateTime),
					pass.Trigger,
					ui.Outcome(pass.Outcome),
					strconv.Itoa(pass.Routes),
					strconv.FormatInt(pass.DurationMS, 10) + "ms",
					pass.Detail,
				})
			}
			fmt.Println(ui.Table(
				[]string{"STARTED", "TRIGGER", "OUTCOME", "ROUTES", "TOOK", "DETAIL"},
				rows))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum passes to show")
	return cmd
}
