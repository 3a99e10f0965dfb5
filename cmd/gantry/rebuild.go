package main

import (
	"fmt"

	"gantry/cmd/gantry/ui"
	"gantry/sdk"

	"github.com/spf13/cobra"
)

func rebuildCmd(socket *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Run a full rebuild pass now",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := sdk.Dial(*socket)
			pass, err := client.Rebuild(cmd.Context())
			if err != nil {
				return err
			}

			switch pass.Outcome {
			case "promoted":
				fmt.Println(ui.SuccessMsg("config promoted: %d routes in %dms", pass.Routes, pass.DurationMS))
			case "unchanged":
				fmt.Println(ui.Muted(fmt.Sprintf("config unchanged: %d routes", pass.Routes)))
			default:
				msg := pass.Outcome
				if pass.Detail != "" {
					msg += ": " + pass.Detail
				}
				return fmt.Errorf("rebuild %s", msg)
			}
			if pass.Detail != "" && pass.Outcome == "promoted" {
				fmt.Println(ui.WarnMsg("%s", pass.Detail))
			}
			return nil
		},
	}
}
