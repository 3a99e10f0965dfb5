package main

import (
	"fmt"
	"strconv"

	"gantry/cmd/gantry/ui"
	"gantry/sdk"

	"github.com/spf13/cobra"
)

func routesCmd(socket *string) *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "List the currently materialized routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := sdk.Dial(*socket)
			routes, err := client.Routes(cmd.Context())
			if err != nil {
				return err
			}
			if len(routes) == 0 {
				fmt.Println(ui.Muted("no routes materialized"))
				return nil
			}

			rows := make([][]string, 0, len(routes))
			for _, route := range routes {
				match := route.Path
				if route.Host != "" {
					match = route.Host
				}
				rows = append(rows, []string{
					route.Name,
					match,
					route.Address + ":" + strconv.Itoa(int(route.Port)),
					route.Upstream,
				})
			}
			fmt.Println(ui.Table([]string{"NAME", "MATCH", "BACKEND", "UPSTREAM"}, rows))
			return nil
		},
	}
}
