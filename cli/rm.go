package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"pdsnotes/models"
)

var rmCmd = &cobra.Command{
	Use:   "rm <kind> <key>",
	Short: "Delete an entity locally and on the server",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := models.ParseKind(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			key, err := a.resolveKey(kind, args[1])
			if err != nil {
				return err
			}
			if err := a.rec.DeleteEntity(ctx, kind, key); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("deleted"), kind, keyStyle.Render(key))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(rmCmd)
}
