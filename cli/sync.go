package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rohanthewiz/serr"
	"github.com/spf13/cobra"

	"pdsnotes/models"
)

// timeNow is replaced in tests.
var timeNow = time.Now

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Refresh the local cache from the server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.rec.Refresh(ctx); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, kind := range models.Kinds() {
				fmt.Fprintf(out, "%-7s %d\n", kind.Table(), len(a.rec.All(kind)))
			}
			return nil
		})
	},
}

var retryAll bool

var retryCmd = &cobra.Command{
	Use:   "retry [kind key]",
	Short: "Push unsynced changes again",
	Long: `Retry mirrors one pending or conflicting entity to the server, or every
unsynced entity with --all. For a conflict the local copy wins.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if retryAll {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(2)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			out := cmd.OutOrStdout()
			if !retryAll {
				kind, err := models.ParseKind(args[0])
				if err != nil {
					return err
				}
				key, err := a.resolveKey(kind, args[1])
				if err != nil {
					return err
				}
				if err := a.rec.Retry(ctx, kind, key); err != nil {
					return err
				}
				fmt.Fprintln(out, okStyle.Render("synced"), kind, keyStyle.Render(a.rec.CurrentKey(kind, key)))
				return nil
			}

			// Tags and folders first so notes can reference their durable keys
			failed := 0
			for _, kind := range []models.Kind{models.KindTag, models.KindFolder, models.KindTheme, models.KindNote} {
				for _, e := range a.rec.All(kind) {
					if e.Meta().SyncStatus == models.StatusSynced {
						continue
					}
					key := e.Meta().RKey
					if err := a.rec.Retry(ctx, kind, key); err != nil {
						failed++
						fmt.Fprintln(cmd.ErrOrStderr(), warnStyle.Render("still unsynced:"), kind, keyStyle.Render(key), err)
						continue
					}
					fmt.Fprintln(out, okStyle.Render("synced"), kind, keyStyle.Render(a.rec.CurrentKey(kind, key)))
				}
			}
			if failed > 0 {
				return serr.New("some entities could not be synced", "failed", strconv.Itoa(failed))
			}
			return nil
		})
	},
}

var discardCmd = &cobra.Command{
	Use:   "discard <kind> <key>",
	Short: "Drop local unsynced changes to an entity",
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
			if err := a.rec.Discard(ctx, kind, key); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("discarded local changes to"), kind, keyStyle.Render(key))
			return nil
		})
	},
}

func init() {
	retryCmd.Flags().BoolVar(&retryAll, "all", false, "Retry every unsynced entity")
	rootCmd.AddCommand(pullCmd, retryCmd, discardCmd)
}
