package cli

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"pdsnotes/models"
)

var loginPassword string

var loginCmd = &cobra.Command{
	Use:   "login <handle-or-did>",
	Short: "Create a session and pull your records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password := loginPassword
		if password == "" {
			password = os.Getenv("PDSNOTES_PASSWORD")
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			previous := a.client.Session()

			sess, err := a.client.Login(ctx, args[0], password)
			if err != nil {
				return err
			}

			// Another account's cached records must not leak into this one
			if previous != nil && previous.DID != sess.DID {
				if err := a.rec.Reset(ctx); err != nil {
					return err
				}
			}

			if a.sealer != nil {
				if err := a.cache.SaveSession(ctx, a.sealer, sess); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(cmd.ErrOrStderr(), warnStyle.Render("session not saved: set PDSNOTES_SESSION_KEY to stay logged in"))
			}

			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("Logged in as"), labelStyle.Render(sess.Handle), keyStyle.Render(sess.DID))
			return a.rec.Refresh(ctx)
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the session and clear the local cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			a.client.Logout()
			if err := a.rec.Reset(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("Logged out"))
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the session and unsynced changes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			out := cmd.OutOrStdout()

			sess := a.client.Session()
			if sess == nil {
				fmt.Fprintln(out, warnStyle.Render("Not logged in"))
			} else {
				line := okStyle.Render("Logged in as") + " " + labelStyle.Render(sess.Handle) + " " + keyStyle.Render(sess.DID)
				if sess.AccessExpired(timeNow()) {
					line += " " + warnStyle.Render("(access token expired)")
				}
				fmt.Fprintln(out, line)
			}
			fmt.Fprintln(out, keyStyle.Render("server: "+a.cfg.PDSURL))

			pending := a.rec.Pending()
			if len(pending) == 0 {
				fmt.Fprintln(out, okStyle.Render("Everything synced"))
				return nil
			}
			kinds := make([]string, 0, len(pending))
			for k := range pending {
				kinds = append(kinds, string(k))
			}
			sort.Strings(kinds)
			for _, k := range kinds {
				fmt.Fprintf(out, "%s %d %s\n", warnStyle.Render("unsynced"), pending[models.Kind(k)], k)
			}
			return nil
		})
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Password or app password (default $PDSNOTES_PASSWORD)")
	rootCmd.AddCommand(loginCmd, logoutCmd, statusCmd)
}
