package cli

import (
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
	"github.com/rohanthewiz/serr"
	"github.com/spf13/cobra"

	"pdsnotes/web"
	"pdsnotes/web/api"
)

var (
	serveAddr     string
	serveSecret   string
	serveAccounts []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run an in-memory development record server",
	Long: `Serve runs a personal data server stand-in that implements session
creation and the record endpoints pdsnotes uses. Records live in memory and
are lost on exit. Register accounts with --account handle:password.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := serveSecret
		if secret == "" {
			secret = os.Getenv("PDSNOTES_SERVE_SECRET")
		}
		if secret == "" {
			secret = strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
			logger.Info("Using a random token secret; sessions end when the server stops")
		}

		pds, err := api.NewPDS(secret)
		if err != nil {
			return err
		}
		for _, acct := range serveAccounts {
			handle, password, ok := strings.Cut(acct, ":")
			if !ok {
				return serr.New("account must be handle:password", "account", acct)
			}
			if _, err := pds.AddAccount(handle, password); err != nil {
				return err
			}
		}

		addr := serveAddr
		if addr == "" {
			addr = cfg.ServeAddr
		}
		srv := web.NewServer(rweb.ServerOptions{Address: addr, Verbose: verbose}, pds)
		return web.Run(srv, addr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default $PDSNOTES_SERVE_ADDR or :8000)")
	serveCmd.Flags().StringVar(&serveSecret, "secret", "", "Token signing secret, at least 32 characters (default $PDSNOTES_SERVE_SECRET)")
	serveCmd.Flags().StringSliceVar(&serveAccounts, "account", nil, "Account to register as handle:password (repeatable)")
	rootCmd.AddCommand(serveCmd)
}
