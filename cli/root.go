// Package cli is the pdsnotes command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/rohanthewiz/logger"
	"github.com/spf13/cobra"

	"pdsnotes/models"
)

var (
	verbose     bool
	pdsURLFlag  string
	cachePath   string
	cacheDriver string

	cfg *models.Config
)

// rootCmd is the base command when called without subcommands
var rootCmd = &cobra.Command{
	Use:   "pdsnotes",
	Short: "Local-first notes synced to a personal data server",
	Long: `pdsnotes keeps notes, folders, tags and themes in a local cache and
mirrors every change to your personal data server in the background.
Changes made offline stay pending until they can be retried.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := models.LoadConfig()
		if err != nil {
			return err
		}
		if pdsURLFlag != "" {
			loaded.PDSURL = pdsURLFlag
		}
		if cachePath != "" {
			loaded.CachePath = cachePath
		}
		if cacheDriver != "" {
			loaded.CacheDriver = cacheDriver
		}
		if verbose {
			loaded.LogLevel = "debug"
		}
		if err := loaded.Validate(); err != nil {
			return err
		}

		logger.SetLogLevel(loaded.LogLevel)
		cfg = loaded
		return nil
	},
}

// Execute runs the command tree. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errStyle.Render("error:"), err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&pdsURLFlag, "pds", "", "Personal data server URL (overrides PDSNOTES_PDS_URL)")
	rootCmd.PersistentFlags().StringVar(&cachePath, "cache", "", "Cache database path (overrides PDSNOTES_CACHE_PATH)")
	rootCmd.PersistentFlags().StringVar(&cacheDriver, "driver", "", "Cache driver: duckdb or sqlite")
}
