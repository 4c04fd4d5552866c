// Package cmd implements the lbctl management CLI. It operates directly on
// the proxy's SQLite database, so key administration works even while the
// server is down.
package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "lbctl",
	Short: "Client key management for the gateway load balancer",
	Long: `lbctl manages the client API keys of the load-balancing proxy.

Keys are stored hashed in the proxy's SQLite database (DATABASE_PATH, or
data/lb_database.db). The raw key is printed exactly once at creation.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Same .env the server reads, so DATABASE_PATH matches.
		_ = godotenv.Load()
	},
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
