package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var keyStatsCmd = &cobra.Command{
	Use:   "key-stats <id>",
	Short: "Show usage statistics for a client key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeyStats,
}

func init() {
	rootCmd.AddCommand(keyStatsCmd)
}

func runKeyStats(cmd *cobra.Command, args []string) error {
	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	key, err := s.keys.GetByID(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if key == nil {
		return fmt.Errorf("key %s not found", args[0])
	}

	stats, err := s.usage.Stats(cmd.Context(), key.ID)
	if err != nil {
		return err
	}

	fmt.Printf("Usage for %s (%s)\n\n", key.Name, key.ID)
	fmt.Printf("Total requests: %d\n", stats.TotalRequests)
	fmt.Printf("Total tokens: %d\n", stats.TotalTokens)

	if len(stats.ByEndpoint) > 0 {
		fmt.Println("\nBy endpoint:")
		for endpoint, count := range stats.ByEndpoint {
			fmt.Printf("  %s: %d\n", endpoint, count)
		}
	}
	if len(stats.ByModel) > 0 {
		fmt.Println("\nBy model:")
		for modelName, count := range stats.ByModel {
			fmt.Printf("  %s: %d\n", modelName, count)
		}
	}

	if len(stats.Recent) > 0 {
		fmt.Println("\nRecent requests:")
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIMESTAMP\tENDPOINT\tMODEL\tTOKENS")
		for _, entry := range stats.Recent {
			modelName := "-"
			if entry.Model != nil {
				modelName = *entry.Model
			}
			tokens := "-"
			if entry.TokensUsed != nil {
				tokens = fmt.Sprintf("%d", *entry.TokensUsed)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				entry.Timestamp.UTC().Format(time.RFC3339), entry.Endpoint, modelName, tokens)
		}
		_ = w.Flush()
	}

	return nil
}
