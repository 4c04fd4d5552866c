package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/newnol/vercel-lb/internal/domain/port/driven"
)

var (
	updateKeyName       string
	updateKeyRateLimit  int
	updateKeyExpires    int
	updateKeyActivate   bool
	updateKeyDeactivate bool
)

var updateKeyCmd = &cobra.Command{
	Use:   "update-key <id>",
	Short: "Update a client key",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpdateKey,
}

func init() {
	updateKeyCmd.Flags().StringVar(&updateKeyName, "name", "", "New key name")
	updateKeyCmd.Flags().IntVar(&updateKeyRateLimit, "rate-limit", 0, "New rate limit in requests per minute, 0 for unlimited")
	updateKeyCmd.Flags().IntVar(&updateKeyExpires, "expires", 0, "New expiry in days from now")
	updateKeyCmd.Flags().BoolVar(&updateKeyActivate, "activate", false, "Re-enable the key")
	updateKeyCmd.Flags().BoolVar(&updateKeyDeactivate, "deactivate", false, "Disable the key")
	updateKeyCmd.MarkFlagsMutuallyExclusive("activate", "deactivate")
	rootCmd.AddCommand(updateKeyCmd)
}

func runUpdateKey(cmd *cobra.Command, args []string) error {
	var update driven.ClientKeyUpdate

	if cmd.Flags().Changed("name") {
		update.Name = &updateKeyName
	}
	if cmd.Flags().Changed("rate-limit") {
		if updateKeyRateLimit < 0 {
			return fmt.Errorf("--rate-limit must not be negative")
		}
		update.RateLimit = &updateKeyRateLimit
	}
	if cmd.Flags().Changed("expires") {
		if updateKeyExpires < 0 {
			return fmt.Errorf("--expires must not be negative")
		}
		expires := time.Now().UTC().AddDate(0, 0, updateKeyExpires)
		update.ExpiresAt = &expires
	}
	if updateKeyActivate || updateKeyDeactivate {
		active := updateKeyActivate
		update.IsActive = &active
	}

	if update.Name == nil && update.RateLimit == nil && update.ExpiresAt == nil && update.IsActive == nil {
		return fmt.Errorf("nothing to update; pass at least one flag")
	}

	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	key, err := s.keys.Update(cmd.Context(), args[0], update)
	if err != nil {
		if errors.Is(err, driven.ErrKeyNotFound) {
			return fmt.Errorf("key %s not found", args[0])
		}
		return err
	}

	fmt.Println("Key updated.")
	printKeyDetails(*key)
	return nil
}
