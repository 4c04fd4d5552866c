package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/newnol/vercel-lb/internal/application"
)

var (
	createKeyName      string
	createKeyRateLimit int
	createKeyExpires   int
)

var createKeyCmd = &cobra.Command{
	Use:   "create-key",
	Short: "Mint a new client API key",
	Args:  cobra.NoArgs,
	RunE:  runCreateKey,
}

func init() {
	createKeyCmd.Flags().StringVar(&createKeyName, "name", "", "Human-readable key name (required)")
	createKeyCmd.Flags().IntVar(&createKeyRateLimit, "rate-limit", 0, "Requests per minute, 0 for unlimited")
	createKeyCmd.Flags().IntVar(&createKeyExpires, "expires", 0, "Days until expiry, 0 for never")
	_ = createKeyCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(createKeyCmd)
}

func runCreateKey(cmd *cobra.Command, args []string) error {
	if createKeyRateLimit < 0 || createKeyExpires < 0 {
		return fmt.Errorf("--rate-limit and --expires must not be negative")
	}

	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	svc := application.NewKeyService(s.keys)
	key, secret, err := svc.CreateKey(cmd.Context(), createKeyName, createKeyRateLimit, createKeyExpires)
	if err != nil {
		return err
	}

	fmt.Printf("Created key %s (%s)\n\n", key.ID, key.Name)
	fmt.Printf("  %s\n\n", secret)
	fmt.Println("Save this key now. It cannot be retrieved again.")
	return nil
}
