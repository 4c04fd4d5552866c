package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listKeysCmd = &cobra.Command{
	Use:   "list-keys",
	Short: "List all client keys",
	Args:  cobra.NoArgs,
	RunE:  runListKeys,
}

func init() {
	rootCmd.AddCommand(listKeysCmd)
}

func runListKeys(cmd *cobra.Command, args []string) error {
	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	keys, err := s.keys.List(cmd.Context())
	if err != nil {
		return err
	}

	if len(keys) == 0 {
		fmt.Println("No client keys.")
		return nil
	}

	printKeyTable(keys)
	return nil
}
