package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var getKeyCmd = &cobra.Command{
	Use:   "get-key <id>",
	Short: "Show a single client key",
	Args:  cobra.ExactArgs(1),
	RunE:  runGetKey,
}

func init() {
	rootCmd.AddCommand(getKeyCmd)
}

func runGetKey(cmd *cobra.Command, args []string) error {
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

	printKeyDetails(*key)
	return nil
}
