package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/newnol/vercel-lb/internal/domain/port/driven"
)

var deleteKeyYes bool

var deleteKeyCmd = &cobra.Command{
	Use:   "delete-key <id>",
	Short: "Delete a client key and its usage history",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteKey,
}

func init() {
	deleteKeyCmd.Flags().BoolVarP(&deleteKeyYes, "yes", "y", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(deleteKeyCmd)
}

func runDeleteKey(cmd *cobra.Command, args []string) error {
	id := args[0]

	if !deleteKeyYes {
		fmt.Printf("Delete key %s and all of its usage history? [y/N] ", id)
		answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.keys.Delete(cmd.Context(), id); err != nil {
		if errors.Is(err, driven.ErrKeyNotFound) {
			return fmt.Errorf("key %s not found", id)
		}
		return err
	}

	fmt.Println("Key deleted.")
	return nil
}
