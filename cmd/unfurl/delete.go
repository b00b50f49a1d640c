package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"unfurl/internal/domain"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <url>...",
	Short: "Remove stored metadata for links",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	svc, err := newServices(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	missing := 0
	for _, reference := range args {
		err := svc.metadata.Delete(cmd.Context(), reference)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			missing++
			fmt.Fprintf(cmd.OutOrStdout(), "not found: %s\n", reference)
		case err != nil:
			return fmt.Errorf("failed to delete %s: %w", reference, err)
		default:
			fmt.Fprintf(cmd.OutOrStdout(), "deleted: %s\n", reference)
		}
	}
	if missing > 0 {
		return fmt.Errorf("%d of %d links had nothing stored: %w", missing, len(args), domain.ErrNotFound)
	}
	return nil
}
