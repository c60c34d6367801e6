package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spigell/scentmatch/internal/notes"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or seed the note cache",
}

var cacheGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Print the cached record for a perfume",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e := setup()
		defer e.close()

		nc, err := e.openCache()
		if err != nil {
			return fmt.Errorf("opening cache: %w", err)
		}

		name := strings.Join(args, " ")
		record, ok, err := nc.Record(cmd.Context(), name)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%q is not cached", name)
		}

		return printJSON(cmd, record)
	},
}

var cachePutCmd = &cobra.Command{
	Use:   "put <name>",
	Short: "Store a note pyramid for a perfume",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e := setup()
		defer e.close()

		top, _ := cmd.Flags().GetStringSlice("top")
		middle, _ := cmd.Flags().GetStringSlice("middle")
		base, _ := cmd.Flags().GetStringSlice("base")

		nc, err := e.openCache()
		if err != nil {
			return fmt.Errorf("opening cache: %w", err)
		}

		name := strings.Join(args, " ")
		set := notes.New(top, middle, base)
		if err := nc.Put(cmd.Context(), name, set); err != nil {
			return err
		}

		return printJSON(cmd, map[string]any{"name": name, "notes": set})
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheGetCmd, cachePutCmd)

	cachePutCmd.Flags().StringSlice("top", nil, "top notes, comma separated")
	cachePutCmd.Flags().StringSlice("middle", nil, "middle notes, comma separated")
	cachePutCmd.Flags().StringSlice("base", nil, "base notes, comma separated")
}
