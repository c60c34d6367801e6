package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spigell/scentmatch/internal/compat"
	"github.com/spigell/scentmatch/internal/retriever"
)

var layerCmd = &cobra.Command{
	Use:   "layer <name> <name>",
	Short: "Score how well two perfumes layer",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e := setup()
		defer e.close()

		r, err := e.newResolver()
		if err != nil {
			return fmt.Errorf("loading catalog: %w", err)
		}

		nc, err := e.openCache()
		if err != nil {
			return fmt.Errorf("opening cache: %w", err)
		}

		ret, err := e.newRetriever(nc, nil)
		if err != nil {
			return err
		}

		first, second := canonicalName(r, args[0]), canonicalName(r, args[1])

		a, _, err := ret.Lookup(cmd.Context(), first, retriever.Automatic)
		if err != nil {
			return fmt.Errorf("retrieving notes for %q: %w", first, err)
		}
		b, _, err := ret.Lookup(cmd.Context(), second, retriever.Automatic)
		if err != nil {
			return fmt.Errorf("retrieving notes for %q: %w", second, err)
		}

		return printJSON(cmd, map[string]any{
			"perfumes": []string{first, second},
			"result":   compat.Score(a, b),
		})
	},
}

func init() {
	rootCmd.AddCommand(layerCmd)
}
