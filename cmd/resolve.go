package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <text>",
	Short: "Print the catalog perfume names mentioned in the text",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e := setup()
		defer e.close()

		r, err := e.newResolver()
		if err != nil {
			return fmt.Errorf("loading catalog: %w", err)
		}

		text := strings.Join(args, " ")
		names := r.Resolve(text)
		if len(names) == 0 {
			e.logger.Info("nothing resolved", zap.String("text", text))
			return errNoNames
		}

		for _, name := range names {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}
