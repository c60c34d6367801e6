package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/scentmatch/internal/notes"
	"github.com/spigell/scentmatch/internal/retriever"
)

var notesCmd = &cobra.Command{
	Use:   "notes <name>",
	Short: "Show the note pyramid of a perfume",
	Long: `Show the note pyramid of a perfume. Cached pyramids are returned without
opening a browser; --refresh always retrieves the page again.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e := setup()
		defer e.close()

		interactive, _ := cmd.Flags().GetBool("interactive")
		refresh, _ := cmd.Flags().GetBool("refresh")

		r, err := e.newResolver()
		if err != nil {
			return fmt.Errorf("loading catalog: %w", err)
		}

		nc, err := e.openCache()
		if err != nil {
			return fmt.Errorf("opening cache: %w", err)
		}

		mode := retriever.Automatic
		var chooser retriever.Chooser
		if interactive {
			mode = retriever.Interactive
			chooser = &retriever.PromptChooser{Stdin: os.Stdin, Stdout: os.Stdout}
		}

		ret, err := e.newRetriever(nc, chooser)
		if err != nil {
			return err
		}

		name := canonicalName(r, strings.Join(args, " "))

		var (
			set    notes.NoteSet
			source = retriever.SourceLive
		)
		if refresh {
			set, err = ret.Fetch(cmd.Context(), name, mode)
		} else {
			set, source, err = ret.Lookup(cmd.Context(), name, mode)
		}
		if err != nil {
			return fmt.Errorf("retrieving notes for %q: %w", name, err)
		}

		e.logger.Info("notes found", zap.String("name", name), zap.String("source", string(source)))

		return printJSON(cmd, map[string]any{"name": name, "notes": set})
	},
}

func init() {
	rootCmd.AddCommand(notesCmd)

	notesCmd.Flags().BoolP("interactive", "i", false, "choose among search results instead of auto-selecting")
	notesCmd.Flags().BoolP("refresh", "r", false, "ignore the cache and retrieve the page again")
}

func printJSON(cmd *cobra.Command, v any) error {
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(pretty))
	return nil
}
