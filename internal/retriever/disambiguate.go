package retriever

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"

	"github.com/spigell/scentmatch/internal/fuzzy"
)

// ErrChoiceAborted is returned by a Chooser when the user declines to pick.
var ErrChoiceAborted = errors.New("selection aborted")

// Chooser asks a human to pick one of the candidates. It returns a 0-based index.
type Chooser interface {
	Choose(ctx context.Context, query string, candidates []Candidate) (int, error)
}

// PromptChooser presents candidates with an interactive terminal menu.
type PromptChooser struct {
	Stdin  io.ReadCloser
	Stdout io.WriteCloser
}

func (p *PromptChooser) Choose(_ context.Context, query string, candidates []Candidate) (int, error) {
	items := make([]string, 0, len(candidates))
	for _, c := range candidates {
		items = append(items, c.DisplayText)
	}

	prompt := promptui.Select{
		Label:  fmt.Sprintf("Which one is %q?", query),
		Items:  items,
		Size:   len(items),
		Stdin:  p.Stdin,
		Stdout: p.Stdout,
	}

	idx, _, err := prompt.Run()
	if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) || errors.Is(err, promptui.ErrAbort) {
		return 0, ErrChoiceAborted
	}
	if err != nil {
		return 0, err
	}
	return idx, nil
}

// LineChooser prints a numbered list and reads a 1-based choice per line.
// Invalid input is re-prompted; "q" or end of input aborts.
type LineChooser struct {
	In  io.Reader
	Out io.Writer
}

func (l *LineChooser) Choose(ctx context.Context, query string, candidates []Candidate) (int, error) {
	fmt.Fprintf(l.Out, "Several results match %q:\n", query)
	for i, c := range candidates {
		fmt.Fprintf(l.Out, "  %d) %s\n", i+1, c.DisplayText)
	}

	scanner := bufio.NewScanner(l.In)
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		fmt.Fprintf(l.Out, "Select 1-%d (q to cancel): ", len(candidates))
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return 0, err
			}
			return 0, ErrChoiceAborted
		}

		input := strings.TrimSpace(scanner.Text())
		if strings.EqualFold(input, "q") {
			return 0, ErrChoiceAborted
		}

		n, err := strconv.Atoi(input)
		if err != nil || n < 1 || n > len(candidates) {
			fmt.Fprintf(l.Out, "invalid choice %q\n", input)
			continue
		}
		return n - 1, nil
	}
}

// bestCandidate returns the index and score of the candidate whose display
// text scores highest against query. Ties keep the earlier candidate.
func bestCandidate(query string, candidates []Candidate) (int, int) {
	best, bestScore := -1, -1
	for i, c := range candidates {
		if score := fuzzy.TokenSetRatio(query, c.DisplayText); score > bestScore {
			best, bestScore = i, score
		}
	}
	return best, bestScore
}
