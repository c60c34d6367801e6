// Package articles finds perfume blog posts and reviews on the web and keeps
// the ones already seen.
package articles

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"
)

const querySuffix = "perfume review OR fragrance blog OR perfume forum"

type Article struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher queries a web search engine.
type Searcher interface {
	Search(ctx context.Context, query string, n int) ([]Article, error)
}

// RefineQuery biases a free-text query towards fragrance reviews and blogs.
func RefineQuery(query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return ""
	}
	return query + " " + querySuffix
}

// GoogleSearcher uses a Google Programmable Search Engine.
type GoogleSearcher struct {
	service  *customsearch.Service
	engineID string
	logger   *zap.Logger
}

func NewGoogleSearcher(ctx context.Context, logger *zap.Logger, apiKey, engineID string, opts ...option.ClientOption) (*GoogleSearcher, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("google api key is required")
	}
	engineID = strings.TrimSpace(engineID)
	if engineID == "" {
		return nil, errors.New("search engine id is required")
	}

	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	service, err := customsearch.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create custom search service: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &GoogleSearcher{service: service, engineID: engineID, logger: logger}, nil
}

// Search returns up to n results for the refined query. An empty query returns no results.
func (g *GoogleSearcher) Search(ctx context.Context, query string, n int) ([]Article, error) {
	refined := RefineQuery(query)
	if refined == "" {
		return nil, nil
	}
	// the API serves at most 10 results per page
	if n <= 0 || n > 10 {
		n = 10
	}

	g.logger.Debug("searching articles", zap.String("query", refined), zap.Int("results", n))

	resp, err := g.service.Cse.List().
		Q(refined).
		Cx(g.engineID).
		Num(int64(n)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("custom search %q: %w", refined, err)
	}

	out := make([]Article, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item == nil || strings.TrimSpace(item.Link) == "" {
			continue
		}
		out = append(out, Article{
			Title:   strings.TrimSpace(item.Title),
			URL:     strings.TrimSpace(item.Link),
			Snippet: strings.TrimSpace(item.Snippet),
		})
	}

	return out, nil
}
