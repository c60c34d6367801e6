// Package orchestrator routes one chat utterance through name resolution,
// intent classification, retrieval and generation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/scentmatch/internal/articles"
	"github.com/spigell/scentmatch/internal/assistant"
	"github.com/spigell/scentmatch/internal/compat"
	"github.com/spigell/scentmatch/internal/intent"
	"github.com/spigell/scentmatch/internal/notes"
	"github.com/spigell/scentmatch/internal/retriever"
)

type NameResolver interface {
	Resolve(text string) []string
}

type IntentClassifier interface {
	Classify(text string, names int) intent.Intent
}

// NotesSource returns the notes for a perfume, from cache or live.
type NotesSource interface {
	Lookup(ctx context.Context, name string, mode retriever.Mode) (notes.NoteSet, retriever.Source, error)
}

type ArticleFinder interface {
	Find(ctx context.Context, query string) ([]articles.Article, error)
}

type Request struct {
	Utterance string
	History   []assistant.Message
}

type Response struct {
	Reply   string
	Intent  intent.Intent
	Context assistant.Context
	History []assistant.Message
}

type Deps struct {
	Resolver   NameResolver
	Classifier IntentClassifier
	Notes      NotesSource
	// Articles is optional; without it article requests pass through.
	Articles  ArticleFinder
	Generator assistant.Generator
	Logger    *zap.Logger
}

type Orchestrator struct {
	resolver   NameResolver
	classifier IntentClassifier
	notes      NotesSource
	articles   ArticleFinder
	generator  assistant.Generator
	logger     *zap.Logger
}

func New(deps *Deps) (*Orchestrator, error) {
	if deps == nil {
		return nil, errors.New("orchestrator dependencies are required")
	}
	if deps.Resolver == nil || deps.Classifier == nil {
		return nil, errors.New("resolver and classifier are required")
	}
	if deps.Notes == nil {
		return nil, errors.New("notes source is required")
	}
	if deps.Generator == nil {
		return nil, errors.New("generator is required")
	}

	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Orchestrator{
		resolver:   deps.Resolver,
		classifier: deps.Classifier,
		notes:      deps.Notes,
		articles:   deps.Articles,
		generator:  deps.Generator,
		logger:     log,
	}, nil
}

// Handle answers one utterance. Retrieval problems are passed to the
// generator as annotations; only generation errors are returned.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (*Response, error) {
	utterance := strings.TrimSpace(req.Utterance)
	if utterance == "" {
		return nil, errors.New("utterance must not be empty")
	}

	names := o.resolver.Resolve(utterance)
	kind := o.classifier.Classify(utterance, len(names))

	o.logger.Info("handling utterance",
		zap.String("intent", string(kind)),
		zap.Strings("names", names),
		zap.Int("history", len(req.History)),
	)

	c := assistant.Context{Intent: kind, Names: names}
	switch kind {
	case intent.NoteInquiry:
		o.noteInquiry(ctx, &c)
	case intent.Layering:
		o.layering(ctx, &c)
	case intent.Articles:
		o.findArticles(ctx, &c, utterance)
	}

	reply, err := o.generator.Generate(ctx, req.History, utterance, c)
	if err != nil {
		return nil, fmt.Errorf("generate reply: %w", err)
	}

	return &Response{
		Reply:   reply.Text,
		Intent:  kind,
		Context: c,
		History: reply.History,
	}, nil
}

func (o *Orchestrator) noteInquiry(ctx context.Context, c *assistant.Context) {
	for _, name := range c.Names {
		set, err := o.lookup(ctx, name)
		if err != nil {
			c.Annotations = append(c.Annotations,
				fmt.Sprintf("Could not retrieve notes for %s. Please inform the user politely.", name))
			continue
		}
		if c.Notes == nil {
			c.Notes = make(map[string]notes.NoteSet)
		}
		c.Notes[name] = set
	}
}

func (o *Orchestrator) layering(ctx context.Context, c *assistant.Context) {
	first, second := c.Names[0], c.Names[1]

	a, errA := o.lookup(ctx, first)
	b, errB := o.lookup(ctx, second)
	if errA != nil || errB != nil {
		c.Annotations = append(c.Annotations,
			fmt.Sprintf("Could not retrieve notes for %s or %s for layering. Please inform the user politely.", first, second))
		return
	}

	result := compat.Score(a, b)
	c.Notes = map[string]notes.NoteSet{first: a, second: b}
	c.Compatibility = &result

	o.logger.Debug("scored layering",
		zap.String("first", first),
		zap.String("second", second),
		zap.Float64("compatibility", result.CompatibilityScore),
	)
}

func (o *Orchestrator) findArticles(ctx context.Context, c *assistant.Context, utterance string) {
	if o.articles == nil {
		return
	}

	query := utterance
	if len(c.Names) > 0 {
		query = strings.Join(c.Names, " ")
	}

	found, err := o.articles.Find(ctx, query)
	if err != nil {
		o.logger.Warn("article search failed", zap.String("query", query), zap.Error(err))
		c.Annotations = append(c.Annotations, "Article search is unavailable right now.")
		return
	}
	c.Articles = found
}

func (o *Orchestrator) lookup(ctx context.Context, name string) (notes.NoteSet, error) {
	set, source, err := o.notes.Lookup(ctx, name, retriever.Automatic)
	if err != nil {
		o.logger.Warn("notes lookup failed",
			zap.String("name", name),
			zap.String("kind", string(retriever.KindOf(err))),
			zap.Error(err),
		)
		return notes.NoteSet{}, err
	}
	o.logger.Debug("notes lookup", zap.String("name", name), zap.String("source", string(source)))
	return set, nil
}
