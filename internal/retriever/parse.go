package retriever

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/spigell/scentmatch/internal/notes"
)

var (
	errStructureNotFound = errors.New("notes container not found")
	errNoNotes           = errors.New("no notes extracted from container")
)

const headingSelector = "h2, h3, h4, h5, strong, b"

var (
	slugSuffix = regexp.MustCompile(`-\d+$`)
	titleCaser = cases.Title(language.English)
)

// containerStrategy locates the element holding the notes pyramid.
type containerStrategy interface {
	Name() string
	Locate(doc *goquery.Document) *goquery.Selection
}

type selectorStrategy struct {
	name     string
	selector string
}

func (s selectorStrategy) Name() string { return s.name }

func (s selectorStrategy) Locate(doc *goquery.Document) *goquery.Selection {
	return doc.Find(s.selector).First()
}

// styleStrategy picks the first flex block that holds a tier heading.
type styleStrategy struct{}

func (styleStrategy) Name() string { return "heuristic-style" }

func (styleStrategy) Locate(doc *goquery.Document) *goquery.Selection {
	return doc.Find(`div[style*="flex"]`).FilterFunction(func(_ int, s *goquery.Selection) bool {
		found := false
		s.Find(headingSelector).EachWithBreak(func(_ int, h *goquery.Selection) bool {
			_, found = tierOf(h.Text())
			return !found
		})
		return found
	}).First()
}

var containerStrategies = []containerStrategy{
	selectorStrategy{name: "primary-structural", selector: "#pyramid"},
	selectorStrategy{name: "secondary-structural", selector: `div[itemprop="description"] > div`},
	styleStrategy{},
	selectorStrategy{name: "legacy", selector: `.notes-box, #notes, div[itemprop="description"]`},
}

func parseDocument(markup string) (*goquery.Document, error) {
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}
	return goquery.NewDocumentFromNode(root), nil
}

// locateContainer returns the first non-empty container and the strategy that found it.
func locateContainer(doc *goquery.Document) (*goquery.Selection, string, error) {
	for _, strategy := range containerStrategies {
		sel := strategy.Locate(doc)
		if sel.Length() == 0 || strings.TrimSpace(sel.Text()) == "" {
			continue
		}
		return sel, strategy.Name(), nil
	}
	return nil, "", errStructureNotFound
}

// extractNotes reads the three tiers out of a notes container. Tiers without
// entries stay empty.
func extractNotes(container *goquery.Selection) (notes.NoteSet, error) {
	tiers := map[notes.Tier][]string{}

	container.Find(headingSelector).Each(func(_ int, heading *goquery.Selection) {
		tier, ok := tierOf(heading.Text())
		if !ok {
			return
		}
		tiers[tier] = append(tiers[tier], notesAfter(heading)...)
	})

	set := notes.New(tiers[notes.Top], tiers[notes.Middle], tiers[notes.Base])
	if set.Empty() {
		return set, errNoNotes
	}
	return set, nil
}

func tierOf(text string) (notes.Tier, bool) {
	text = notes.Normalize(text)
	switch {
	case strings.Contains(text, "top notes"):
		return notes.Top, true
	case strings.Contains(text, "middle notes"), strings.Contains(text, "heart notes"):
		return notes.Middle, true
	case strings.Contains(text, "base notes"):
		return notes.Base, true
	}
	return "", false
}

func isHeading(s *goquery.Selection) bool {
	if !s.Is(headingSelector) {
		return false
	}
	_, ok := tierOf(s.Text())
	return ok
}

// notesAfter scans the siblings following a heading for the first element that
// is or holds note links. Without links the visible text is split on commas.
func notesAfter(heading *goquery.Selection) []string {
	var links *goquery.Selection

	heading.NextAll().EachWithBreak(func(_ int, sib *goquery.Selection) bool {
		if isHeading(sib) {
			return false
		}
		if sib.Is("a[href]") {
			links = sib.AddSelection(sib.NextUntilSelection(nextHeading(sib))).Filter("a[href]")
			return false
		}
		if found := sib.Find("a[href]"); found.Length() > 0 {
			links = found
			return false
		}
		return true
	})

	if links != nil && links.Length() > 0 {
		var out []string
		links.Each(func(_ int, a *goquery.Selection) {
			if name := noteFromLink(a); name != "" {
				out = append(out, name)
			}
		})
		return out
	}

	return splitNoteText(textAfter(heading))
}

func nextHeading(s *goquery.Selection) *goquery.Selection {
	return s.NextAll().FilterFunction(func(_ int, sib *goquery.Selection) bool {
		return isHeading(sib)
	}).First()
}

// textAfter returns the text that belongs to a heading when no links exist:
// the rest of an enclosing paragraph, or the first non-empty following sibling.
func textAfter(heading *goquery.Selection) string {
	if heading.Is("strong, b") && heading.Parent().Is("p") {
		return strings.Replace(heading.Parent().Text(), heading.Text(), "", 1)
	}

	var text string
	heading.NextAll().EachWithBreak(func(_ int, sib *goquery.Selection) bool {
		if isHeading(sib) {
			return false
		}
		text = strings.TrimSpace(sib.Text())
		return text == ""
	})
	return text
}

func splitNoteText(text string) []string {
	var out []string
	for _, part := range strings.Split(text, ",") {
		part = strings.Trim(strings.TrimSpace(part), " .:")
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func noteFromLink(a *goquery.Selection) string {
	if href, ok := a.Attr("href"); ok {
		if name := decodeNoteSlug(href); name != "" {
			return name
		}
	}
	return strings.Join(strings.Fields(a.Text()), " ")
}

// decodeNoteSlug turns a note link like /notes/Pink-Pepper-88.html into "Pink Pepper".
func decodeNoteSlug(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	_, rest, ok := strings.Cut(u.Path, "/notes/")
	if !ok || strings.Trim(rest, "/") == "" {
		return ""
	}

	slug := strings.TrimSuffix(path.Base(rest), path.Ext(rest))
	if unescaped, err := url.PathUnescape(slug); err == nil {
		slug = unescaped
	}
	slug = slugSuffix.ReplaceAllString(slug, "")
	slug = strings.Join(strings.Fields(strings.ReplaceAll(slug, "-", " ")), " ")
	if slug == "" {
		return ""
	}

	return titleCaser.String(slug)
}

// Candidate is one search result offered for disambiguation.
type Candidate struct {
	DisplayText string
	Target      string
}

// collectCandidates reads up to limit result links, deduplicated by display text.
func collectCandidates(doc *goquery.Document, selector string, base *url.URL, limit int) []Candidate {
	var out []Candidate
	seen := map[string]struct{}{}

	doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		link := s
		if !s.Is("a[href]") {
			link = s.Find("a[href]").First()
		}
		href, ok := link.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return true
		}

		display := strings.Join(strings.Fields(s.Text()), " ")
		if display == "" {
			display = strings.TrimSpace(link.AttrOr("title", ""))
		}
		if display == "" {
			return true
		}
		if _, dup := seen[display]; dup {
			return true
		}

		target, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return true
		}
		if base != nil {
			target = base.ResolveReference(target)
		}

		seen[display] = struct{}{}
		out = append(out, Candidate{DisplayText: display, Target: target.String()})
		return len(out) < limit
	})

	return out
}
