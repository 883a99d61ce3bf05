package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zhouzirui/library-chat/backend/internal/adapter/catalog"
)

// Searcher is the catalogue search used by SearchCatalog.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]catalog.Record, error)
}

// SearchCatalog finds items in the library catalogue.
type SearchCatalog struct {
	Searcher Searcher
}

func (SearchCatalog) Spec() Spec {
	return Spec{
		Name:        "search_catalog",
		Description: "Search the library catalogue for books, journals and other items.",
		Parameters: map[string]string{
			"query": "keywords, title or author to look for",
			"limit": fmt.Sprintf("number of results to return, default %d", catalog.DefaultLimit),
		},
		Required: []string{"query"},
	}
}

func (t SearchCatalog) Run(ctx context.Context, args Args) (string, error) {
	query, _ := args.String("query")
	records, err := t.Searcher.Search(ctx, query, args.Int("limit", catalog.DefaultLimit))
	if errors.Is(err, catalog.ErrNoResults) {
		return fmt.Sprintf("No catalogue results for %q.", query), nil
	}
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Catalogue results for %q:\n", query)
	for i, r := range records {
		fmt.Fprintf(&b, "%d. %s by %s (%s, %s). Location: %s.", i+1, r.Title, r.Author, r.PublicationYear, r.BookType, r.LocationInformation)
		if len(r.Subjects) > 0 {
			fmt.Fprintf(&b, " Subjects: %s.", strings.Join(r.Subjects, ", "))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
