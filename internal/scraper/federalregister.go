package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/sells-group/deal-tracker/internal/config"
	"github.com/sells-group/deal-tracker/internal/model"
)

// frFields limits the API response to what we use, keeping cached
// payloads small.
var frFields = []string{"title", "abstract", "document_number", "publication_date", "html_url", "type"}

// FederalRegister searches the Federal Register public JSON API for
// tech/trade documents mentioning watchlist countries. Structured JSON
// means the extracted-text layer is skipped entirely; candidates are
// built straight from the response fields.
type FederalRegister struct {
	Base
	cfg       config.FederalRegisterConfig
	dateStart string
}

// NewFederalRegister builds the Federal Register scraper. dateStart
// bounds the search to documents published on or after that date.
func NewFederalRegister(base Base, cfg config.FederalRegisterConfig, dateStart string) *FederalRegister {
	return &FederalRegister{Base: base, cfg: cfg, dateStart: dateStart}
}

func (f *FederalRegister) Name() string { return "federal_register" }

// searchTerms keeps the query list short: fewer queries means fewer API
// hits and better cache reuse across runs.
func searchTerms(countryName string) []string {
	return []string{
		countryName + " technology trade",
		countryName + " technology prosperity deal",
		countryName + " bilateral technology agreement",
	}
}

func (f *FederalRegister) searchURL(term string) string {
	q := url.Values{}
	q.Set("conditions[term]", term)
	q.Set("conditions[publication_date][gte]", f.dateStart)
	q.Set("per_page", fmt.Sprintf("%d", f.cfg.PerPage))
	q.Set("page", "1")
	q.Set("order", "newest")
	for _, field := range frFields {
		q.Add("fields[]", field)
	}
	return f.cfg.Endpoint + "?" + q.Encode()
}

type frResponse struct {
	Count   int          `json:"count"`
	Results []frDocument `json:"results"`
}

type frDocument struct {
	Title           string `json:"title"`
	Abstract        string `json:"abstract"`
	DocumentNumber  string `json:"document_number"`
	PublicationDate string `json:"publication_date"`
	HTMLURL         string `json:"html_url"`
	Type            string `json:"type"`
}

// Discover runs the per-country searches and returns deduplicated
// candidates. A failed or malformed search response skips that term and
// keeps going.
func (f *FederalRegister) Discover(ctx context.Context) ([]model.RawCandidate, error) {
	var out []model.RawCandidate
	seen := make(map[string]bool)

	for _, country := range f.Watch.Countries() {
		found := 0
		for _, term := range searchTerms(country.Names[0]) {
			u := f.searchURL(term)

			body, err := f.FetchPage(ctx, u)
			if err != nil {
				if ctx.Err() != nil {
					return out, ctx.Err()
				}
				zap.L().Warn("federal register search failed",
					zap.String("term", term), zap.Error(err))
				continue
			}

			var resp frResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				zap.L().Error("federal register returned invalid JSON",
					zap.String("term", term), zap.Error(err))
				continue
			}

			zap.L().Info("federal register search",
				zap.String("term", term),
				zap.Int("total", resp.Count),
				zap.Int("returned", len(resp.Results)))

			for _, doc := range resp.Results {
				if doc.DocumentNumber == "" || seen[doc.DocumentNumber] {
					continue
				}
				seen[doc.DocumentNumber] = true
				found++

				out = append(out, model.RawCandidate{
					Title:     doc.Title,
					SourceURL: doc.HTMLURL,
					SourceID:  "FR-" + doc.DocumentNumber,
					Snippet:   truncate(doc.Abstract, snippetLen),
					RawDate:   doc.PublicationDate,
					Source:    f.Name(),
					Keywords:  f.Watch.MatchedKeywords(doc.Title + " " + doc.Abstract),
				})
			}
		}
		zap.L().Info("federal register country done",
			zap.String("country", country.Key),
			zap.Int("candidates", found))
	}

	return out, nil
}
