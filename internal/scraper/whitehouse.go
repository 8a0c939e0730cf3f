package scraper

import (
	"context"

	"github.com/sells-group/deal-tracker/internal/config"
	"github.com/sells-group/deal-tracker/internal/model"
)

// WhiteHouse paginates whitehouse.gov fact-sheet and article listings.
// Listing pages are cached, titles are filtered against the watchlist,
// and only matching articles are fetched in full.
type WhiteHouse struct {
	Base
	cfg config.ListingSourceConfig
}

func NewWhiteHouse(base Base, cfg config.ListingSourceConfig) *WhiteHouse {
	return &WhiteHouse{Base: base, cfg: cfg}
}

func (w *WhiteHouse) Name() string { return "whitehouse" }

var whSegments = []string{"/articles/", "/fact-sheets/", "/presidential-actions/"}

func (w *WhiteHouse) Discover(ctx context.Context) ([]model.RawCandidate, error) {
	seen := make(map[string]bool)
	var out []model.RawCandidate

	sections := []struct {
		name     string
		template string
	}{
		{"fact_sheets", w.cfg.FactSheetsURL},
		{"articles", w.cfg.PressReleasesURL},
	}
	for _, s := range sections {
		if s.template == "" {
			continue
		}
		out = append(out, w.scrapeListing(ctx, listing{
			Scraper:   w.Name(),
			Source:    w.Name(),
			Section:   s.name,
			Template:  s.template,
			FirstPage: 1,
			MaxPages:  w.cfg.MaxPages,
			Host:      "https://www.whitehouse.gov",
			Segments:  whSegments,
		}, seen)...)
	}
	return out, ctx.Err()
}
