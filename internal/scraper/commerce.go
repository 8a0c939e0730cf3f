package scraper

import (
	"context"

	"github.com/sells-group/deal-tracker/internal/config"
	"github.com/sells-group/deal-tracker/internal/model"
)

// Commerce paginates commerce.gov news listings. Commerce uses
// 0-indexed ?page=N pagination.
type Commerce struct {
	Base
	cfg config.ListingSourceConfig
}

func NewCommerce(base Base, cfg config.ListingSourceConfig) *Commerce {
	return &Commerce{Base: base, cfg: cfg}
}

func (c *Commerce) Name() string { return "commerce" }

var commerceSegments = []string{"/news/", "/fact-sheets/", "/press-releases/"}

func (c *Commerce) Discover(ctx context.Context) ([]model.RawCandidate, error) {
	seen := make(map[string]bool)
	var out []model.RawCandidate

	sections := []struct {
		name     string
		template string
	}{
		{"fact_sheets", c.cfg.FactSheetsURL},
		{"press_releases", c.cfg.PressReleasesURL},
	}
	for _, s := range sections {
		if s.template == "" {
			continue
		}
		out = append(out, c.scrapeListing(ctx, listing{
			Scraper:   c.Name(),
			Source:    c.Name(),
			Section:   s.name,
			Template:  s.template,
			FirstPage: 0,
			MaxPages:  c.cfg.MaxPages,
			Host:      "https://www.commerce.gov",
			Segments:  commerceSegments,
		}, seen)...)
	}
	return out, ctx.Err()
}
