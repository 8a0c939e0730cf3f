package scraper

import (
	"context"

	"github.com/sells-group/deal-tracker/internal/config"
	"github.com/sells-group/deal-tracker/internal/model"
)

// USTR paginates ustr.gov press-office listings. USTR content URLs
// sometimes carry month names instead of numbers; dateFromURL handles
// both forms.
type USTR struct {
	Base
	cfg config.ListingSourceConfig
}

func NewUSTR(base Base, cfg config.ListingSourceConfig) *USTR {
	return &USTR{Base: base, cfg: cfg}
}

func (u *USTR) Name() string { return "ustr" }

var ustrSegments = []string{
	"/fact-sheets/", "/press-releases/", "/trade-agreements/",
	"/about-us/policy-offices/",
}

func (u *USTR) Discover(ctx context.Context) ([]model.RawCandidate, error) {
	seen := make(map[string]bool)
	var out []model.RawCandidate

	sections := []struct {
		name     string
		template string
	}{
		{"fact_sheets", u.cfg.FactSheetsURL},
		{"press_releases", u.cfg.PressReleasesURL},
	}
	for _, s := range sections {
		if s.template == "" {
			continue
		}
		out = append(out, u.scrapeListing(ctx, listing{
			Scraper:   u.Name(),
			Source:    u.Name(),
			Section:   s.name,
			Template:  s.template,
			FirstPage: 0,
			MaxPages:  u.cfg.MaxPages,
			Host:      "https://ustr.gov",
			Segments:  ustrSegments,
		}, seen)...)
	}
	return out, ctx.Err()
}
