// Package watchlist resolves country name aliases in document text to ISO
// codes and applies the keyword filters that decide which pages are worth
// fetching. Matching is the cheapest possible filter: pure string work, no
// network, no model calls.
package watchlist

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/deal-tracker/internal/config"
)

// Country is one tracked country with its name aliases.
type Country struct {
	Key        string
	Names      []string
	Code       string
	FormalName string
}

// DefaultCountries returns the built-in watchlist.
func DefaultCountries() []Country {
	return []Country{
		{
			Key: "UK",
			Names: []string{
				"United Kingdom", "UK", "U.K.",
				"Britain", "British", "Great Britain",
				"England", // colloquial, some articles use it loosely
			},
			Code:       "GBR",
			FormalName: "United Kingdom of Great Britain and Northern Ireland",
		},
		{
			Key:        "Japan",
			Names:      []string{"Japan", "Japanese", "JPN"},
			Code:       "JPN",
			FormalName: "Japan",
		},
		{
			Key: "South Korea",
			Names: []string{
				"South Korea", "Korea", "Korean",
				"Republic of Korea", "ROK", "R.O.K.",
				"S. Korea",
			},
			Code:       "KOR",
			FormalName: "Republic of Korea",
		},
	}
}

// FromConfig converts configured watchlist entries, falling back to the
// built-in list when none are configured.
func FromConfig(entries []config.CountryConfig) []Country {
	if len(entries) == 0 {
		return DefaultCountries()
	}
	out := make([]Country, len(entries))
	for i, e := range entries {
		out[i] = Country{Key: e.Key, Names: e.Names, Code: e.Code, FormalName: e.FormalName}
	}
	return out
}

// Watchlist matches text against tracked countries and keywords.
type Watchlist struct {
	countries []Country
	patterns  []*regexp.Regexp // parallel to countries
	keywords  []string         // lowercased
}

// New compiles a Watchlist. Country aliases are matched case-insensitively
// and word-boundary aware, so "Korea" matches "with Korea," but not
// "Koreatown".
func New(countries []Country, keywords []string) *Watchlist {
	w := &Watchlist{countries: countries}
	for _, c := range countries {
		alts := make([]string, len(c.Names))
		for i, n := range c.Names {
			alts[i] = regexp.QuoteMeta(n)
		}
		w.patterns = append(w.patterns,
			regexp.MustCompile(`(?i)\b(`+strings.Join(alts, "|")+`)\b`))
	}
	for _, k := range keywords {
		w.keywords = append(w.keywords, strings.ToLower(k))
	}
	return w
}

// Filter returns a Watchlist restricted to one country by key.
func (w *Watchlist) Filter(key string) (*Watchlist, error) {
	for i, c := range w.countries {
		if strings.EqualFold(c.Key, key) {
			return &Watchlist{
				countries: []Country{c},
				patterns:  []*regexp.Regexp{w.patterns[i]},
				keywords:  w.keywords,
			}, nil
		}
	}
	return nil, eris.Errorf("watchlist: unknown country %q (available: %s)",
		key, strings.Join(w.Keys(), ", "))
}

// MatchCountry returns the ISO code of the first tracked country whose
// alias appears in text.
func (w *Watchlist) MatchCountry(text string) (string, bool) {
	for i, p := range w.patterns {
		if p.MatchString(text) {
			return w.countries[i].Code, true
		}
	}
	return "", false
}

// MatchKeyword reports whether any configured keyword appears in text.
func (w *Watchlist) MatchKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, k := range w.keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// MatchedKeywords returns every configured keyword present in text, in
// configuration order.
func (w *Watchlist) MatchedKeywords(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, k := range w.keywords {
		if strings.Contains(lower, k) {
			out = append(out, k)
		}
	}
	return out
}

// TitleMatches reports whether a listing title names a tracked country and
// at least one tech/deal keyword. This runs on listing-page titles to decide
// which pages to fetch at all.
func (w *Watchlist) TitleMatches(title string) bool {
	if _, ok := w.MatchCountry(title); !ok {
		return false
	}
	return w.MatchKeyword(title)
}

// FormalName returns the formal country name for an ISO code, or the code
// itself when unknown.
func (w *Watchlist) FormalName(code string) string {
	for _, c := range w.countries {
		if c.Code == code {
			return c.FormalName
		}
	}
	return code
}

// HasCode reports whether code belongs to a tracked country.
func (w *Watchlist) HasCode(code string) bool {
	for _, c := range w.countries {
		if c.Code == code {
			return true
		}
	}
	return false
}

// Countries returns the tracked countries in configuration order.
func (w *Watchlist) Countries() []Country {
	return w.countries
}

// Codes returns the tracked ISO codes in configuration order.
func (w *Watchlist) Codes() []string {
	out := make([]string, len(w.countries))
	for i, c := range w.countries {
		out[i] = c.Code
	}
	return out
}

// Keys returns the country keys in configuration order.
func (w *Watchlist) Keys() []string {
	out := make([]string, len(w.countries))
	for i, c := range w.countries {
		out[i] = c.Key
	}
	return out
}
