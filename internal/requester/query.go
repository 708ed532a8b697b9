package requester

import (
	"net/url"
	"strings"
	"time"

	"github.com/alvmarrod/newsapi-requester/internal/scheduler"
)

// BuildQuery renders the provider's boolean query syntax:
// AND terms joined with AND, OR terms grouped in parentheses, each NOT term
// prefixed with NOT, and the three parts joined with AND.
func BuildQuery(spec *scheduler.QuerySpec) string {
	var parts []string
	if len(spec.And) > 0 {
		parts = append(parts, strings.Join(spec.And, " AND "))
	}
	if len(spec.Or) > 0 {
		parts = append(parts, "("+strings.Join(spec.Or, " OR ")+")")
	}
	if len(spec.Not) > 0 {
		nots := make([]string, len(spec.Not))
		for i, term := range spec.Not {
			nots[i] = "NOT " + term
		}
		parts = append(parts, strings.Join(nots, " AND "))
	}
	return strings.Join(parts, " AND ")
}

// BuildURL returns the search URL for spec over [from, to). The API key is
// sent as a header and never appears in the URL.
func BuildURL(baseURL string, spec *scheduler.QuerySpec, from, to time.Time, language string) string {
	params := url.Values{}
	if q := BuildQuery(spec); q != "" {
		params.Set("q", q)
	}
	params.Set("from", scheduler.FormatDay(from))
	params.Set("to", scheduler.FormatDay(to))
	if language != "" {
		params.Set("language", language)
	}
	if domains := NormalizeDomains(spec.IncludeDomains); len(domains) > 0 {
		params.Set("domains", strings.Join(domains, ","))
	}
	if domains := NormalizeDomains(spec.ExcludeDomains); len(domains) > 0 {
		params.Set("excludeDomains", strings.Join(domains, ","))
	}

	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return baseURL + "everything?" + params.Encode()
}

// NormalizeDomain extracts a lowercase hostname from either a bare domain
// ("CNN.com") or a URL ("https://www.cnn.com/world")
func NormalizeDomain(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	// Handle protocol-relative and bare domains
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	} else if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}

// NormalizeDomains normalizes a domain list, dropping empties and duplicates
func NormalizeDomains(domains []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range domains {
		d = NormalizeDomain(d)
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

// clampStart moves start forward to the oldest date the provider serves.
// lookbackDays <= 0 disables the clamp.
func clampStart(start, today time.Time, lookbackDays int) time.Time {
	if lookbackDays <= 0 {
		return start
	}
	oldest := scheduler.Day(today).AddDate(0, 0, -lookbackDays)
	if start.Before(oldest) {
		return oldest
	}
	return start
}
