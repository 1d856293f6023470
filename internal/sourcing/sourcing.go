// Package sourcing queries the places provider and turns raw results
// into a normalized, deduplicated candidate list.
package sourcing

import (
	"context"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/leadline-ai/leadline/internal/model"
	"github.com/leadline-ai/leadline/pkg/places"
)

// minPhoneDigits is the shortest digit string we accept as a dial-able
// number; anything shorter is treated as junk and dropped.
const minPhoneDigits = 7

// Sourcer wraps the places client with normalization and dedup.
type Sourcer struct {
	places places.Client
}

func New(client places.Client) *Sourcer {
	return &Sourcer{places: client}
}

// Source runs one provider query and returns deduplicated candidates.
// Provider failures are fatal for the call; there is no empty-result
// fallback that would hide an outage from the orchestrator.
func (s *Sourcer) Source(ctx context.Context, query string, maxResults int) ([]model.SourcedPlace, error) {
	resp, err := s.places.TextSearch(ctx, query, maxResults)
	if err != nil {
		return nil, eris.Wrapf(err, "sourcing: text search %q", query)
	}

	candidates := make([]model.SourcedPlace, 0, len(resp.Places))
	for _, p := range resp.Places {
		candidates = append(candidates, model.SourcedPlace{
			PlaceID: p.ID,
			Name:    p.DisplayName.Text,
			Website: NormalizeWebsite(p.WebsiteURI),
			Phone:   NormalizePhone(p.NationalPhoneNumber),
			Address: p.FormattedAddress,
			Rating:  p.Rating,
			Reviews: p.UserRatingCount,
		})
	}

	deduped := Dedupe(candidates)
	zap.L().Info("sourcing: query complete",
		zap.String("query", query),
		zap.Int("raw", len(candidates)),
		zap.Int("deduped", len(deduped)))
	return deduped, nil
}

// NormalizeWebsite canonicalizes a website URL: ensures a scheme, strips
// the www. prefix, lowercases the host, and keeps the path only when it
// is non-root. Idempotent; returns "" for unparseable input.
func NormalizeWebsite(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}

	host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
	if host == "" {
		return ""
	}

	out := u.Scheme + "://" + host
	if p := strings.TrimSuffix(u.Path, "/"); p != "" {
		out += p
	}
	return out
}

// CanonicalHost extracts the www-stripped hostname used as a dedup key.
func CanonicalHost(website string) string {
	if website == "" {
		return ""
	}
	if !strings.Contains(website, "://") {
		website = "https://" + website
	}
	u, err := url.Parse(website)
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
}

// NormalizePhone strips formatting punctuation and discards numbers whose
// digit string is implausibly short.
func NormalizePhone(raw string) string {
	var b strings.Builder
	digits := 0
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			digits++
		case r == '+' && b.Len() == 0:
			b.WriteRune(r)
		}
	}
	if digits < minPhoneDigits {
		return ""
	}
	return b.String()
}

// Dedupe drops candidates whose provider id OR canonical website host was
// already seen; the first occurrence wins.
func Dedupe(in []model.SourcedPlace) []model.SourcedPlace {
	seenID := make(map[string]bool, len(in))
	seenHost := make(map[string]bool, len(in))

	out := make([]model.SourcedPlace, 0, len(in))
	for _, p := range in {
		if p.PlaceID != "" && seenID[p.PlaceID] {
			continue
		}
		host := CanonicalHost(p.Website)
		if host != "" && seenHost[host] {
			continue
		}
		if p.PlaceID != "" {
			seenID[p.PlaceID] = true
		}
		if host != "" {
			seenHost[host] = true
		}
		out = append(out, p)
	}
	return out
}
