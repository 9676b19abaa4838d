package openmrs

import (
	"context"
	"net/url"
	"strings"
)

// icd10Source is the concept source queried for code-based lookups
const icd10Source = "ICD-10-WHO"

// qualifierPhrases flag concept names that are narrower compound terms
// ("Erectile dysfunction associated with type 2 diabetes mellitus").
// A match containing one of these is almost never the diagnosis the
// clinician dictated, so unqualified matches are preferred. This is a
// tunable heuristic, not a guaranteed mapping.
var qualifierPhrases = []string{
	"associated with",
	"due to",
	"secondary to",
}

func containsQualifier(display string) bool {
	d := strings.ToLower(display)
	for _, phrase := range qualifierPhrases {
		if strings.Contains(d, phrase) {
			return true
		}
	}
	return false
}

// pickCodedMatch selects a concept from a code-based lookup: the first
// match without a qualifier phrase, otherwise the first match.
func pickCodedMatch(results []restRef) *restRef {
	if len(results) == 0 {
		return nil
	}
	for i := range results {
		if !containsQualifier(results[i].Display) {
			return &results[i]
		}
	}
	return &results[0]
}

// pickTextMatch selects a concept from a free-text search. An exact
// case-insensitive display match wins; otherwise the shortest display
// that contains the query and carries no qualifier phrase.
func pickTextMatch(query string, results []restRef) *restRef {
	if len(results) == 0 {
		return nil
	}

	q := strings.ToLower(strings.TrimSpace(query))
	var best *restRef
	for i := range results {
		display := strings.ToLower(results[i].Display)
		if display == q {
			return &results[i]
		}
		if !strings.Contains(display, q) || containsQualifier(display) {
			continue
		}
		if best == nil || len(results[i].Display) < len(best.Display) {
			best = &results[i]
		}
	}
	return best
}

// lookupConceptByCode queries the backend's concept mapping for an
// exact code in the ICD-10 source.
func (c *Connector) lookupConceptByCode(ctx context.Context, code string) (*restRef, error) {
	q := url.Values{}
	q.Set("source", icd10Source)
	q.Set("code", code)

	var page refResults
	if err := c.client.Get(ctx, "/concept", q, &page); err != nil {
		return nil, err
	}
	return pickCodedMatch(page.Results), nil
}

// searchConcept queries the backend's free-text concept search
func (c *Connector) searchConcept(ctx context.Context, term string) ([]restRef, error) {
	q := url.Values{}
	q.Set("q", term)

	var page refResults
	if err := c.client.Get(ctx, "/concept", q, &page); err != nil {
		return nil, err
	}
	return page.Results, nil
}

// resolveDiagnosisConcept maps a diagnosis to a backend concept:
// exact code lookup first, then free-text search. Returns nil when
// nothing resolves; the caller falls back to a non-coded observation.
func (c *Connector) resolveDiagnosisConcept(ctx context.Context, text, codeHint string) *restRef {
	if codeHint != "" {
		concept, err := c.lookupConceptByCode(ctx, codeHint)
		if err != nil {
			c.log.Warn().Err(err).Str("code", codeHint).Msg("code-based concept lookup failed")
		} else if concept != nil {
			return concept
		}
	}

	results, err := c.searchConcept(ctx, text)
	if err != nil {
		c.log.Warn().Err(err).Str("term", text).Msg("concept search failed")
		return nil
	}
	return pickTextMatch(text, results)
}

// resolveConceptFromTerms walks a preference-ordered term list and
// returns the first exact display match, falling back to the earliest
// term's first result when nothing matches exactly.
func (c *Connector) resolveConceptFromTerms(ctx context.Context, terms []string) *restRef {
	var fallback *restRef
	for _, term := range terms {
		results, err := c.searchConcept(ctx, term)
		if err != nil {
			c.log.Warn().Err(err).Str("term", term).Msg("concept search failed")
			continue
		}
		for i := range results {
			if strings.EqualFold(results[i].Display, term) {
				return &results[i]
			}
		}
		if fallback == nil && len(results) > 0 {
			fallback = &results[0]
		}
	}
	return fallback
}
