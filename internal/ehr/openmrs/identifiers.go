package openmrs

import (
	"context"
	"net/url"

	"github.com/clinscribe/platform/internal/shared/errors"
)

// defaultIdentifierType resolves the first configured patient
// identifier type on the backend.
func (c *Connector) defaultIdentifierType(ctx context.Context) (string, error) {
	var page refResults
	if err := c.client.Get(ctx, "/patientidentifiertype", nil, &page); err != nil {
		return "", err
	}
	if len(page.Results) == 0 {
		return "", errors.Configuration("backend has no patient identifier types configured")
	}
	return page.Results[0].UUID, nil
}

// generateIdentifier asks the idgen module for a fresh identifier for
// the given identifier type. Returns an empty string when the backend
// has no auto-generation source configured for it.
func (c *Connector) generateIdentifier(ctx context.Context, identifierType string) (string, error) {
	q := url.Values{}
	q.Set("identifierType", identifierType)

	var options idgenOptionResults
	if err := c.client.Get(ctx, "/idgen/autogenerationoption", q, &options); err != nil {
		return "", err
	}

	sourceUUID := ""
	for _, opt := range options.Results {
		if opt.AutomaticGenerationEnabled && opt.Source.UUID != "" {
			sourceUUID = opt.Source.UUID
			break
		}
	}
	if sourceUUID == "" {
		return "", nil
	}

	var generated generatedIdentifier
	if err := c.client.Post(ctx, "/idgen/identifiersource/"+sourceUUID+"/identifier", map[string]any{}, &generated); err != nil {
		return "", err
	}
	return generated.Identifier, nil
}
