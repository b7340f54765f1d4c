package signer

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// IDPlaceholder se sustituye por el id del asset
const IDPlaceholder = "{id}"

// TemplateSigner construye la URL a partir de una plantilla fija, útil para
// orígenes CDN públicos y para tests
type TemplateSigner struct {
	template string
}

var _ Signer = (*TemplateSigner)(nil)

func NewTemplateSigner(template string) (*TemplateSigner, error) {
	if !strings.Contains(template, IDPlaceholder) {
		return nil, fmt.Errorf("template signer: url %q has no %s placeholder", template, IDPlaceholder)
	}
	return &TemplateSigner{template: template}, nil
}

func (s *TemplateSigner) SignURL(_ context.Context, assetID string, _ Purpose) (*SignedURL, error) {
	if assetID == "" {
		return nil, fmt.Errorf("sign: empty asset id")
	}
	return &SignedURL{
		URL:       strings.ReplaceAll(s.template, IDPlaceholder, url.PathEscape(assetID)),
		ExpiresIn: DefaultExpiry,
	}, nil
}
