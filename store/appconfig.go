package store

import (
	"context"

	"nicmeup/models"
)

const termsID = "terms"

// AppConfig holds application wide documents.
type AppConfig struct {
	docs Documents
}

func NewAppConfig(docs Documents) *AppConfig {
	return &AppConfig{docs: docs}
}

func (a *AppConfig) Terms(ctx context.Context) (*models.Terms, error) {
	return get[models.Terms](ctx, a.docs, AppConfigCollection, termsID)
}

func (a *AppConfig) SetTerms(ctx context.Context, version, text string) error {
	return a.docs.Merge(ctx, AppConfigCollection, termsID, Fields{"version": version, "text": text})
}
