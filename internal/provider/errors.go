package provider

import "github.com/connexus-ai/ragbox-backend/internal/apperr"

func errProviderUnconfigured(op string) error {
	return apperr.ProviderUnconfigured(op + ": no provider credential configured")
}
