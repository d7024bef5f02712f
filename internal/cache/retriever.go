package cache

import (
	"context"

	"github.com/connexus-ai/ragbox-backend/internal/provider"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// Retriever is the subset of service.RetrieverService's Retrieve method
// this package caches around.
type Retriever interface {
	Retrieve(ctx context.Context, cred provider.Credential, ownerID string, kbIDs []string, query string) (*service.RetrievalResult, error)
}

// CachingRetriever wraps a Retriever with a QueryCache, so repeated
// identical queries within the TTL skip the embed/search/rerank
// round-trip entirely. Keyed on (ownerID, query, scoped-to-specific-KBs)
// since a KB-scoped search and an unscoped one over the same text are
// different queries.
type CachingRetriever struct {
	next  Retriever
	cache *QueryCache
}

// NewCachingRetriever wraps next with a QueryCache of the given TTL.
func NewCachingRetriever(next Retriever, cache *QueryCache) *CachingRetriever {
	return &CachingRetriever{next: next, cache: cache}
}

func (r *CachingRetriever) Retrieve(ctx context.Context, cred provider.Credential, ownerID string, kbIDs []string, query string) (*service.RetrievalResult, error) {
	scoped := len(kbIDs) > 0
	if result, ok := r.cache.Get(ownerID, query, scoped); ok {
		return result, nil
	}

	result, err := r.next.Retrieve(ctx, cred, ownerID, kbIDs, query)
	if err != nil {
		return nil, err
	}
	r.cache.Set(ownerID, query, scoped, result)
	return result, nil
}
