package marketplace

import (
	"context"

	"marketsync/internal/cache"
)

// LookupProvider is implemented by adapters whose marketplace keys brands
// and categories by numeric ID. Marketplaces that accept free-text values
// simply do not implement it.
type LookupProvider interface {
	ResolveBrand(ctx context.Context, name string) (int64, error)
	ResolveCategory(ctx context.Context, name string) (int64, error)
}

// BrandResolver adapts the registry into a brand ResolverFunc. Marketplaces
// without ID-based brands resolve to zero, which listings send as "no ID".
func BrandResolver(reg Registry) cache.ResolverFunc {
	return func(ctx context.Context, tag, name string) (int64, error) {
		adapter, ok := reg.Get(tag)
		if !ok {
			return 0, cache.ErrNotResolved
		}
		provider, ok := adapter.(LookupProvider)
		if !ok {
			return 0, nil
		}
		return provider.ResolveBrand(ctx, name)
	}
}

// CategoryResolver adapts the registry into a category ResolverFunc
func CategoryResolver(reg Registry) cache.ResolverFunc {
	return func(ctx context.Context, tag, name string) (int64, error) {
		adapter, ok := reg.Get(tag)
		if !ok {
			return 0, cache.ErrNotResolved
		}
		provider, ok := adapter.(LookupProvider)
		if !ok {
			return 0, nil
		}
		return provider.ResolveCategory(ctx, name)
	}
}
