package image

import "context"

// FallbackGenerator serves the fallback while the primary has no
// credential. Vendor errors from a credentialed primary are returned as is.
type FallbackGenerator struct {
	primary    credentialed
	fallback   Generator
	onFallback func(provider, reason string)
}

func WithFallback(primary credentialed, fallback Generator, onFallback func(provider, reason string)) *FallbackGenerator {
	return &FallbackGenerator{primary: primary, fallback: fallback, onFallback: onFallback}
}

func (g *FallbackGenerator) Name() string {
	return g.primary.Name()
}

func (g *FallbackGenerator) GenerateImage(ctx context.Context, prompt string) (string, error) {
	if !g.primary.HasCredentials() {
		if g.onFallback != nil {
			g.onFallback(g.primary.Name(), "missing_credentials")
		}
		return g.fallback.GenerateImage(ctx, prompt)
	}
	return g.primary.GenerateImage(ctx, prompt)
}

var _ Generator = (*FallbackGenerator)(nil)
