package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDetectLocale(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(r *http.Request)
		fallback string
		want     string
	}{
		{
			name: "x-locale overrides",
			setup: func(r *http.Request) {
				r.Header.Set("X-Locale", "fr")
				r.Header.Set("Accept-Language", "de-DE")
			},
			want: "fr",
		},
		{
			name: "x-locale canonicalized",
			setup: func(r *http.Request) {
				r.Header.Set("X-Locale", "pt_br")
			},
			want: "pt-BR",
		},
		{
			name: "invalid x-locale ignored",
			setup: func(r *http.Request) {
				r.Header.Set("X-Locale", "not a tag!")
				r.Header.Set("Accept-Language", "es")
			},
			want: "es",
		},
		{
			name: "accept-language used",
			setup: func(r *http.Request) {
				r.Header.Set("Accept-Language", "en-US,en;q=0.9")
			},
			want: "en-US",
		},
		{
			name: "accept-language weight order",
			setup: func(r *http.Request) {
				r.Header.Set("Accept-Language", "en;q=0.5,ja;q=0.9")
			},
			want: "ja",
		},
		{
			name:     "configured fallback",
			fallback: "de",
			want:     "de",
		},
		{
			name:     "wildcard uses fallback",
			fallback: "en",
			setup: func(r *http.Request) {
				r.Header.Set("Accept-Language", "*")
			},
			want: "en",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.setup != nil {
				tc.setup(req)
			}
			fallback := tc.fallback
			if fallback == "" {
				fallback = defaultLocale
			}
			got := detectLocale(req, fallback)
			if got != tc.want {
				t.Fatalf("detectLocale() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestI18NStoresLocale(t *testing.T) {
	var seen string
	h := I18N("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = LocaleFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Locale", "it")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "it" {
		t.Fatalf("locale = %q, want %q", seen, "it")
	}
}

func TestLocaleFromContext(t *testing.T) {
	ctx := context.Background()
	if got := LocaleFromContext(ctx); got != "en" {
		t.Fatalf("LocaleFromContext() default = %q, want %q", got, "en")
	}
	ctx = context.WithValue(ctx, LocaleKey, "fr")
	if got := LocaleFromContext(ctx); got != "fr" {
		t.Fatalf("LocaleFromContext() with value = %q, want %q", got, "fr")
	}
}
