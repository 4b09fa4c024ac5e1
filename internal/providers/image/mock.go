package image

import (
	"context"

	"itera/pkg/dataurl"
)

const placeholderSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="512" height="512" viewBox="0 0 512 512">
  <defs>
    <linearGradient id="g" x1="0%" y1="0%" x2="100%" y2="100%">
      <stop offset="0%" style="stop-color:#1a1a2e"/>
      <stop offset="100%" style="stop-color:#16213e"/>
    </linearGradient>
  </defs>
  <rect width="512" height="512" fill="url(#g)"/>
  <rect x="156" y="156" width="200" height="200" rx="16" fill="none" stroke="#334" stroke-width="2" opacity="0.8"/>
  <path d="M236 236 L276 196 L316 236 L316 316 L276 356 L236 316 Z" fill="none" stroke="#445" stroke-width="1.5" opacity="0.6"/>
  <text x="256" y="420" font-family="monospace" font-size="13" fill="#334" text-anchor="middle">mock image</text>
</svg>`

// Mock returns a fixed SVG placeholder without any network call.
type Mock struct {
	dataURL string
}

func NewMock() *Mock {
	return &Mock{dataURL: dataurl.Encode("image/svg+xml", []byte(placeholderSVG))}
}

func (m *Mock) Name() string { return string(BackendMock) }

func (m *Mock) GenerateImage(ctx context.Context, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.dataURL, nil
}

var _ Generator = (*Mock)(nil)
