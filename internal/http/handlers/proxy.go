package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"itera/internal/metrics"
)

// Proxy streams a remote mesh file through this origin so browsers can load
// vendor URLs that lack CORS headers.
func (a *App) Proxy(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("url"))
	if raw == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "url parameter is required")
		return
	}
	target, err := url.Parse(raw)
	if err != nil || target.Host == "" || (target.Scheme != "http" && target.Scheme != "https") {
		a.error(w, http.StatusBadRequest, "bad_request", "url must be an absolute http(s) URL")
		return
	}
	if !a.proxyHostAllowed(target.Hostname()) {
		a.error(w, http.StatusForbidden, "forbidden", "host is not allowed")
		return
	}
	logger := zerolog.Ctx(r.Context())
	if !a.ProxyAllowPrivate {
		if err := checkProxyHost(r.Context(), target.Hostname()); err != nil {
			a.Metrics.ProxyFetch(metrics.OutcomeError)
			logger.Warn().Str("host", target.Host).Msg("proxy target is private")
			a.error(w, http.StatusForbidden, "forbidden", "host is not allowed")
			return
		}
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target.String(), nil)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid url")
		return
	}
	resp, err := a.ProxyClient.Do(req)
	if err != nil {
		a.Metrics.ProxyFetch(metrics.OutcomeError)
		if errors.Is(err, errPrivateAddress) {
			logger.Warn().Str("host", target.Host).Msg("proxy dial refused private address")
			a.error(w, http.StatusForbidden, "forbidden", "host is not allowed")
			return
		}
		logger.Warn().Err(err).Str("host", target.Host).Msg("proxy fetch failed")
		a.error(w, http.StatusBadGateway, "upstream_unreachable", "Upstream fetch failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		a.Metrics.ProxyFetch(metrics.OutcomeError)
		logger.Warn().Int("upstream_status", resp.StatusCode).Str("host", target.Host).Msg("proxy upstream error")
		a.error(w, resp.StatusCode, "upstream_error", fmt.Sprintf("Upstream fetch failed: %d", resp.StatusCode))
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if resp.ContentLength >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, resp.Body); err != nil {
		a.Metrics.ProxyFetch(metrics.OutcomeError)
		logger.Warn().Err(err).Msg("proxy copy interrupted")
		return
	}
	a.Metrics.ProxyFetch(metrics.OutcomeSuccess)
}

func (a *App) proxyHostAllowed(host string) bool {
	if len(a.ProxyHosts) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, allowed := range a.ProxyHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}
