package server

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxImageSize = 20 << 20

// handleImageProxy fetches upstream artwork on behalf of the browser so
// server credentials never reach the client. Only configured media servers
// and the allow-listed avatar hosts are reachable through it.
func (s *Server) handleImageProxy(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		writeError(w, http.StatusBadRequest, "url parameter is required")
		return
	}

	target, err := url.Parse(rawURL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		writeError(w, http.StatusBadRequest, "invalid url")
		return
	}

	credential, allowed := s.authorizeImageURL(target)
	if !allowed {
		writeError(w, http.StatusForbidden, "url not allowed")
		return
	}

	if !s.proxyLimiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	maxAge, _, err := s.store.GetImageCacheLimits()
	if err != nil {
		writeInternal(w, "loading cache limits", err)
		return
	}

	if s.cache != nil {
		if data, contentType, age, hit := s.cache.Lookup(rawURL); hit {
			if age <= time.Duration(maxAge)*time.Second {
				serveImage(w, data, contentType, "HIT")
				return
			}
			// Expired entry: try to refresh, fall back to the stale copy.
			fresh, freshType, err := s.fetchImage(r, target, credential)
			if err != nil {
				serveImage(w, data, contentType, "STALE")
				return
			}
			s.cache.Put(rawURL, fresh, freshType)
			serveImage(w, fresh, freshType, "MISS")
			return
		}
	}

	data, contentType, err := s.fetchImage(r, target, credential)
	if err != nil {
		writeInternal(w, "fetching image", err)
		return
	}
	if s.cache != nil {
		s.cache.Put(rawURL, data, contentType)
	}
	serveImage(w, data, contentType, "MISS")
}

// authorizeImageURL decides whether the proxy may fetch the URL. Media-server
// URLs get the server's credential attached; avatar hosts get none.
func (s *Server) authorizeImageURL(target *url.URL) (credential string, allowed bool) {
	servers, err := s.store.ListServers()
	if err == nil {
		full := target.String()
		for _, srv := range servers {
			base := strings.TrimSuffix(srv.URL, "/")
			if base == "" {
				continue
			}
			// A bare prefix match would also accept http://plex.evil.com
			// against a base of http://plex; require a path or query
			// boundary after the base.
			if full == base || strings.HasPrefix(full, base+"/") || strings.HasPrefix(full, base+"?") {
				return srv.Credential, true
			}
		}
	}

	hosts, err := s.store.GetAllowedImageHosts()
	if err != nil {
		return "", false
	}
	hostname := target.Hostname()
	for _, h := range hosts {
		if hostname == h || strings.HasSuffix(hostname, "."+h) {
			return "", true
		}
	}
	return "", false
}

func (s *Server) fetchImage(r *http.Request, target *url.URL, credential string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, "", err
	}
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("upstream returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize))
	if err != nil {
		return nil, "", err
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

func serveImage(w http.ResponseWriter, data []byte, contentType, cacheStatus string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Cache", cacheStatus)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
