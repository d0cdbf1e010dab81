package tools

import (
	"net/url"
	"strings"

	"docsearch-mcp/internal/errtax"
)

const maxFetchURLLength = 200

// normalizeURL validates and canonicalizes a fetch argument per §4.H:
// syntactic well-formedness (scheme + host), rejection of suspicious
// duplication patterns, lowercasing, trailing-slash stripping, and the
// youtu.be -> youtube.com/watch rewrite.
func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errtax.InvalidArgument("url must not be empty")
	}
	if len(raw) > maxFetchURLLength {
		return "", errtax.InvalidArgument("url exceeds maximum length")
	}
	if strings.ContainsRune(raw, '﻿') {
		return "", errtax.InvalidArgument("url contains a byte order mark")
	}
	if strings.Count(raw, "://") > 1 {
		return "", errtax.InvalidArgument("url contains a duplicated scheme")
	}
	if strings.Count(raw, "/documentation/") > 1 {
		return "", errtax.InvalidArgument("url contains a repeated documentation path segment")
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", errtax.InvalidArgument("url must be an absolute URL with a scheme and host")
	}

	host := strings.ToLower(u.Host)
	if strings.Count(strings.ToLower(raw), host) > 1 {
		return "", errtax.InvalidArgument("url contains a repeated domain")
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = host

	if isYouTubeHost(u.Host) {
		return normalizeYouTubeURL(u)
	}

	u.RawQuery = ""
	u.Fragment = ""
	stripTrailingSlash(u)
	return u.String(), nil
}

func isYouTubeHost(host string) bool {
	return host == "youtu.be" || host == "youtube.com" || host == "www.youtube.com"
}

// normalizeYouTubeURL rewrites youtu.be/<id> to www.youtube.com/watch?v=<id>
// and otherwise preserves the query string, since video identity lives
// there for youtube.com URLs.
func normalizeYouTubeURL(u *url.URL) (string, error) {
	if u.Host == "youtu.be" {
		id := strings.Trim(u.Path, "/")
		if id == "" {
			return "", errtax.InvalidArgument("youtu.be url is missing a video id")
		}
		u.Host = "www.youtube.com"
		u.Path = "/watch"
		u.RawQuery = "v=" + id
		u.Fragment = ""
		return u.String(), nil
	}
	stripTrailingSlash(u)
	return u.String(), nil
}

func stripTrailingSlash(u *url.URL) {
	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
}
