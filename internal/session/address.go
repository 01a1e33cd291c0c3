package session

import (
	"fmt"
	"net/url"
	"strings"
)

const streamPath = "chat_stream"

// BuildAddress returns the stream URL for query, attaching checkpointID when
// it is non-empty.
func BuildAddress(baseURL, query, checkpointID string) (string, error) {
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return "", fmt.Errorf("server url %q: scheme must be http or https", baseURL)
	}
	if base.Host == "" {
		return "", fmt.Errorf("server url %q: missing host", baseURL)
	}

	escaped := url.PathEscape(query)
	prefix := strings.TrimRight(base.EscapedPath(), "/")
	addr := base.Scheme + "://" + base.Host + prefix + "/" + streamPath + "/" + escaped
	if checkpointID != "" {
		addr += "?checkpoint_id=" + url.QueryEscape(checkpointID)
	}
	return addr, nil
}
