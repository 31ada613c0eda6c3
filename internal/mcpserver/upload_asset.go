package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kangrianai89/catatan/internal/blob"
)

type uploadResult struct {
	Key           string `json:"key"`
	URL           string `json:"url"`
	MarkdownImage string `json:"markdownImage"`
}

// fetchFunc downloads a remote asset; tests swap it out.
var fetchFunc = fetchHTTP

func (s *Server) uploadAsset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawURL, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var data []byte
	var ext string
	if strings.HasPrefix(rawURL, "data:") {
		data, ext, err = decodeDataURI(rawURL)
	} else {
		data, ext, err = fetchFunc(ctx, rawURL)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	filename := req.GetString("filename", "")
	if filename == "" {
		filename = filenameFromURL(rawURL, ext)
	}

	key, link, err := s.svc.PutAsset(ctx, s.owner, filename, data)
	if err != nil {
		return toolError(err), nil
	}
	name := path.Base(key)
	out, _ := json.Marshal(uploadResult{
		Key:           key,
		URL:           link,
		MarkdownImage: fmt.Sprintf("![%s](%s)", name, link),
	})
	return mcp.NewToolResultText(string(out)), nil
}

// decodeDataURI parses a data:[<mediatype>];base64,<data> URI.
func decodeDataURI(uri string) ([]byte, string, error) {
	meta, encoded, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, "", fmt.Errorf("invalid data URI: missing comma separator")
	}
	if !strings.Contains(meta, ";base64") {
		return nil, "", fmt.Errorf("only base64 data URIs are supported")
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, "", fmt.Errorf("invalid base64 data: %w", err)
		}
	}

	mime := strings.Split(strings.TrimSuffix(meta, ";base64"), ";")[0]
	ext := blob.ExtForMIME(mime)
	if ext == "" {
		return nil, "", fmt.Errorf("unsupported MIME type in data URI: %s", mime)
	}
	return data, ext, nil
}

// fetchHTTP downloads an asset, refusing loopback and metadata hosts.
func fetchHTTP(ctx context.Context, rawURL string) ([]byte, string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, "", fmt.Errorf("unsupported scheme: %s (only http/https)", parsed.Scheme)
	}
	if err := checkBlockedHost(parsed.Hostname()); err != nil {
		return nil, "", err
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects (max 5)")
			}
			return checkBlockedHost(req.URL.Hostname())
		},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("invalid URL: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, blob.MaxSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("read body failed: %w", err)
	}
	if len(data) > blob.MaxSize {
		return nil, "", fmt.Errorf("file too large: exceeds %d bytes", blob.MaxSize)
	}
	return data, blob.ExtForMIME(resp.Header.Get("Content-Type")), nil
}

var blockedHosts = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
}

// checkBlockedHost rejects loopback, link-local (which covers cloud
// metadata endpoints) and unspecified addresses. Hosts that do not
// resolve are left to the HTTP client to report.
func checkBlockedHost(host string) error {
	if blockedHosts[strings.ToLower(host)] {
		return fmt.Errorf("blocked host: %s", host)
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		ips, lookupErr := net.LookupIP(host)
		if lookupErr != nil || len(ips) == 0 {
			return nil
		}
		var ok bool
		if addr, ok = netip.AddrFromSlice(ips[0]); !ok {
			return nil
		}
	}
	addr = addr.Unmap()
	switch {
	case addr.IsLoopback():
		return fmt.Errorf("blocked host: loopback address %s", host)
	case addr.IsLinkLocalUnicast():
		return fmt.Errorf("blocked host: link-local address %s", host)
	case addr.IsUnspecified():
		return fmt.Errorf("blocked host: unspecified address %s", host)
	}
	return nil
}

// filenameFromURL takes the last path segment when it has an extension,
// else a random name with ext.
func filenameFromURL(rawURL, ext string) string {
	if ext == "" {
		ext = ".bin"
	}
	if !strings.HasPrefix(rawURL, "data:") {
		if parsed, err := url.Parse(rawURL); err == nil {
			base := path.Base(parsed.Path)
			if base != "." && base != "/" && strings.Contains(base, ".") {
				return base
			}
		}
	}
	return uuid.NewString() + ext
}
