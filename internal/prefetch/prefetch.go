// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package prefetch implements the probe that classifies a URL's
// range-capability and captures its file identity (spec §4.2), grounded
// on the teacher's HEAD-for-size step in downloadMultipart.
package prefetch

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/quietloop/riftpull/internal/httpclient"
	"github.com/quietloop/riftpull/internal/retry"
)

// Result mirrors the UrlInfo defined at the engine boundary, plus the
// single byte already read off the wire during the probe (when
// FastDownload), so the Puller for chunk 0 never re-requests it.
type Result struct {
	FinalURL     string
	Size         uint64
	RawName      string
	ETag         string
	LastModified string
	FastDownload bool
	FirstByte    []byte
}

var contentRangeRE = regexp.MustCompile(`^bytes (\d+)-(\d+)/(\d+)$`)

// Probe issues a Range: bytes=0-0 GET and classifies the response per
// spec §4.2.
func Probe(ctx context.Context, client *http.Client, rawURL string, headers map[string]string, opts httpclient.Options, policy retry.Policy) (*Result, error) {
	var result *Result

	err := retry.Do(ctx, policy, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return retry.Permanent(fmt.Errorf("build probe request: %w", err))
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		req.Header.Set("Range", "bytes=0-0")
		httpclient.ApplyHeaders(req, opts)

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("probe request: %w", err)
		}
		defer resp.Body.Close()

		r, err := classify(resp)
		if err != nil {
			return err
		}
		result = r
		return nil
	})

	if err != nil {
		return nil, err
	}
	return result, nil
}

func classify(resp *http.Response) (*Result, error) {
	finalURL := resp.Request.URL.String()
	identity := identityOf(resp)
	name := deriveName(resp, finalURL)

	switch resp.StatusCode {
	case http.StatusPartialContent:
		cr := resp.Header.Get("Content-Range")
		m := contentRangeRE.FindStringSubmatch(cr)
		if m == nil {
			return nil, fmt.Errorf("prefetch: malformed Content-Range %q", cr)
		}
		total, err := strconv.ParseUint(m[3], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("prefetch: bad Content-Range total %q: %w", m[3], err)
		}
		first, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("prefetch: reading probe byte: %w", err)
		}
		return &Result{
			FinalURL:     finalURL,
			Size:         total,
			RawName:      name,
			ETag:         identity.etag,
			LastModified: identity.lastModified,
			FastDownload: true,
			FirstByte:    first,
		}, nil

	case http.StatusOK:
		var size uint64
		if cl := resp.Header.Get("Content-Length"); cl != "" {
			if n, err := strconv.ParseUint(cl, 10, 64); err == nil {
				size = n
			}
		}
		return &Result{
			FinalURL:     finalURL,
			Size:         size, // 0 means "unknown total"; see DESIGN.md open question 1
			RawName:      name,
			ETag:         identity.etag,
			LastModified: identity.lastModified,
			FastDownload: false,
		}, nil

	default:
		return nil, fmt.Errorf("prefetch: unexpected status %d", resp.StatusCode)
	}
}

type fileIdentity struct {
	etag         string
	lastModified string
}

func identityOf(resp *http.Response) fileIdentity {
	return fileIdentity{
		etag:         resp.Header.Get("ETag"),
		lastModified: resp.Header.Get("Last-Modified"),
	}
}

// deriveName follows spec §4.2's order: Content-Disposition filename* →
// filename= → last URL path segment → "index".
func deriveName(resp *http.Response, finalURL string) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if v, ok := params["filename*"]; ok && v != "" {
				return sanitizeRFC5987(v)
			}
			if v, ok := params["filename"]; ok && v != "" {
				return v
			}
		}
	}
	if u, err := url.Parse(finalURL); err == nil {
		seg := path.Base(u.Path)
		if seg != "" && seg != "." && seg != "/" {
			return seg
		}
	}
	return "index"
}

// sanitizeRFC5987 strips a leading charset/lang prefix such as
// "UTF-8''" from an RFC 5987 extended filename parameter value.
func sanitizeRFC5987(v string) string {
	if idx := strings.Index(v, "''"); idx >= 0 {
		if unescaped, err := url.QueryUnescape(v[idx+2:]); err == nil {
			return unescaped
		}
		return v[idx+2:]
	}
	return v
}
