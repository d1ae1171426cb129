// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package httpclient builds the shared *http.Client used by the
// Prefetcher and Pullers, following the construction style of the
// teacher's hfdownloader/downloader.go (proxy support, browser-emulation
// headers, no end-to-end timeout since pull_timeout is a per-read
// inactivity deadline, not a request deadline).
package httpclient

import (
	"net/http"
	"net/url"
	"time"
)

const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Options configures client construction.
type Options struct {
	Proxy             string
	BrowserEmulation  bool
	ExtraHeaders      map[string]string
}

// New builds an *http.Client with connection reuse and an optional proxy.
// There is no request-level timeout: per spec §5 the core has no
// end-to-end wall-clock timeout; inactivity is enforced per-read by the
// Puller, not by the client.
func New(opts Options) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 64
	transport.IdleConnTimeout = 90 * time.Second

	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, err
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &http.Client{
		Transport: transport,
		// Follow redirects but keep the final URL available to the
		// Prefetcher via resp.Request.URL.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}, nil
}

// ApplyHeaders seeds browser-emulation headers onto req unless the caller
// already set them, matching spec §6.1's Origin/Referer/User-Agent rule.
func ApplyHeaders(req *http.Request, opts Options) {
	if opts.BrowserEmulation {
		if req.Header.Get("User-Agent") == "" {
			req.Header.Set("User-Agent", DefaultUserAgent)
		}
		if req.Header.Get("Origin") == "" {
			req.Header.Set("Origin", req.URL.Scheme+"://"+req.URL.Host)
		}
		if req.Header.Get("Referer") == "" {
			req.Header.Set("Referer", req.URL.String())
		}
	}
	for k, v := range opts.ExtraHeaders {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
}
