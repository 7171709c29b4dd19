// Copyright 2026 © The Mneme Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/go-shiori/go-readability"

	"github.com/jllopis/mneme/pkg/errors"
	"github.com/jllopis/mneme/pkg/governance"
)

const (
	defaultFetchTimeout = 30 * time.Second
	maxFetchBodyBytes   = 2 << 20 // 2 MiB before extraction
	fetchUserAgent      = "Mozilla/5.0 (compatible; Mneme/1.0; +https://github.com/jllopis/mneme)"
)

// FetchURLInput addresses a web page to fetch.
type FetchURLInput struct {
	URL     string `json:"url" jsonschema_description:"The http or https URL to fetch."`
	Timeout int    `json:"timeout,omitempty" jsonschema_description:"Timeout in seconds (default 30)."`
}

var fetchURLSchema = GenerateSchema[FetchURLInput]()

// FetchURLTool fetches a page, strips boilerplate with readability,
// and returns the main content as markdown.
func FetchURLTool(client *http.Client) Descriptor {
	if client == nil {
		client = http.DefaultClient
	}
	return Descriptor{
		Name:        "fetch_url",
		Description: "Fetch a web page and return its main content converted to markdown.",
		Schema:      fetchURLSchema,
		Risk:        governance.RiskSensitive,
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in FetchURLInput
			if err := json.Unmarshal(args, &in); err != nil {
				return "", errors.New(errors.CodeInvalidInput, "fetch_url: invalid arguments", err)
			}
			parsed, err := url.Parse(strings.TrimSpace(in.URL))
			if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
				return "", errors.New(errors.CodeInvalidInput,
					fmt.Sprintf("fetch_url: %q is not an http(s) URL", in.URL), nil)
			}

			timeout := defaultFetchTimeout
			if in.Timeout > 0 {
				timeout = time.Duration(in.Timeout) * time.Second
			}
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
			if err != nil {
				return "", errors.New(errors.CodeInternal, "fetch_url: create request", err)
			}
			req.Header.Set("User-Agent", fetchUserAgent)

			resp, err := client.Do(req)
			if err != nil {
				return "", errors.New(errors.CodeToolFailure, fmt.Sprintf("fetch_url: %s", parsed.String()), err)
			}
			defer resp.Body.Close()

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return "", errors.New(errors.CodeToolFailure,
					fmt.Sprintf("fetch_url: %s returned HTTP %d", parsed.String(), resp.StatusCode), nil)
			}

			body := io.LimitReader(resp.Body, maxFetchBodyBytes)
			contentType := resp.Header.Get("Content-Type")
			if !strings.Contains(contentType, "html") {
				raw, err := io.ReadAll(body)
				if err != nil {
					return "", errors.New(errors.CodeToolFailure, fmt.Sprintf("fetch_url: read %s", parsed.String()), err)
				}
				return capOutput(string(raw)), nil
			}

			article, err := readability.FromReader(body, parsed)
			if err != nil {
				return "", errors.New(errors.CodeToolFailure, fmt.Sprintf("fetch_url: extract %s", parsed.String()), err)
			}

			converter := md.NewConverter("", true, nil)
			markdown, err := converter.ConvertString(article.Content)
			if err != nil {
				// Markdown conversion is best effort; fall back to the
				// extracted text.
				markdown = article.TextContent
			}

			out := markdown
			if article.Title != "" {
				out = fmt.Sprintf("# %s\n\nSource: %s\n\n%s", article.Title, parsed.String(), markdown)
			}
			return capOutput(out), nil
		},
	}
}
