// Package crossref is an HTTP client for the Crossref works API: the
// external metadata source the harvester pages through and the enricher
// fetches single works from.
package crossref

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	worksBaseURL = "https://api.crossref.org/v1/works"
	doiBaseURL   = "https://doi.org"
)

// Page is one page of Crossref works, as returned by the works listing
// endpoint.
type Page struct {
	TotalResults int               `json:"total-results"`
	NextCursor   string            `json:"next-cursor"`
	Items        []json.RawMessage `json:"items"`
}

type worksResponse struct {
	Message struct {
		TotalResults int               `json:"total-results"`
		NextCursor   string            `json:"next-cursor"`
		Items        []json.RawMessage `json:"items"`
	} `json:"message"`
}

// Client fetches pages from the Crossref works API and performs
// content-negotiated single-work lookups.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	doiURL     string
}

// NewClient creates a Crossref client using the given HTTP client for
// outbound requests, defaulting to http.DefaultClient if nil.
func NewClient(httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{httpClient: httpClient, logger: logger, baseURL: worksBaseURL, doiURL: doiBaseURL}
}

// WithBaseURL overrides the works API base URL, for pointing a Client at a
// test double instead of the live Crossref API.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = baseURL
	return c
}

// WithDOIBaseURL overrides the content-negotiation base URL FetchWork
// resolves DOIs against, for pointing a Client at a test double.
func (c *Client) WithDOIBaseURL(baseURL string) *Client {
	c.doiURL = baseURL
	return c
}

// FetchFilteredPage fetches one page of works matching filter, sorted by
// indexed date descending, at the given cursor. A 429 response triggers a
// cooperative ten-second sleep and then counts as a retryable failure;
// 429s and other transient failures share one exponential backoff via
// backoff/v4 capped at five retries.
func (c *Client) FetchFilteredPage(ctx context.Context, filter string, rows int, cursor string) (Page, error) {
	url := fmt.Sprintf("%s?filter=%s&sort=indexed&order=desc&rows=%d&cursor=%s", c.baseURL, filter, rows, cursor)

	return c.fetchPage(ctx, url)
}

// FetchUnsortedPage fetches one page of works matching filter without
// requesting a sort order, for bulk scans over large date ranges that
// consume the entire result set regardless of order.
func (c *Client) FetchUnsortedPage(ctx context.Context, filter string, rows int, cursor string) (Page, error) {
	url := fmt.Sprintf("%s?filter=%s&rows=%d&cursor=%s", c.baseURL, filter, rows, cursor)

	return c.fetchPage(ctx, url)
}

func (c *Client) fetchPage(ctx context.Context, url string) (Page, error) {
	var page Page

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", url, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode == http.StatusTooManyRequests {
			c.logger.Warn("crossref rate limited, sleeping", slog.String("url", url))

			select {
			case <-time.After(10 * time.Second):
			case <-ctx.Done():
				return backoff.Permanent(ctx.Err())
			}

			return fmt.Errorf("rate limited, retrying")
		}

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("crossref returned status %d", resp.StatusCode)
		}

		var body worksResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}

		page = Page{
			TotalResults: body.Message.TotalResults,
			NextCursor:   body.Message.NextCursor,
			Items:        body.Message.Items,
		}

		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return Page{}, fmt.Errorf("fetch crossref page: %w", err)
	}

	return page, nil
}

// FetchWork performs a single content-negotiated fetch of a work by DOI,
// requesting the CSL-JSON representation, with at most two constant-delay
// retries. A non-200 response is returned as an error for the caller to
// log as non-fatal, per the enricher's error handling.
func (c *Client) FetchWork(ctx context.Context, doi string) (json.RawMessage, error) {
	url := c.doiURL + "/" + doi

	const maxAttempts = 3

	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		body, err := c.fetchWorkOnce(ctx, url)
		if err == nil {
			return body, nil
		}

		lastErr = err
	}

	return nil, fmt.Errorf("fetch work %s: %w", doi, lastErr)
}

func (c *Client) fetchWorkOnce(ctx context.Context, url string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Accept", "application/vnd.citationstyles.csl+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var body json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	return body, nil
}
