package github

import (
	"context"
	"net/http"
	"os"

	"github.com/matzehuels/vpmlisting/pkg/errors"
	"github.com/matzehuels/vpmlisting/pkg/httputil"
)

// DefaultEndpoint is the GitHub GraphQL API.
const DefaultEndpoint = "https://api.github.com/graphql"

// TokenEnv is the environment variable read by [TokenFromEnv].
const TokenEnv = "GITHUB_TOKEN"

// Client sends GraphQL queries to GitHub.
type Client struct {
	fetcher  *httputil.Fetcher
	endpoint string
	token    string
}

// NewClient creates a GitHub GraphQL client that sends requests through f.
// Pass an empty token for unauthenticated requests; GitHub rejects most
// GraphQL queries without one.
func NewClient(f *httputil.Fetcher, token string) *Client {
	if f == nil {
		f = httputil.NewFetcher()
	}
	return &Client{fetcher: f, endpoint: DefaultEndpoint, token: token}
}

// TokenFromEnv returns the token in $GITHUB_TOKEN.
func TokenFromEnv() string { return os.Getenv(TokenEnv) }

// WithEndpoint returns a copy of c that posts to endpoint.
func (c *Client) WithEndpoint(endpoint string) *Client {
	cp := *c
	cp.endpoint = endpoint
	return &cp
}

type request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// Query runs a GraphQL document. Partial results are returned together with
// their errors in the Response; only a transport failure or a response
// without any data is reported as an error.
func (c *Client) Query(ctx context.Context, query string, variables map[string]any) (*Response, error) {
	var hdr http.Header
	if c.token != "" {
		hdr = http.Header{"Authorization": {"Bearer " + c.token}}
	}

	var out Response
	err := c.fetcher.PostJSON(ctx, c.endpoint, request{Query: query, Variables: variables}, &out, hdr)
	if err != nil {
		if errors.GetCode(err) == errors.ErrCodeInvalidInput {
			return nil, errors.Wrap(errors.ErrCodeFetch, err, "decode graphql response from %s", c.endpoint)
		}
		return nil, err
	}
	if out.Data == nil {
		if len(out.Errors) > 0 {
			return nil, errors.New(errors.ErrCodeFetch, "graphql query failed: %s", joinErrors(out.Errors))
		}
		return nil, errors.New(errors.ErrCodeFetch, "graphql response from %s has no data", c.endpoint)
	}
	return &out, nil
}
