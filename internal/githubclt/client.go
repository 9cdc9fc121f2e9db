// Package githubclt provides a github API client.
package githubclt

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	"github.com/google/go-github/v59/github"
	"github.com/gregjones/httpcache"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/simplesurance/patchbot/internal/logfields"
	"github.com/simplesurance/patchbot/internal/patcherr"
)

const DefaultHTTPClientTimeout = time.Minute

const loggerName = "github_client"

// Client is an github API client.
// All methods return a patcherr.TransientError when an operation can be retried.
// This can be e.g. the case when the API ratelimit is exceeded.
type Client struct {
	restClt *github.Client
	// downloadClt is used to fetch artifact archives from the location
	// github redirects to. The location contains a signed URL, the github
	// credentials must not be sent to it.
	downloadClt *http.Client
	logger      *zap.Logger
}

// NewAppClient returns a client that authenticates as the GitHub App.
// ts must return the signed app JWT.
// The client can only be used for the app endpoints, e.g.
// CreateInstallationToken.
func NewAppClient(ts oauth2.TokenSource) *Client {
	httpClient := &http.Client{
		Transport: &oauth2.Transport{
			Source: ts,
			Base:   http.DefaultTransport,
		},
		Timeout: DefaultHTTPClientTimeout,
	}

	return newClient(github.NewClient(httpClient))
}

// NewInstallationClient returns a client that authenticates with an
// installation access token.
// GET responses are cached in-memory per client, secondary rate limit
// responses are retried after the duration github asks for.
func NewInstallationClient(token string) *Client {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	rateLimitClient.Timeout = DefaultHTTPClientTimeout

	return newClient(github.NewClient(rateLimitClient).WithAuthToken(token))
}

// NewPublicClient returns an unauthenticated client.
// It can only access public resources, e.g. UserID.
func NewPublicClient() *Client {
	rateLimitClient := github_ratelimit.NewClient(httpcache.NewMemoryCacheTransport())
	rateLimitClient.Timeout = DefaultHTTPClientTimeout

	return newClient(github.NewClient(rateLimitClient))
}

func newClient(restClt *github.Client) *Client {
	return &Client{
		restClt:     restClt,
		downloadClt: &http.Client{Timeout: DefaultHTTPClientTimeout},
		logger:      zap.L().Named(loggerName),
	}
}

// transientErr wraps err into a patcherr.TransientError if the GitHub API
// failed because of a rate limit or a server error.
func (clt *Client) transientErr(err error) error {
	var rateLimitErr *github.RateLimitError
	if errors.As(err, &rateLimitErr) {
		clt.logger.Info(
			"rate limit exceeded",
			logfields.Event("github_api_rate_limit_exceeded"),
			zap.Int("github_api_rate_limit", rateLimitErr.Rate.Limit),
			zap.Time("github_api_rate_limit_reset_time", rateLimitErr.Rate.Reset.Time),
		)

		return patcherr.Transient(err, rateLimitErr.Rate.Reset.Time)
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		if respErr.Response.StatusCode >= 500 && respErr.Response.StatusCode < 600 {
			return patcherr.Transient(err, time.Time{})
		}
	}

	return err
}
