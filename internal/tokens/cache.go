// Package tokens provides GitHub App authentication.
// Signer creates the app JWTs, Cache hands out installation access tokens
// and reuses them until shortly before they expire.
package tokens

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/simplesurance/patchbot/internal/logfields"
	"github.com/simplesurance/patchbot/internal/patcherr"
)

const loggerName = "token_cache"

// ExpiryMargin is the minimal remaining validity of a cached token, tokens
// that expire earlier are replaced.
const ExpiryMargin = 60 * time.Second

// DefMintTimeout bounds a single installation token creation.
const DefMintTimeout = 30 * time.Second

// Minter creates installation access tokens.
type Minter interface {
	CreateInstallationToken(ctx context.Context, installationID int64) (token string, expiresAt time.Time, err error)
}

type record struct {
	token     string
	expiresAt time.Time
}

// Cache hands out installation access tokens.
// It is safe for concurrent use. Concurrent requests for the same
// installation that miss the cache share one token creation.
type Cache struct {
	minter Minter
	logger *zap.Logger
	now    func() time.Time

	mintTimeout time.Duration

	mu     sync.Mutex
	tokens map[int64]*record

	sf singleflight.Group
}

func NewCache(minter Minter) *Cache {
	return &Cache{
		minter: minter,
		logger: zap.L().Named(loggerName),
		now:    time.Now,

		mintTimeout: DefMintTimeout,

		tokens: map[int64]*record{},
	}
}

func (c *Cache) cached(installationID int64) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, exists := c.tokens[installationID]
	if !exists {
		return "", false
	}

	if rec.expiresAt.Sub(c.now()) <= ExpiryMargin {
		return "", false
	}

	return rec.token, true
}

// InstallationToken returns an access token for the installation.
// A cached token is returned if it is valid for longer than ExpiryMargin,
// otherwise a new one is created.
// The creation is shared between concurrent callers and is not aborted when
// one of them gives up, canceling ctx only ends the wait of this caller.
// Failures are returned as *patcherr.AuthorizationError.
func (c *Cache) InstallationToken(ctx context.Context, installationID int64) (string, error) {
	if token, ok := c.cached(installationID); ok {
		metrics.cacheHits.Inc()
		return token, nil
	}

	ch := c.sf.DoChan(strconv.FormatInt(installationID, 10), func() (any, error) {
		// another caller might have stored a new token while we were
		// waiting
		if token, ok := c.cached(installationID); ok {
			return token, nil
		}

		mintCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.mintTimeout)
		defer cancel()

		return c.mint(mintCtx, installationID)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()

	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}

		return res.Val.(string), nil
	}
}

func (c *Cache) mint(ctx context.Context, installationID int64) (string, error) {
	token, expiresAt, err := c.minter.CreateInstallationToken(ctx, installationID)
	if err != nil {
		metrics.mintFailures.Inc()
		return "", &patcherr.AuthorizationError{InstallationID: installationID, Err: err}
	}

	c.mu.Lock()
	c.tokens[installationID] = &record{token: token, expiresAt: expiresAt}
	c.mu.Unlock()

	metrics.minted.Inc()

	c.logger.Debug(
		"created installation access token",
		logfields.Event("installation_token_created"),
		logfields.InstallationID(installationID),
		zap.Time("expires_at", expiresAt),
	)

	return token, nil
}

// Forget removes the cached token of an installation.
func (c *Cache) Forget(installationID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.tokens, installationID)
}
