package tokens

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/patchbot/internal/patcherr"
	"github.com/simplesurance/patchbot/internal/tokens/mocks"
)

const installationID = 77

func newTestCache(t *testing.T, minter Minter, now time.Time) *Cache {
	t.Helper()
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	c := NewCache(minter)
	c.now = func() time.Time { return now }

	return c
}

func TestTokenWithinExpiryMarginIsReplaced(t *testing.T) {
	mockctrl := gomock.NewController(t)
	minter := mocks.NewMockMinter(mockctrl)

	now := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	c := newTestCache(t, minter, now)
	c.tokens[installationID] = &record{token: "old", expiresAt: now.Add(30 * time.Second)}

	minter.EXPECT().
		CreateInstallationToken(gomock.Any(), int64(installationID)).
		Return("new", now.Add(time.Hour), nil).
		Times(1)

	token, err := c.InstallationToken(context.Background(), installationID)
	require.NoError(t, err)
	assert.Equal(t, "new", token)

	// the new token is cached
	token, err = c.InstallationToken(context.Background(), installationID)
	require.NoError(t, err)
	assert.Equal(t, "new", token)
}

func TestTokenOutsideExpiryMarginIsReused(t *testing.T) {
	mockctrl := gomock.NewController(t)
	minter := mocks.NewMockMinter(mockctrl)

	now := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	c := newTestCache(t, minter, now)
	c.tokens[installationID] = &record{token: "cached", expiresAt: now.Add(120 * time.Second)}

	minter.EXPECT().CreateInstallationToken(gomock.Any(), gomock.Any()).Times(0)

	token, err := c.InstallationToken(context.Background(), installationID)
	require.NoError(t, err)
	assert.Equal(t, "cached", token)
}

func TestTokensAreCachedPerInstallation(t *testing.T) {
	mockctrl := gomock.NewController(t)
	minter := mocks.NewMockMinter(mockctrl)

	now := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	c := newTestCache(t, minter, now)

	minter.EXPECT().CreateInstallationToken(gomock.Any(), int64(1)).Return("one", now.Add(time.Hour), nil)
	minter.EXPECT().CreateInstallationToken(gomock.Any(), int64(2)).Return("two", now.Add(time.Hour), nil)

	token, err := c.InstallationToken(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "one", token)

	token, err = c.InstallationToken(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "two", token)
}

func TestMintFailureIsAuthorizationError(t *testing.T) {
	mockctrl := gomock.NewController(t)
	minter := mocks.NewMockMinter(mockctrl)

	now := time.Now()
	c := newTestCache(t, minter, now)

	httpErr := errors.New("401 bad credentials")
	minter.EXPECT().CreateInstallationToken(gomock.Any(), gomock.Any()).Return("", time.Time{}, httpErr)

	_, err := c.InstallationToken(context.Background(), installationID)
	require.Error(t, err)

	var authErr *patcherr.AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, int64(installationID), authErr.InstallationID)
	assert.ErrorIs(t, err, httpErr)

	assert.Empty(t, c.tokens)
}

func TestConcurrentMissesShareOneMint(t *testing.T) {
	mockctrl := gomock.NewController(t)
	minter := mocks.NewMockMinter(mockctrl)

	now := time.Now()
	c := newTestCache(t, minter, now)

	release := make(chan struct{})
	minter.EXPECT().
		CreateInstallationToken(gomock.Any(), int64(installationID)).
		DoAndReturn(func(context.Context, int64) (string, time.Time, error) {
			<-release
			return "shared", now.Add(time.Hour), nil
		}).
		Times(1)

	const callers = 10
	var wg sync.WaitGroup
	results := make(chan string, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			token, err := c.InstallationToken(context.Background(), installationID)
			assert.NoError(t, err)
			results <- token
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	for token := range results {
		assert.Equal(t, "shared", token)
	}
}

func TestCanceledCallerDoesNotFailSharedMint(t *testing.T) {
	mockctrl := gomock.NewController(t)
	minter := mocks.NewMockMinter(mockctrl)

	now := time.Now()
	c := newTestCache(t, minter, now)

	mintStarted := make(chan struct{})
	release := make(chan struct{})
	minter.EXPECT().
		CreateInstallationToken(gomock.Any(), int64(installationID)).
		DoAndReturn(func(ctx context.Context, _ int64) (string, time.Time, error) {
			close(mintStarted)
			<-release

			if err := ctx.Err(); err != nil {
				return "", time.Time{}, err
			}

			return "shared", now.Add(time.Hour), nil
		}).
		Times(1)

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()

	errA := make(chan error, 1)
	go func() {
		_, err := c.InstallationToken(ctxA, installationID)
		errA <- err
	}()

	<-mintStarted

	type result struct {
		token string
		err   error
	}
	resB := make(chan result, 1)
	go func() {
		token, err := c.InstallationToken(context.Background(), installationID)
		resB <- result{token: token, err: err}
	}()

	// give the second caller time to join the running token creation
	time.Sleep(50 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("canceled caller did not return")
	}

	close(release)

	select {
	case res := <-resB:
		require.NoError(t, res.err)
		assert.Equal(t, "shared", res.token)
	case <-time.After(5 * time.Second):
		t.Fatal("second caller did not return")
	}

	token, ok := c.cached(installationID)
	require.True(t, ok)
	assert.Equal(t, "shared", token)
}

func TestForgottenTokenIsReplaced(t *testing.T) {
	mockctrl := gomock.NewController(t)
	minter := mocks.NewMockMinter(mockctrl)

	now := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	c := newTestCache(t, minter, now)
	c.tokens[installationID] = &record{token: "old", expiresAt: now.Add(time.Hour)}

	c.Forget(installationID)

	minter.EXPECT().
		CreateInstallationToken(gomock.Any(), int64(installationID)).
		Return("new", now.Add(time.Hour), nil)

	token, err := c.InstallationToken(context.Background(), installationID)
	require.NoError(t, err)
	assert.Equal(t, "new", token)
}
