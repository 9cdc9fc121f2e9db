package githubclt

import (
	"context"
	"errors"
	"time"

	"github.com/google/go-github/v59/github"
)

// CreateInstallationToken creates an access token for an app installation.
// The token is restricted to the permissions that are required to
// process pull requests.
// The client must authenticate as the GitHub App.
func (clt *Client) CreateInstallationToken(ctx context.Context, installationID int64) (token string, expiresAt time.Time, err error) {
	tok, _, err := clt.restClt.Apps.CreateInstallationToken(ctx, installationID, &github.InstallationTokenOptions{
		Permissions: &github.InstallationPermissions{
			Actions:   github.String("read"),
			Checks:    github.String("write"),
			Contents:  github.String("write"),
			Workflows: github.String("write"),
		},
	})
	if err != nil {
		return "", time.Time{}, clt.transientErr(err)
	}

	if tok.GetToken() == "" {
		return "", time.Time{}, errors.New("github returned an empty installation token")
	}

	return tok.GetToken(), tok.GetExpiresAt().Time, nil
}

// UserID returns the ID of the github user with the given login name.
func (clt *Client) UserID(ctx context.Context, login string) (int64, error) {
	user, _, err := clt.restClt.Users.Get(ctx, login)
	if err != nil {
		return 0, clt.transientErr(err)
	}

	if user.GetID() == 0 {
		return 0, errors.New("github returned a user without id")
	}

	return user.GetID(), nil
}
