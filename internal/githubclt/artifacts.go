package githubclt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/go-github/v59/github"
	"go.uber.org/zap"

	"github.com/simplesurance/patchbot/internal/logfields"
)

// MaxArtifactSize is the maximum size of an artifact archive that is downloaded.
const MaxArtifactSize = 64 * 1024 * 1024

type Artifact struct {
	ID                 int64
	Name               string
	ArchiveDownloadURL string
	Expired            bool
}

// ListWorkflowRunArtifacts returns all artifacts of a workflow run.
func (clt *Client) ListWorkflowRunArtifacts(ctx context.Context, owner, repo string, runID int64) ([]*Artifact, error) {
	var result []*Artifact

	opts := github.ListOptions{Page: 1, PerPage: 100}
	for {
		list, resp, err := clt.restClt.Actions.ListWorkflowRunArtifacts(ctx, owner, repo, runID, &opts)
		if err != nil {
			return nil, clt.transientErr(err)
		}

		for _, a := range list.Artifacts {
			result = append(result, &Artifact{
				ID:                 a.GetID(),
				Name:               a.GetName(),
				ArchiveDownloadURL: a.GetArchiveDownloadURL(),
				Expired:            a.GetExpired(),
			})
		}

		if resp.NextPage == 0 || len(list.Artifacts) == 0 {
			return result, nil
		}

		opts.Page = resp.NextPage
	}
}

// DownloadArtifact downloads the zip archive of an artifact.
// Github answers the request with a redirect to a short-lived signed URL,
// the redirect is followed without sending the github credentials.
func (clt *Client) DownloadArtifact(ctx context.Context, artifact *Artifact) ([]byte, error) {
	if artifact.ArchiveDownloadURL == "" {
		return nil, fmt.Errorf("artifact %d has no download url", artifact.ID)
	}

	req, err := clt.restClt.NewRequest(http.MethodGet, artifact.ArchiveDownloadURL, nil)
	if err != nil {
		return nil, err
	}

	authClt := *clt.restClt.Client()
	authClt.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	resp, err := authClt.Do(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return readArchive(resp.Body)

	case http.StatusFound, http.StatusMovedPermanently, http.StatusTemporaryRedirect, http.StatusSeeOther:
		location, err := resp.Location()
		if err != nil {
			return nil, fmt.Errorf("github returned redirect without valid location: %w", err)
		}

		clt.logger.Debug(
			"following artifact download redirect",
			logfields.Event("github_artifact_download_redirected"),
			zap.Int64("github.artifact_id", artifact.ID),
		)

		return clt.downloadFrom(ctx, location.String())

	default:
		if err := github.CheckResponse(resp); err != nil {
			return nil, clt.transientErr(err)
		}

		return nil, fmt.Errorf("downloading artifact failed, github returned unexpected status %s", resp.Status)
	}
}

func (clt *Client) downloadFrom(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := clt.downloadClt.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading artifact failed, server returned status %s", resp.Status)
	}

	return readArchive(resp.Body)
}

func readArchive(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxArtifactSize+1))
	if err != nil {
		return nil, err
	}

	if len(data) > MaxArtifactSize {
		return nil, errors.New("artifact archive exceeds maximum size")
	}

	return data, nil
}
