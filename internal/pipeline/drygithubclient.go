package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/patchbot/internal/githubclt"
)

const dryRunCheckRunID = -1

// DryGithubClient is a github-client that does not do any changes on github.
// All operations that could cause a change are simulated and always succeed.
// All other operations are forwarded to a wrapped GithubClient.
type DryGithubClient struct {
	clt    GithubClient
	logger *zap.Logger
}

func NewDryGithubClient(clt GithubClient, logger *zap.Logger) *DryGithubClient {
	return &DryGithubClient{
		clt:    clt,
		logger: logger.Named("dry_github_client"),
	}
}

func (c *DryGithubClient) CreateCheckRun(_ context.Context, _, _, name, headSHA string) (int64, error) {
	c.logger.Info("simulated creating check run",
		zap.String("check_run_name", name),
		zap.String("git.commit", headSHA),
	)
	return dryRunCheckRunID, nil
}

func (c *DryGithubClient) MarkCheckRunInProgress(context.Context, string, string, int64, string, time.Time) error {
	c.logger.Info("simulated marking check run as in progress")
	return nil
}

func (c *DryGithubClient) CompleteCheckRun(_ context.Context, _, _ string, _ int64, result *githubclt.CheckRunResult) error {
	c.logger.Info("simulated completing check run", zap.String("conclusion", result.Conclusion))
	return nil
}

func (c *DryGithubClient) ListWorkflowRunArtifacts(ctx context.Context, owner, repo string, runID int64) ([]*githubclt.Artifact, error) {
	return c.clt.ListWorkflowRunArtifacts(ctx, owner, repo, runID)
}

func (c *DryGithubClient) DownloadArtifact(ctx context.Context, artifact *githubclt.Artifact) ([]byte, error) {
	return c.clt.DownloadArtifact(ctx, artifact)
}
