// Package pipeline processes pull requests.
//
// A run clones the pull request branch, waits for the configured bot action
// workflows to complete, applies the patches they produced, commits and
// pushes them to the pull request branch.
// The result is reported via a check run.
package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/simplesurance/patchbot/internal/checkrun"
	"github.com/simplesurance/patchbot/internal/gitexec"
	"github.com/simplesurance/patchbot/internal/githubclt"
	"github.com/simplesurance/patchbot/internal/logfields"
	"github.com/simplesurance/patchbot/internal/patcherr"
	"github.com/simplesurance/patchbot/internal/processing"
	"github.com/simplesurance/patchbot/internal/projectcfg"
	"github.com/simplesurance/patchbot/internal/workflows"
)

//go:generate mockgen -package mocks -destination mocks/githubclient.go . GithubClient
//go:generate mockgen -package mocks -destination mocks/tokensource.go . TokenSource
//go:generate mockgen -package mocks -destination mocks/git.go . Git

const loggerName = "pipeline"

// PatchArtifactName is the name of the workflow artifact that contains the
// patch, and the name of the patch file in the artifact archive.
const PatchArtifactName = "gogo.patch"

type GithubClient interface {
	checkrun.GithubClient
	ListWorkflowRunArtifacts(ctx context.Context, owner, repo string, runID int64) ([]*githubclt.Artifact, error)
	DownloadArtifact(ctx context.Context, artifact *githubclt.Artifact) ([]byte, error)
}

type TokenSource interface {
	InstallationToken(ctx context.Context, installationID int64) (string, error)
}

type Git interface {
	CloneShallow(ctx context.Context, repoURL, branch string, out io.Writer) (dir string, cleanup func(), err error)
	Apply(ctx context.Context, dir, patchFile string, out io.Writer) error
	CommitAll(ctx context.Context, dir, msg string, author gitexec.Identity, out io.Writer) (bool, error)
	Push(ctx context.Context, dir, branch string, out io.Writer) error
	HeadCommit(ctx context.Context, dir string) (string, error)
}

// Pipeline processes pull requests.
// Runs for different pull requests are executed concurrently, a run for a
// pull request cancels a running one for the same pull request.
type Pipeline struct {
	index     *processing.Index
	dispatch  *workflows.Dispatch
	tokens    TokenSource
	newClient func(token string) GithubClient
	git       Git
	identity  gitexec.Identity
	cloneURL  func(repoFullName, token string) string
	dryRun    bool

	logger *zap.Logger
}

type Option func(*Pipeline)

// WithDryRun simulates all changes on github, commits are not pushed.
func WithDryRun() Option {
	return func(p *Pipeline) {
		p.dryRun = true
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger.Named(loggerName)
	}
}

// WithCloneURLFunc sets the function that returns the URL the pull request
// head repository is cloned from.
func WithCloneURLFunc(fn func(repoFullName, token string) string) Option {
	return func(p *Pipeline) {
		p.cloneURL = fn
	}
}

// New returns a Pipeline.
// newClient returns a github client that authenticates with the passed
// installation access token.
func New(
	index *processing.Index,
	dispatch *workflows.Dispatch,
	tokens TokenSource,
	newClient func(token string) GithubClient,
	git Git,
	identity gitexec.Identity,
	opts ...Option,
) *Pipeline {
	p := Pipeline{
		index:     index,
		dispatch:  dispatch,
		tokens:    tokens,
		newClient: newClient,
		git:       git,
		identity:  identity,
		cloneURL:  gitexec.AuthenticatedURL,
		logger:    zap.L().Named(loggerName),
	}

	for _, opt := range opts {
		opt(&p)
	}

	return &p
}

// Run processes the pull request.
// It returns when the processing finished or ctx was canceled.
func (p *Pipeline) Run(ctx context.Context, pr *PullRequest) (err error) {
	startTs := time.Now()
	logger := p.logger.With(pr.LogFields()...).With(logfields.RunID(uuid.NewString()))

	defer func() {
		result := checkrun.Conclusion(err)
		metrics.runs.WithLabelValues(result).Inc()
		metrics.duration.WithLabelValues(result).Observe(time.Since(startTs).Seconds())
	}()

	slot := p.index.Start(ctx, pr.RepoID, pr.Number)
	defer slot.Release()

	ctx = slot.Context()
	if err := ctx.Err(); err != nil {
		logger.Info(
			"processing pull request canceled before it started",
			logfields.Event("pipeline_canceled_before_start"),
			zap.NamedError("cause", context.Cause(ctx)),
		)
		return err
	}

	// the listener is registered before the slow operations, workflow
	// run events that arrive before are lost
	tracker := p.dispatch.TrackWorkflows(pr.RepoID, pr.HeadRepoID, pr.HeadSHA)
	defer tracker.Close()

	logger.Info("processing pull request", logfields.Event("pipeline_started"))

	token, err := p.tokens.InstallationToken(ctx, pr.InstallationID)
	if err != nil {
		logger.Error(
			"retrieving installation access token failed",
			logfields.Event("pipeline_authorization_failed"),
			zap.Error(err),
		)
		return err
	}

	clt := p.newClient(token)
	if p.dryRun {
		clt = NewDryGithubClient(clt, logger)
	}

	session, err := checkrun.Open(ctx, clt, pr.RepoOwner, pr.RepoName, pr.HeadSHA, checkrun.WithLogger(logger))
	if err != nil {
		logger.Error(
			"creating check run failed",
			logfields.Event("pipeline_check_run_creation_failed"),
			zap.Error(err),
		)
		return err
	}

	session.FilterFromLogs(token)

	err = p.process(ctx, logger, clt, session, tracker, token, pr)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info(
				"processing pull request canceled",
				logfields.Event("pipeline_canceled"),
				zap.NamedError("cause", context.Cause(ctx)),
			)
		} else {
			logger.Warn(
				"processing pull request failed",
				logfields.Event("pipeline_failed"),
				zap.Error(err),
			)
		}
	} else {
		logger.Info(
			"processing pull request finished",
			logfields.Event("pipeline_finished"),
			zap.Duration("duration", time.Since(startTs)),
		)
	}

	// session.Conclude logs failures, the result of the processing is
	// returned instead
	_ = session.Conclude(ctx, err)

	return err
}

func (p *Pipeline) process(
	ctx context.Context,
	logger *zap.Logger,
	clt GithubClient,
	session *checkrun.Session,
	tracker *workflows.Tracker,
	token string,
	pr *PullRequest,
) error {
	out := session.Output()

	dir, cleanup, err := p.git.CloneShallow(ctx, p.cloneURL(pr.HeadRepoFullName, token), pr.HeadRef, out)
	if err != nil {
		return err
	}
	defer cleanup()

	logger = logger.With(logfields.WorkDir(dir))

	cfg, err := projectcfg.Read(dir)
	if err != nil {
		return err
	}

	if len(cfg.BotActions) == 0 {
		logger.Info(
			"project configures no bot actions, nothing to do",
			logfields.Event("pipeline_no_bot_actions"),
		)
		session.Logf("no bot actions configured in %s", cfg.Path)
		return nil
	}

	if err := session.MarkRunning(ctx); err != nil {
		return err
	}

	tracker.FilterNames(cfg.BotActions...)

	var commits int
	for {
		wf, err := tracker.Next(ctx)
		if err != nil {
			return err
		}

		if wf == nil {
			break
		}

		committed, err := p.applyWorkflowPatch(ctx, logger, clt, session, dir, pr, wf)
		if err != nil {
			return fmt.Errorf("processing result of workflow %q failed: %w", wf.Name, err)
		}

		if committed {
			commits++
		}
	}

	if commits == 0 {
		logger.Info("no changes to push", logfields.Event("pipeline_nothing_to_push"))
		session.Logf("no changes to push")
		return nil
	}

	if p.dryRun {
		logger.Info(
			"simulated pushing commits",
			logfields.Event("pipeline_push_simulated"),
			zap.Int("commits", commits),
		)
		return nil
	}

	if err := p.git.Push(ctx, dir, pr.HeadRef, out); err != nil {
		return err
	}

	head, err := p.git.HeadCommit(ctx, dir)
	if err != nil {
		logger.Warn(
			"retrieving pushed commit id failed",
			logfields.Event("pipeline_head_commit_failed"),
			zap.Error(err),
		)
	}

	session.Logf("pushed %d commit(s) to %s %s", commits, pr.HeadRef, head)
	logger.Info(
		"pushed commits to pull request branch",
		logfields.Event("pipeline_pushed"),
		zap.Int("commits", commits),
		zap.String("pushed_commit", head),
	)

	return nil
}

// applyWorkflowPatch downloads the patch artifact of a workflow run,
// applies and commits it.
// If the workflow run has no patch artifact or the patch does not apply,
// false and no error is returned.
func (p *Pipeline) applyWorkflowPatch(
	ctx context.Context,
	logger *zap.Logger,
	clt GithubClient,
	session *checkrun.Session,
	dir string,
	pr *PullRequest,
	wf *workflows.Workflow,
) (bool, error) {
	logger = logger.With(logfields.WorkflowName(wf.Name), logfields.WorkflowRunID(wf.RunID))

	artifacts, err := clt.ListWorkflowRunArtifacts(ctx, pr.RepoOwner, pr.RepoName, wf.RunID)
	if err != nil {
		return false, fmt.Errorf("listing artifacts failed: %w", err)
	}

	artifact := findPatchArtifact(artifacts)
	if artifact == nil {
		logger.Debug(
			"workflow run has no patch artifact",
			logfields.Event("pipeline_patch_artifact_missing"),
		)
		metrics.patches.WithLabelValues(patchResultNone).Inc()
		return false, nil
	}

	archive, err := clt.DownloadArtifact(ctx, artifact)
	if err != nil {
		return false, fmt.Errorf("downloading patch artifact failed: %w", err)
	}

	patchFile, err := extractPatch(archive)
	if err != nil {
		return false, err
	}
	defer os.Remove(patchFile)

	out := session.Output()

	err = p.git.Apply(ctx, dir, patchFile, out)
	if err != nil {
		var conflictErr *patcherr.PatchConflictError
		if errors.As(err, &conflictErr) {
			logger.Info(
				"patch does not apply, skipping it",
				logfields.Event("pipeline_patch_conflict"),
				zap.Error(err),
			)
			session.Logf("patch of workflow %q does not apply, skipped", wf.Name)
			metrics.patches.WithLabelValues(patchResultConflict).Inc()

			return false, nil
		}

		return false, err
	}

	committed, err := p.git.CommitAll(ctx, dir, wf.Name, p.identity, out)
	if err != nil {
		return false, fmt.Errorf("committing patch failed: %w", err)
	}

	if !committed {
		logger.Debug("patch did not change any files", logfields.Event("pipeline_patch_empty"))
		metrics.patches.WithLabelValues(patchResultEmpty).Inc()
		return false, nil
	}

	logger.Info("patch applied and committed", logfields.Event("pipeline_patch_committed"))
	metrics.patches.WithLabelValues(patchResultCommitted).Inc()

	return true, nil
}

func findPatchArtifact(artifacts []*githubclt.Artifact) *githubclt.Artifact {
	for _, a := range artifacts {
		if a.Name == PatchArtifactName && !a.Expired {
			return a
		}
	}

	return nil
}

// extractPatch writes the patch file from the artifact zip archive to a
// temporary file and returns its path.
// The file is created outside of the repository, to not be committed.
func extractPatch(archive []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return "", fmt.Errorf("opening artifact archive failed: %w", err)
	}

	for _, f := range zr.File {
		if f.Name != PatchArtifactName {
			continue
		}

		return writeTempFile(f)
	}

	return "", fmt.Errorf("artifact archive does not contain %s", PatchArtifactName)
}

func writeTempFile(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp("", "patchbot-*.patch")
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(tmp, rc); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}

	return tmp.Name(), nil
}
