package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/go-github/v59/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/patchbot/internal/checkrun"
	"github.com/simplesurance/patchbot/internal/gitexec"
	"github.com/simplesurance/patchbot/internal/githubclt"
	"github.com/simplesurance/patchbot/internal/patcherr"
	"github.com/simplesurance/patchbot/internal/pipeline/mocks"
	"github.com/simplesurance/patchbot/internal/processing"
	"github.com/simplesurance/patchbot/internal/workflows"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	token      = "ghs_installationtoken"
	checkRunID = 555
	patchRunID = 9000
	patchText  = "diff --git a/README.md b/README.md\n"
)

var botIdentity = gitexec.BotIdentity("always-on-duty[bot]", 1)

func newTestPullRequest() *PullRequest {
	return &PullRequest{
		RepoID:           100,
		RepoOwner:        "octo",
		RepoName:         "repo",
		RepoFullName:     "octo/repo",
		Number:           7,
		HeadRepoID:       200,
		HeadRepoFullName: "contributor/repo",
		HeadRef:          "feature",
		HeadSHA:          "8ad9dec4298f6b8f020997373cf4fe22005f2c06",
		InstallationID:   42,
	}
}

type testEnv struct {
	index    *processing.Index
	dispatch *workflows.Dispatch
	tokens   *mocks.MockTokenSource
	clt      *mocks.MockGithubClient
	git      *mocks.MockGit
	pipeline *Pipeline
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	mockctrl := gomock.NewController(t)

	env := testEnv{
		index:    processing.NewIndex(),
		dispatch: workflows.NewDispatch(workflows.WithDiscoveryTimeout(time.Second)),
		tokens:   mocks.NewMockTokenSource(mockctrl),
		clt:      mocks.NewMockGithubClient(mockctrl),
		git:      mocks.NewMockGit(mockctrl),
	}
	t.Cleanup(env.index.Close)

	env.pipeline = New(
		env.index,
		env.dispatch,
		env.tokens,
		func(tok string) GithubClient {
			assert.Equal(t, token, tok)
			return env.clt
		},
		env.git,
		botIdentity,
		WithCloneURLFunc(func(repo, tok string) string {
			return "file:///" + repo + "?token=" + tok
		}),
	)

	return &env
}

// expectClone makes CloneShallow create a directory that contains the
// piped.toml file with the passed content.
func (e *testEnv) expectClone(t *testing.T, pipedToml string) *string {
	var cloneDir string

	e.git.EXPECT().
		CloneShallow(gomock.Any(), "file:///contributor/repo?token="+token, "feature", gomock.Any()).
		DoAndReturn(func(context.Context, string, string, io.Writer) (string, func(), error) {
			dir, err := os.MkdirTemp("", "patchbot-test-")
			require.NoError(t, err)
			cloneDir = dir

			require.NoError(t, os.WriteFile(filepath.Join(dir, "piped.toml"), []byte(pipedToml), 0o600))

			return dir, func() { os.RemoveAll(dir) }, nil
		})

	return &cloneDir
}

func (e *testEnv) expectCheckRun(conclusion string) {
	e.tokens.EXPECT().InstallationToken(gomock.Any(), int64(42)).Return(token, nil)
	e.clt.EXPECT().
		CreateCheckRun(gomock.Any(), "octo", "repo", checkrun.Name, newTestPullRequest().HeadSHA).
		Return(int64(checkRunID), nil)
	e.clt.EXPECT().
		CompleteCheckRun(gomock.Any(), "octo", "repo", int64(checkRunID), newConclusionMatcher(conclusion)).
		Return(nil).
		Times(1)
}

// publishOnMarkRunning sends the workflow run events when the check run is
// marked as in progress, at this point the pipeline is registered for
// them.
func (e *testEnv) publishOnMarkRunning(events ...*github.WorkflowRunEvent) chan struct{} {
	published := make(chan struct{})

	e.clt.EXPECT().
		MarkCheckRunInProgress(gomock.Any(), "octo", "repo", int64(checkRunID), checkrun.Name, gomock.Any()).
		DoAndReturn(func(context.Context, string, string, int64, string, time.Time) error {
			for _, ev := range events {
				e.dispatch.ConsumeEvent(ev)
			}
			close(published)
			return nil
		})

	return published
}

type conclusionMatcher struct {
	conclusion string
}

func newConclusionMatcher(conclusion string) gomock.Matcher {
	return &conclusionMatcher{conclusion: conclusion}
}

func (m *conclusionMatcher) Matches(x interface{}) bool {
	result, ok := x.(*githubclt.CheckRunResult)
	if !ok {
		return false
	}

	return result.Conclusion == m.conclusion && !strings.Contains(result.Text, token)
}

func (m *conclusionMatcher) String() string {
	return "check run result with conclusion " + m.conclusion + " and redacted token"
}

func workflowRunEvent(runID int64, name string, action workflows.Action) *github.WorkflowRunEvent {
	pr := newTestPullRequest()

	return &github.WorkflowRunEvent{
		Action: github.String(string(action)),
		Repo:   &github.Repository{ID: github.Int64(pr.RepoID)},
		WorkflowRun: &github.WorkflowRun{
			ID:             github.Int64(runID),
			Name:           github.String(name),
			HeadSHA:        github.String(pr.HeadSHA),
			HeadRepository: &github.Repository{ID: github.Int64(pr.HeadRepoID)},
		},
	}
}

func zipArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}

	require.NoError(t, zw.Close())

	return buf.Bytes()
}

func (e *testEnv) expectPatchArtifact(t *testing.T) {
	patchArtifact := githubclt.Artifact{ID: 3, Name: PatchArtifactName, ArchiveDownloadURL: "https://example.com/3"}

	e.clt.EXPECT().
		ListWorkflowRunArtifacts(gomock.Any(), "octo", "repo", int64(patchRunID)).
		Return([]*githubclt.Artifact{{ID: 2, Name: "coverage"}, &patchArtifact}, nil)
	e.clt.EXPECT().
		DownloadArtifact(gomock.Any(), &patchArtifact).
		Return(zipArchive(t, map[string]string{PatchArtifactName: patchText}), nil)
}

func TestPatchIsCommittedAndPushed(t *testing.T) {
	env := newTestEnv(t)

	env.expectCheckRun(checkrun.ConclusionSuccess)
	cloneDir := env.expectClone(t, `bot_actions = ["X"]`)
	env.publishOnMarkRunning(
		workflowRunEvent(patchRunID, "X", workflows.ActionRequested),
		workflowRunEvent(patchRunID, "X", workflows.ActionCompleted),
	)
	env.expectPatchArtifact(t)

	var patchFile string
	gomock.InOrder(
		env.git.EXPECT().
			Apply(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, dir, patch string, _ io.Writer) error {
				assert.Equal(t, *cloneDir, dir)
				assert.False(t, strings.HasPrefix(patch, dir), "patch file must be created outside of the repository")

				content, err := os.ReadFile(patch)
				require.NoError(t, err)
				assert.Equal(t, patchText, string(content))

				patchFile = patch
				return nil
			}),
		env.git.EXPECT().
			CommitAll(gomock.Any(), gomock.Any(), "X", botIdentity, gomock.Any()).
			Return(true, nil).
			Times(1),
		env.git.EXPECT().
			Push(gomock.Any(), gomock.Any(), "feature", gomock.Any()).
			Return(nil).
			Times(1),
		env.git.EXPECT().
			HeadCommit(gomock.Any(), gomock.Any()).
			Return("c0ffee", nil),
	)

	err := env.pipeline.Run(context.Background(), newTestPullRequest())
	require.NoError(t, err)

	assert.NoFileExists(t, patchFile)
	assert.NoDirExists(t, *cloneDir)
	assert.Equal(t, 0, env.index.Len())
	assert.Equal(t, 0, env.dispatch.Len())
}

func TestConflictingPatchIsSkipped(t *testing.T) {
	env := newTestEnv(t)

	env.expectCheckRun(checkrun.ConclusionSuccess)
	env.expectClone(t, `bot_actions = ["X"]`)
	env.publishOnMarkRunning(workflowRunEvent(patchRunID, "X", workflows.ActionCompleted))
	env.expectPatchArtifact(t)

	var patchFile string
	env.git.EXPECT().
		Apply(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _, patch string, _ io.Writer) error {
			patchFile = patch
			return &patcherr.PatchConflictError{Patch: patch, Err: errors.New("exit status 1")}
		})
	env.git.EXPECT().CommitAll(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
	env.git.EXPECT().Push(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	err := env.pipeline.Run(context.Background(), newTestPullRequest())
	require.NoError(t, err)
	assert.NoFileExists(t, patchFile)
}

func TestWorkflowWithoutPatchArtifact(t *testing.T) {
	env := newTestEnv(t)

	env.expectCheckRun(checkrun.ConclusionSuccess)
	env.expectClone(t, `bot_actions = ["X"]`)
	env.publishOnMarkRunning(workflowRunEvent(patchRunID, "X", workflows.ActionCompleted))

	env.clt.EXPECT().
		ListWorkflowRunArtifacts(gomock.Any(), "octo", "repo", int64(patchRunID)).
		Return([]*githubclt.Artifact{{ID: 2, Name: "coverage"}}, nil)
	env.git.EXPECT().Apply(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
	env.git.EXPECT().Push(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	require.NoError(t, env.pipeline.Run(context.Background(), newTestPullRequest()))
}

func TestCloneFailureConcludesWithFailure(t *testing.T) {
	env := newTestEnv(t)

	env.expectCheckRun(checkrun.ConclusionFailure)
	env.git.EXPECT().
		CloneShallow(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return("", nil, &patcherr.CloneError{Branch: "feature", Err: errors.New("exit status 128")})

	err := env.pipeline.Run(context.Background(), newTestPullRequest())
	require.Error(t, err)

	var cloneErr *patcherr.CloneError
	assert.ErrorAs(t, err, &cloneErr)
	assert.Equal(t, 0, env.index.Len())
}

func TestMissingProjectConfigConcludesWithFailure(t *testing.T) {
	env := newTestEnv(t)

	env.expectCheckRun(checkrun.ConclusionFailure)
	env.git.EXPECT().
		CloneShallow(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, string, string, io.Writer) (string, func(), error) {
			dir := t.TempDir()
			return dir, func() {}, nil
		})

	err := env.pipeline.Run(context.Background(), newTestPullRequest())
	require.Error(t, err)

	var cfgErr *patcherr.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestEmptyBotActionsFinishesWithoutWaiting(t *testing.T) {
	env := newTestEnv(t)

	env.expectCheckRun(checkrun.ConclusionSuccess)
	env.expectClone(t, `bot_actions = []`)
	env.clt.EXPECT().MarkCheckRunInProgress(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	require.NoError(t, env.pipeline.Run(context.Background(), newTestPullRequest()))
}

func TestStopForPRConcludesWithCancelled(t *testing.T) {
	env := newTestEnv(t)

	env.expectCheckRun(checkrun.ConclusionCancelled)
	cloneDir := env.expectClone(t, `bot_actions = ["X"]`)
	published := env.publishOnMarkRunning(workflowRunEvent(patchRunID, "X", workflows.ActionInProgress))

	pr := newTestPullRequest()

	result := make(chan error, 1)
	go func() {
		result <- env.pipeline.Run(context.Background(), pr)
	}()

	select {
	case <-published:
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not start waiting for workflows")
	}

	env.index.StopForPR(pr.RepoID, pr.Number)

	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not terminate after it was canceled")
	}

	assert.NoDirExists(t, *cloneDir)
	assert.Equal(t, 0, env.dispatch.Len())
}

func TestAuthorizationFailureAbortsRun(t *testing.T) {
	env := newTestEnv(t)

	env.tokens.EXPECT().
		InstallationToken(gomock.Any(), int64(42)).
		Return("", &patcherr.AuthorizationError{InstallationID: 42, Err: errors.New("401")})
	env.clt.EXPECT().CreateCheckRun(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	err := env.pipeline.Run(context.Background(), newTestPullRequest())

	var authErr *patcherr.AuthorizationError
	assert.ErrorAs(t, err, &authErr)
	assert.Equal(t, 0, env.index.Len())
}

func TestRunAfterIndexIsClosedIsCanceled(t *testing.T) {
	env := newTestEnv(t)
	env.index.Close()

	err := env.pipeline.Run(context.Background(), newTestPullRequest())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtractPatchWithoutPatchFileFails(t *testing.T) {
	_, err := extractPatch(zipArchive(t, map[string]string{"other.txt": "x"}))
	assert.Error(t, err)

	_, err = extractPatch([]byte("not a zip"))
	assert.Error(t, err)
}

func TestDryRunDoesNotPush(t *testing.T) {
	env := newTestEnv(t)
	WithDryRun()(env.pipeline)

	// check run calls are simulated, the event is published when the
	// tracker is registered and buffered until the iteration starts
	env.tokens.EXPECT().
		InstallationToken(gomock.Any(), int64(42)).
		DoAndReturn(func(context.Context, int64) (string, error) {
			env.dispatch.ConsumeEvent(workflowRunEvent(patchRunID, "X", workflows.ActionCompleted))
			return token, nil
		})
	env.expectClone(t, `bot_actions = ["X"]`)
	env.expectPatchArtifact(t)

	env.git.EXPECT().Apply(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	env.git.EXPECT().CommitAll(gomock.Any(), gomock.Any(), "X", botIdentity, gomock.Any()).Return(true, nil)
	env.git.EXPECT().Push(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	require.NoError(t, env.pipeline.Run(context.Background(), newTestPullRequest()))
}

func TestNewPullRequestFromEvent(t *testing.T) {
	ev := github.PullRequestEvent{
		Action: github.String("opened"),
		Repo: &github.Repository{
			ID:       github.Int64(100),
			Name:     github.String("repo"),
			FullName: github.String("octo/repo"),
			Owner:    &github.User{Login: github.String("octo")},
		},
		PullRequest: &github.PullRequest{
			Number: github.Int(7),
			Head: &github.PullRequestBranch{
				Ref: github.String("feature"),
				SHA: github.String("8ad9dec4298f6b8f020997373cf4fe22005f2c06"),
				Repo: &github.Repository{
					ID:       github.Int64(200),
					FullName: github.String("contributor/repo"),
				},
			},
		},
		Installation: &github.Installation{ID: github.Int64(42)},
	}

	pr, err := NewPullRequestFromEvent(&ev)
	require.NoError(t, err)
	assert.Equal(t, newTestPullRequest(), pr)

	ev.PullRequest.Head.Repo = nil
	_, err = NewPullRequestFromEvent(&ev)
	assert.Error(t, err)
}
