// Package gitexec runs git commands to prepare and push pull request changes.
package gitexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/simplesurance/patchbot/internal/logfields"
	"github.com/simplesurance/patchbot/internal/patcherr"
)

const loggerName = "git"

const DefExecutable = "git"

// Identity is the author and committer of created commits.
type Identity struct {
	Name  string
	Email string
}

// BotIdentity returns the identity of a github app bot user.
// The email address is the noreply address github assigns to the user.
func BotIdentity(login string, userID int64) Identity {
	return Identity{
		Name:  login,
		Email: fmt.Sprintf("%d+%s@users.noreply.github.com", userID, login),
	}
}

func (i Identity) env() []string {
	return []string{
		"GIT_AUTHOR_NAME=" + i.Name,
		"GIT_AUTHOR_EMAIL=" + i.Email,
		"GIT_COMMITTER_NAME=" + i.Name,
		"GIT_COMMITTER_EMAIL=" + i.Email,
	}
}

// AuthenticatedURL returns the https clone URL of a github repository that
// authenticates with an installation access token.
func AuthenticatedURL(repoFullName, token string) string {
	u := url.URL{
		Scheme: "https",
		User:   url.UserPassword("x-access-token", token),
		Host:   "github.com",
		Path:   "/" + repoFullName + ".git",
	}

	return u.String()
}

// Git runs the git executable.
type Git struct {
	executable string
	logger     *zap.Logger
}

type Option func(*Git)

func WithExecutable(path string) Option {
	return func(g *Git) {
		g.executable = path
	}
}

func New(opts ...Option) *Git {
	g := Git{
		executable: DefExecutable,
		logger:     zap.L().Named(loggerName),
	}

	for _, opt := range opts {
		opt(&g)
	}

	return &g
}

// CloneShallow clones the latest commit of branch into a new temporary
// directory.
// cleanup removes the directory, it must be called when the directory is
// not needed anymore.
func (g *Git) CloneShallow(ctx context.Context, repoURL, branch string, out io.Writer) (dir string, cleanup func(), err error) {
	dir, err = os.MkdirTemp("", "patchbot-clone-")
	if err != nil {
		return "", nil, &patcherr.CloneError{Branch: branch, Err: err}
	}

	cleanup = func() {
		if err := os.RemoveAll(dir); err != nil {
			g.logger.Warn(
				"removing clone directory failed",
				logfields.Event("git_clone_dir_removal_failed"),
				logfields.WorkDir(dir),
				zap.Error(err),
			)
		}
	}

	err = g.run(ctx, "", nil, out, "clone", "--depth", "1", "--branch", branch, repoURL, dir)
	if err != nil {
		cleanup()
		return "", nil, &patcherr.CloneError{Branch: branch, Err: err}
	}

	return dir, cleanup, nil
}

// Apply applies the patch file to the working tree in dir.
// If it does not apply, a *patcherr.PatchConflictError is returned.
func (g *Git) Apply(ctx context.Context, dir, patchFile string, out io.Writer) error {
	err := g.run(ctx, dir, nil, out, "apply", patchFile)
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &patcherr.PatchConflictError{Patch: patchFile, Err: err}
	}

	return err
}

// CommitAll stages all changes in dir and commits them.
// If the working tree has no changes, no commit is created and false is
// returned.
func (g *Git) CommitAll(ctx context.Context, dir, msg string, author Identity, out io.Writer) (bool, error) {
	if err := g.run(ctx, dir, nil, out, "add", "--all"); err != nil {
		return false, err
	}

	err := g.run(ctx, dir, nil, io.Discard, "diff", "--cached", "--quiet")
	if err == nil {
		return false, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 1 {
		return false, err
	}

	err = g.run(ctx, dir, author.env(), out, "-c", "commit.gpgsign=false", "commit", "--no-verify", "-m", msg)
	if err != nil {
		return false, err
	}

	return true, nil
}

// Push pushes the HEAD commit of dir to branch of the origin remote.
// Failures are returned as *patcherr.PushError.
func (g *Git) Push(ctx context.Context, dir, branch string, out io.Writer) error {
	err := g.run(ctx, dir, nil, out, "push", "origin", "HEAD:refs/heads/"+branch)
	if err != nil {
		return &patcherr.PushError{Err: err}
	}

	return nil
}

// HeadCommit returns the commit ID of HEAD in dir.
func (g *Git) HeadCommit(ctx context.Context, dir string) (string, error) {
	var buf bytes.Buffer
	if err := g.run(ctx, dir, nil, &buf, "rev-parse", "HEAD"); err != nil {
		return "", err
	}

	return strings.TrimSpace(buf.String()), nil
}

func (g *Git) run(ctx context.Context, dir string, env []string, out io.Writer, args ...string) error {
	cmdline := g.executable + " " + strings.Join(redactArgs(args), " ")

	var stderr bytes.Buffer
	sw := &syncWriter{w: out}

	cmd := exec.CommandContext(ctx, g.executable, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	cmd.Env = append(cmd.Env, env...)
	cmd.Stdout = sw
	cmd.Stderr = io.MultiWriter(sw, &stderr)

	fmt.Fprintf(out, "$ %s\n", cmdline)

	g.logger.Debug(
		"running git command",
		logfields.Event("git_command_started"),
		zap.String("cmd", cmdline),
		logfields.WorkDir(dir),
	)

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", cmdline, ctxErr)
		}

		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", cmdline, err, msg)
		}

		return fmt.Errorf("%s: %w", cmdline, err)
	}

	return nil
}

// syncWriter serializes the writes of the stdout and stderr copying
// goroutines of exec.Cmd.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.w.Write(p)
}

// redactArgs removes passwords from URL arguments.
func redactArgs(args []string) []string {
	result := make([]string, len(args))

	for i, arg := range args {
		u, err := url.Parse(arg)
		if err != nil || u.User == nil {
			result[i] = arg
			continue
		}

		result[i] = u.Redacted()
	}

	return result
}
