// Package checkrun reports the state of a pull request processing run via a
// GitHub check run.
package checkrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/patchbot/internal/githubclt"
	"github.com/simplesurance/patchbot/internal/logfields"
)

//go:generate mockgen -package mocks -destination mocks/githubclient.go . GithubClient

const loggerName = "check_run"

// Name is the name of the check run shown in the pull request.
const Name = "Inspecting PR"

// MaxOutputLen is the maximum length of the check run output text that
// github accepts.
const MaxOutputLen = 65535

// DefConcludeTimeout is the time the conclusion of a check run may take.
const DefConcludeTimeout = 30 * time.Second

const (
	ConclusionSuccess   = "success"
	ConclusionFailure   = "failure"
	ConclusionCancelled = "cancelled"
)

const redacted = "**hidden**"

const truncatedMarker = "[output truncated]\n"

var ErrNotOpened = errors.New("check run session was not opened")

type GithubClient interface {
	CreateCheckRun(ctx context.Context, owner, repo, name, headSHA string) (int64, error)
	MarkCheckRunInProgress(ctx context.Context, owner, repo string, checkRunID int64, name string, startedAt time.Time) error
	CompleteCheckRun(ctx context.Context, owner, repo string, checkRunID int64, result *githubclt.CheckRunResult) error
}

// Session is a check run that is created when the processing of a pull
// request starts and concluded when it ends.
type Session struct {
	clt     GithubClient
	owner   string
	repo    string
	headSHA string
	id      int64

	logger          *zap.Logger
	concludeTimeout time.Duration
	now             func() time.Time

	mu      sync.Mutex
	output  bytes.Buffer
	secrets []string

	concludeOnce sync.Once
	concludeErr  error
}

type Option func(*Session)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		s.logger = logger.Named(loggerName)
	}
}

func WithConcludeTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.concludeTimeout = d
	}
}

// Open creates a check run for the commit headSHA.
func Open(ctx context.Context, clt GithubClient, owner, repo, headSHA string, opts ...Option) (*Session, error) {
	s := Session{
		clt:             clt,
		owner:           owner,
		repo:            repo,
		headSHA:         headSHA,
		logger:          zap.L().Named(loggerName),
		concludeTimeout: DefConcludeTimeout,
		now:             time.Now,
	}

	for _, opt := range opts {
		opt(&s)
	}

	id, err := clt.CreateCheckRun(ctx, owner, repo, Name, headSHA)
	if err != nil {
		return nil, fmt.Errorf("creating check run failed: %w", err)
	}

	s.id = id
	s.logger = s.logger.With(
		logfields.Repository(owner+"/"+repo),
		logfields.Commit(headSHA),
		logfields.CheckRunID(id),
	)

	s.logger.Debug("check run created", logfields.Event("check_run_created"))

	return &s, nil
}

// ID returns the github ID of the check run.
func (s *Session) ID() int64 {
	return s.id
}

// MarkRunning sets the status of the check run to in_progress.
func (s *Session) MarkRunning(ctx context.Context) error {
	if s == nil || s.id == 0 {
		return ErrNotOpened
	}

	if err := s.clt.MarkCheckRunInProgress(ctx, s.owner, s.repo, s.id, Name, s.now()); err != nil {
		return fmt.Errorf("marking check run as in progress failed: %w", err)
	}

	s.logger.Debug("check run marked as in progress", logfields.Event("check_run_in_progress"))

	return nil
}

// FilterFromLogs registers values that are replaced in the check run output.
func (s *Session) FilterFromLogs(secrets ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, secret := range secrets {
		if secret != "" {
			s.secrets = append(s.secrets, secret)
		}
	}
}

type outputWriter struct {
	s *Session
}

func (w *outputWriter) Write(p []byte) (int, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()

	return w.s.output.Write(p)
}

// Output returns a writer for text that is shown in the check run.
// It is safe for concurrent use.
func (s *Session) Output() io.Writer {
	return &outputWriter{s: s}
}

// Logf appends a line to the check run output.
func (s *Session) Logf(format string, a ...any) {
	fmt.Fprintf(s.Output(), format+"\n", a...)
}

// Conclusion returns the check run conclusion for the result of a
// processing run.
func Conclusion(err error) string {
	switch {
	case err == nil:
		return ConclusionSuccess
	case errors.Is(err, context.Canceled):
		return ConclusionCancelled
	default:
		return ConclusionFailure
	}
}

func (s *Session) redactedOutput(err error) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		if s.output.Len() > 0 {
			s.output.WriteString("\n")
		}
		s.output.WriteString("error: " + err.Error() + "\n")
	}

	text := s.output.String()
	for _, secret := range s.secrets {
		text = strings.ReplaceAll(text, secret, redacted)
	}

	return truncate(text, MaxOutputLen)
}

// truncate shortens text to at most maxLen bytes by removing its beginning.
func truncate(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}

	tail := text[len(text)-(maxLen-len(truncatedMarker)):]
	return truncatedMarker + strings.ToValidUTF8(tail, "")
}

func summary(conclusion string) (title, sum string) {
	switch conclusion {
	case ConclusionSuccess:
		return "Pull request processed", "All configured bot actions were processed."
	case ConclusionCancelled:
		return "Processing cancelled", "Processing was cancelled, it is retried on the next change of the pull request."
	default:
		return "Processing failed", "Processing the pull request failed, see the details for more information."
	}
}

// Conclude completes the check run with the conclusion for err.
// The github API call is not canceled when ctx is canceled, it is only
// bounded by the conclude timeout.
// Only the first call concludes the check run, later calls return the
// result of the first one.
func (s *Session) Conclude(ctx context.Context, err error) error {
	s.concludeOnce.Do(func() {
		s.concludeErr = s.conclude(ctx, err)
	})

	return s.concludeErr
}

func (s *Session) conclude(ctx context.Context, err error) error {
	ctx, cancelFn := context.WithTimeout(context.WithoutCancel(ctx), s.concludeTimeout)
	defer cancelFn()

	conclusion := Conclusion(err)
	title, sum := summary(conclusion)

	cerr := s.clt.CompleteCheckRun(ctx, s.owner, s.repo, s.id, &githubclt.CheckRunResult{
		Name:        Name,
		Conclusion:  conclusion,
		CompletedAt: s.now(),
		Title:       title,
		Summary:     sum,
		Text:        s.redactedOutput(err),
	})

	metrics.concluded.WithLabelValues(conclusion).Inc()

	if cerr != nil {
		s.logger.Error(
			"concluding check run failed",
			logfields.Event("check_run_conclusion_failed"),
			zap.String("conclusion", conclusion),
			zap.Error(cerr),
		)

		return fmt.Errorf("concluding check run failed: %w", cerr)
	}

	s.logger.Info(
		"check run concluded",
		logfields.Event("check_run_concluded"),
		zap.String("conclusion", conclusion),
	)

	return nil
}
