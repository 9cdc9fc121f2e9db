// Package patchbot routes github webhook events to the pull request
// processing.
package patchbot

import (
	"context"
	"sync"

	"github.com/google/go-github/v59/github"
	"go.uber.org/zap"

	"github.com/simplesurance/patchbot/internal/logfields"
	"github.com/simplesurance/patchbot/internal/pipeline"
	"github.com/simplesurance/patchbot/internal/processing"
	"github.com/simplesurance/patchbot/internal/provider"
	github_prov "github.com/simplesurance/patchbot/internal/provider/github"
	"github.com/simplesurance/patchbot/internal/workflows"
)

//go:generate mockgen -package mocks -destination mocks/runner.go . Runner
//go:generate mockgen -package mocks -destination mocks/useridresolver.go . UserIDResolver

const loggerName = "patchbot"

// Runner processes a pull request.
type Runner interface {
	Run(context.Context, *pipeline.PullRequest) error
}

// ignoredEventTypes are event types that are delivered to github apps
// without being subscribed to and that do not require any action.
var ignoredEventTypes = map[string]struct{}{
	"ping":                     {},
	"github_app_authorization": {},
	"installation_target":      {},
}

// TokenCache caches installation access tokens.
type TokenCache interface {
	Forget(installationID int64)
}

// Bot processes github webhook events.
// Pull requests are processed asynchronously in go-routines.
type Bot struct {
	index    *processing.Index
	dispatch *workflows.Dispatch
	runner   Runner
	filter   *Filter
	tokens   TokenCache
	logger   *zap.Logger

	mu      sync.Mutex
	stopped bool

	routineWg      sync.WaitGroup
	routineDeferFn func()
}

type Option func(*Bot)

// WithRoutineDeferFunc sets a function that is run when a go-routine that
// processes a pull request returns.
// It can be used to set a panic handler.
func WithRoutineDeferFunc(fn func()) Option {
	return func(b *Bot) {
		b.routineDeferFn = fn
	}
}

// WithPullRequestFilter sets a filter that pull request events must match
// to be processed.
func WithPullRequestFilter(f *Filter) Option {
	return func(b *Bot) {
		b.filter = f
	}
}

// WithTokenCache sets a cache whose tokens are removed when an app
// installation is deleted.
func WithTokenCache(c TokenCache) Option {
	return func(b *Bot) {
		b.tokens = c
	}
}

func New(index *processing.Index, dispatch *workflows.Dispatch, runner Runner, opts ...Option) *Bot {
	b := Bot{
		index:    index,
		dispatch: dispatch,
		runner:   runner,
		logger:   zap.L().Named(loggerName),
	}

	for _, opt := range opts {
		opt(&b)
	}

	return &b
}

// HandleEvent processes a webhook event.
// It does not block until the processing of a pull request finished.
func (b *Bot) HandleEvent(ev *github_prov.Event) provider.Result {
	logger := b.logger.With(ev.LogFields...)

	logger.Debug("event received", logfields.Event("event_received"))

	switch event := ev.Event.(type) {
	case *github.PullRequestEvent:
		return b.onPullRequestEvent(logger, ev, event)

	case *github.WorkflowRunEvent:
		b.dispatch.ConsumeEvent(event)
		return provider.Handled

	case *github.InstallationEvent:
		switch event.GetAction() {
		case "deleted", "removed":
			b.clearRepositories(logger, event.Repositories)
			if b.tokens != nil {
				b.tokens.Forget(event.GetInstallation().GetID())
			}
			return provider.Handled
		}

		return provider.Ignored

	case *github.InstallationRepositoriesEvent:
		if event.GetAction() == "removed" {
			b.clearRepositories(logger, event.RepositoriesRemoved)
			return provider.Handled
		}

		return provider.Ignored
	}

	if _, exists := ignoredEventTypes[ev.Type]; exists {
		logger.Debug("ignoring event", logfields.Event("event_ignored"))
		return provider.Ignored
	}

	logger.Info(
		"ignoring event, event type is unsupported",
		logfields.Event("event_unsupported"),
		zap.String("github.webhook_type", ev.Type),
	)

	return provider.Unsupported
}

func (b *Bot) onPullRequestEvent(logger *zap.Logger, ev *github_prov.Event, event *github.PullRequestEvent) provider.Result {
	switch event.GetAction() {
	case "opened", "reopened", "synchronize":
		break

	case "closed":
		b.index.StopForPR(event.GetRepo().GetID(), int64(event.GetNumber()))
		return provider.Handled

	default:
		logger.Debug(
			"ignoring pull request event, action is not relevant",
			logfields.Event("pull_request_event_ignored"),
		)
		return provider.Ignored
	}

	if b.filter != nil {
		match, err := b.filter.Match(context.Background(), ev.JSON)
		if err != nil {
			logger.Error(
				"evaluating pull request filter failed, pull request is not processed",
				logfields.Event("pull_request_filter_failed"),
				zap.Stringer("filter", b.filter),
				zap.Error(err),
			)
			return provider.Ignored
		}

		if !match {
			logger.Debug(
				"pull request does not match filter, ignoring it",
				logfields.Event("pull_request_filter_mismatch"),
				zap.Stringer("filter", b.filter),
			)
			return provider.Ignored
		}
	}

	pr, err := pipeline.NewPullRequestFromEvent(event)
	if err != nil {
		logger.Warn(
			"ignoring pull request event, event is incomplete",
			logfields.Event("pull_request_event_invalid"),
			zap.Error(err),
		)
		return provider.Ignored
	}

	if !b.schedule(pr) {
		logger.Info(
			"pull request not processed, bot is terminating",
			logfields.Event("pull_request_rejected_shutdown"),
		)
		return provider.Unavailable
	}

	return provider.Accepted
}

func (b *Bot) schedule(pr *pipeline.PullRequest) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return false
	}

	b.routineWg.Add(1)

	go func() {
		if b.routineDeferFn != nil {
			defer b.routineDeferFn()
		}

		defer b.routineWg.Done()

		// errors are logged by the runner
		_ = b.runner.Run(context.Background(), pr)
	}()

	return true
}

func (b *Bot) clearRepositories(logger *zap.Logger, repos []*github.Repository) {
	for _, repo := range repos {
		logger.Info(
			"app access to repository removed, cancelling its processing",
			logfields.Event("repository_access_removed"),
			logfields.Repository(repo.GetFullName()),
			logfields.RepositoryID(repo.GetID()),
		)

		b.index.ClearForRepo(repo.GetID())
	}
}

// Stop cancels the processing of all pull requests and waits until the
// go-routines terminated.
// Events received afterwards are not processed.
func (b *Bot) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()

	b.logger.Debug("bot terminating", logfields.Event("bot_terminating"))

	b.index.Close()

	b.logger.Debug(
		"waiting for pull request processing routines to terminate",
		logfields.Event("bot_terminating"),
	)
	b.routineWg.Wait()

	b.logger.Info("bot terminated", logfields.Event("bot_terminated"))
}
