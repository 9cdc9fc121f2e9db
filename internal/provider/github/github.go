package github

import (
	"net/http"

	"github.com/google/go-github/v59/github"
	"go.uber.org/zap"

	"github.com/simplesurance/patchbot/internal/logfields"
	"github.com/simplesurance/patchbot/internal/provider"
)

const loggerName = "github-event-provider"

// EventHandler processes github webhook events.
type EventHandler interface {
	HandleEvent(*Event) provider.Result
}

// Provider listens for github-webhook http-requests at a http-server handler,
// validates and converts the requests to Events and passes them to an
// EventHandler.
type Provider struct {
	logging       *zap.Logger
	webhookSecret []byte
	handler       EventHandler
}

type option func(*Provider)

func WithPayloadSecret(secret string) option {
	return func(p *Provider) {
		p.webhookSecret = []byte(secret)
	}
}

func New(handler EventHandler, opts ...option) *Provider {
	p := Provider{
		handler: handler,
	}

	for _, o := range opts {
		o(&p)
	}

	if p.logging == nil {
		p.logging = zap.L().Named(loggerName)
	}

	return &p
}

func (p *Provider) HTTPHandler(resp http.ResponseWriter, req *http.Request) {
	deliveryID := github.DeliveryID(req)
	hookType := github.WebHookType(req)

	logFields := []zap.Field{
		logfields.EventProvider("github"),
		logfields.DeliveryID(deliveryID),
		zap.String("github.webhook_type", hookType),
	}

	logger := p.logging.With(logFields...)

	payload, err := github.ValidatePayload(req, p.webhookSecret)
	if err != nil {
		logger.Info(
			"received invalid http request, payload validation failed",
			logfields.Event("github_http_request_validation_failed"),
			zap.Error(err),
		)
		http.Error(resp, err.Error(), http.StatusUnauthorized)
		return
	}

	logger.Debug(
		"received http request",
		logfields.Event("github_event_received"),
		zap.ByteString("http_body", payload),
	)

	if github.EventForType(hookType) == nil {
		logger.Info(
			"ignoring event, event type is unknown",
			logfields.Event("github_unknown_event_received"),
		)
		http.Error(resp, "unsupported event type", http.StatusNotImplemented)
		return
	}

	event, err := github.ParseWebHook(hookType, payload)
	if err != nil {
		logger.Info(
			"received invalid http request, parsing failed",
			logfields.Event("github_event_parsing_failed"),
			zap.Error(err),
		)
		http.Error(resp, err.Error(), http.StatusBadRequest)
		return
	}

	logFields = append(logFields, eventLogFields(event)...)

	result := p.handler.HandleEvent(&Event{
		DeliveryID: deliveryID,
		Type:       hookType,
		JSON:       payload,
		Event:      event,
		LogFields:  logFields,
	})

	logger.Debug(
		"event processed",
		logfields.Event("github_event_processed"),
		zap.Stringer("result", result),
	)

	switch result {
	case provider.Accepted:
		resp.WriteHeader(http.StatusAccepted)

	case provider.Handled, provider.Ignored:
		resp.WriteHeader(http.StatusNoContent)

	case provider.Unsupported:
		http.Error(resp, "unsupported event type", http.StatusNotImplemented)

	case provider.Unavailable:
		http.Error(resp, "service is terminating", http.StatusServiceUnavailable)

	default:
		logger.Error(
			"event handler returned an undefined result",
			logfields.Event("github_event_result_undefined"),
			zap.Stringer("result", result),
		)
		http.Error(resp, "internal error", http.StatusInternalServerError)
	}
}

func eventLogFields(event any) []zap.Field {
	var fields []zap.Field

	type repoGetter interface {
		GetRepo() *github.Repository
	}

	if ev, ok := event.(repoGetter); ok {
		if repo := ev.GetRepo(); repo != nil {
			fields = append(fields,
				logfields.Repository(repo.GetFullName()),
				logfields.RepositoryID(repo.GetID()),
			)
		}
	}

	switch ev := event.(type) {
	case *github.PullRequestEvent:
		pr := ev.GetPullRequest()
		fields = append(
			fields,
			zap.String("github.action", ev.GetAction()),
			logfields.PullRequest(pr.GetNumber()),
			logfields.Commit(pr.GetHead().GetSHA()),
			logfields.Branch(pr.GetHead().GetRef()),
		)

	case *github.WorkflowRunEvent:
		fields = append(
			fields,
			zap.String("github.action", ev.GetAction()),
			logfields.WorkflowRunID(ev.GetWorkflowRun().GetID()),
			logfields.WorkflowName(ev.GetWorkflowRun().GetName()),
		)

	case *github.InstallationEvent:
		fields = append(
			fields,
			zap.String("github.action", ev.GetAction()),
			logfields.InstallationID(ev.GetInstallation().GetID()),
		)

	case *github.InstallationRepositoriesEvent:
		fields = append(
			fields,
			zap.String("github.action", ev.GetAction()),
			logfields.InstallationID(ev.GetInstallation().GetID()),
		)
	}

	return fields
}
