package pipeline

import (
	"errors"
	"fmt"

	"github.com/google/go-github/v59/github"
	"go.uber.org/zap"

	"github.com/simplesurance/patchbot/internal/logfields"
)

// PullRequest contains the information about a pull request that is needed
// to process it.
type PullRequest struct {
	RepoID       int64
	RepoOwner    string
	RepoName     string
	RepoFullName string
	Number       int64

	HeadRepoID       int64
	HeadRepoFullName string
	HeadRef          string
	HeadSHA          string

	InstallationID int64
}

// NewPullRequestFromEvent returns the PullRequest of a pull_request webhook
// event.
func NewPullRequestFromEvent(ev *github.PullRequestEvent) (*PullRequest, error) {
	pr := ev.GetPullRequest()
	if pr == nil {
		return nil, errors.New("event has no pull_request field")
	}

	repo := ev.GetRepo()
	head := pr.GetHead()

	result := PullRequest{
		RepoID:           repo.GetID(),
		RepoOwner:        repo.GetOwner().GetLogin(),
		RepoName:         repo.GetName(),
		RepoFullName:     repo.GetFullName(),
		Number:           int64(pr.GetNumber()),
		HeadRepoID:       head.GetRepo().GetID(),
		HeadRepoFullName: head.GetRepo().GetFullName(),
		HeadRef:          head.GetRef(),
		HeadSHA:          head.GetSHA(),
		InstallationID:   ev.GetInstallation().GetID(),
	}

	if err := result.validate(); err != nil {
		return nil, err
	}

	return &result, nil
}

func (p *PullRequest) validate() error {
	switch {
	case p.RepoID == 0:
		return errors.New("repository id is missing")
	case p.RepoOwner == "" || p.RepoName == "":
		return errors.New("repository owner or name is missing")
	case p.Number <= 0:
		return fmt.Errorf("number is %d, must be >0", p.Number)
	case p.HeadRepoID == 0 || p.HeadRepoFullName == "":
		// the head repository is nil when the fork was deleted
		return errors.New("head repository is missing")
	case p.HeadRef == "":
		return errors.New("head ref is empty")
	case p.HeadSHA == "":
		return errors.New("head sha is empty")
	case p.InstallationID == 0:
		return errors.New("installation id is missing")
	}

	return nil
}

func (p *PullRequest) LogFields() []zap.Field {
	return []zap.Field{
		logfields.Repository(p.RepoFullName),
		logfields.RepositoryID(p.RepoID),
		logfields.PullRequest(int(p.Number)),
		logfields.Branch(p.HeadRef),
		logfields.Commit(p.HeadSHA),
		logfields.InstallationID(p.InstallationID),
	}
}
