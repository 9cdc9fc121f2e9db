package githubclt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v59/github"
)

// CheckRunResult is the final state of a check run.
type CheckRunResult struct {
	Name string
	// Conclusion is one of the conclusion values the github API accepts,
	// e.g. success, failure, cancelled.
	Conclusion  string
	CompletedAt time.Time
	Title       string
	Summary     string
	Text        string
}

// CreateCheckRun creates a queued check run for the commit headSHA and
// returns its ID.
func (clt *Client) CreateCheckRun(ctx context.Context, owner, repo, name, headSHA string) (int64, error) {
	cr, _, err := clt.restClt.Checks.CreateCheckRun(ctx, owner, repo, github.CreateCheckRunOptions{
		Name:    name,
		HeadSHA: headSHA,
	})
	if err != nil {
		return 0, clt.transientErr(err)
	}

	if cr.GetID() == 0 {
		return 0, errors.New("github returned a check run without id")
	}

	return cr.GetID(), nil
}

type checkRunStartedReq struct {
	Name      string           `json:"name"`
	Status    string           `json:"status"`
	StartedAt github.Timestamp `json:"started_at"`
}

// MarkCheckRunInProgress sets the status of a check run to in_progress.
func (clt *Client) MarkCheckRunInProgress(ctx context.Context, owner, repo string, checkRunID int64, name string, startedAt time.Time) error {
	// github.UpdateCheckRunOptions does not support setting started_at
	req, err := clt.restClt.NewRequest(
		http.MethodPatch,
		fmt.Sprintf("repos/%v/%v/check-runs/%v", owner, repo, checkRunID),
		&checkRunStartedReq{
			Name:      name,
			Status:    "in_progress",
			StartedAt: github.Timestamp{Time: startedAt},
		},
	)
	if err != nil {
		return err
	}

	_, err = clt.restClt.Do(ctx, req, nil)
	return clt.transientErr(err)
}

// CompleteCheckRun marks a check run as completed.
func (clt *Client) CompleteCheckRun(ctx context.Context, owner, repo string, checkRunID int64, result *CheckRunResult) error {
	_, _, err := clt.restClt.Checks.UpdateCheckRun(ctx, owner, repo, checkRunID, github.UpdateCheckRunOptions{
		Name:        result.Name,
		Status:      github.String("completed"),
		Conclusion:  github.String(result.Conclusion),
		CompletedAt: &github.Timestamp{Time: result.CompletedAt},
		Output: &github.CheckRunOutput{
			Title:   github.String(result.Title),
			Summary: github.String(result.Summary),
			Text:    github.String(result.Text),
		},
	})

	return clt.transientErr(err)
}
