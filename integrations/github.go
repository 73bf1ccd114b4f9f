package integrations

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chxlky/boardsync/config"
	"github.com/google/go-github/v61/github"
)

// Unit is one open relay issue carrying a serialized event in its body.
type Unit struct {
	Number    int
	Key       string
	Body      string
	Labels    []string
	UpdatedAt time.Time
}

func (u Unit) HasLabel(name string) bool {
	for _, l := range u.Labels {
		if l == name {
			return true
		}
	}
	return false
}

// GitHubRelay lists, acknowledges and dead-letters relay issues in one repository.
type GitHubRelay struct {
	client          *github.Client
	owner           string
	repo            string
	label           string
	deadLetterLabel string
	pageSize        int
}

// NewGitHubClient builds an authenticated client for api.github.com or, when
// cfg.BaseURL is set, a GitHub Enterprise host.
func NewGitHubClient(cfg config.GitHubConfig, httpClient *http.Client) (*github.Client, error) {
	client := github.NewClient(httpClient).WithAuthToken(cfg.Token)
	if cfg.BaseURL == "" {
		return client, nil
	}
	client, err := client.WithEnterpriseURLs(cfg.BaseURL, cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid github.base_url: %w", err)
	}
	return client, nil
}

func NewGitHubRelay(client *github.Client, gh config.GitHubConfig, sync config.SyncConfig) *GitHubRelay {
	pageSize := sync.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 50
	}
	return &GitHubRelay{
		client:          client,
		owner:           gh.Owner,
		repo:            gh.Repo,
		label:           sync.Label,
		deadLetterLabel: sync.DeadLetterLabel,
		pageSize:        pageSize,
	}
}

func (r *GitHubRelay) unitKey(number int) string {
	return fmt.Sprintf("github:%s/%s#%d", r.owner, r.repo, number)
}

// DeadLetterLabel is the label that parks a unit for manual attention.
func (r *GitHubRelay) DeadLetterLabel() string {
	return r.deadLetterLabel
}

// ListPending returns open issues carrying the sync label, most recently
// updated first. Pull requests share the issues API and are dropped.
func (r *GitHubRelay) ListPending(ctx context.Context) ([]Unit, error) {
	opts := &github.IssueListByRepoOptions{
		State:     "open",
		Labels:    []string{r.label},
		Sort:      "updated",
		Direction: "desc",
		ListOptions: github.ListOptions{
			PerPage: r.pageSize,
		},
	}
	issues, _, err := r.client.Issues.ListByRepo(ctx, r.owner, r.repo, opts)
	if err != nil {
		return nil, fmt.Errorf("listing %s/%s issues: %w", r.owner, r.repo, err)
	}

	units := make([]Unit, 0, len(issues))
	for _, issue := range issues {
		if issue.IsPullRequest() {
			continue
		}
		labels := make([]string, 0, len(issue.Labels))
		for _, l := range issue.Labels {
			labels = append(labels, l.GetName())
		}
		units = append(units, Unit{
			Number:    issue.GetNumber(),
			Key:       r.unitKey(issue.GetNumber()),
			Body:      issue.GetBody(),
			Labels:    labels,
			UpdatedAt: issue.GetUpdatedAt().Time,
		})
	}
	return units, nil
}

// Close acknowledges a unit so it drops out of the next listing.
func (r *GitHubRelay) Close(ctx context.Context, number int) error {
	req := &github.IssueRequest{
		State:       github.String("closed"),
		StateReason: github.String("completed"),
	}
	if _, _, err := r.client.Issues.Edit(ctx, r.owner, r.repo, number, req); err != nil {
		return fmt.Errorf("closing issue #%d: %w", number, err)
	}
	return nil
}

// DeadLetterReport describes why a unit is being dead-lettered.
type DeadLetterReport struct {
	Attempts  int
	LastError string
	// Applied is set when the intake accepted the event and only the
	// acknowledgement kept failing.
	Applied bool
}

func (r *GitHubRelay) deadLetterComment(rep DeadLetterReport) string {
	var b strings.Builder
	if rep.Applied {
		fmt.Fprintf(&b, "The event in this issue was applied, but closing the issue failed %d times.\n\n", rep.Attempts)
	} else {
		fmt.Fprintf(&b, "Sync gave up after %d failed attempts.\n\n", rep.Attempts)
	}
	fmt.Fprintf(&b, "Last error:\n```\n%s\n```\n\n", rep.LastError)
	if rep.Applied {
		b.WriteString("Nothing is left to apply; close this issue by hand.")
	} else {
		fmt.Fprintf(&b, "To retry, remove the `%s` label and add `%s` back.", r.deadLetterLabel, r.label)
	}
	return b.String()
}

// DeadLetter swaps the sync label for the dead-letter label and leaves a
// comment with the last error. The unit stays open but no longer takes a slot
// in the pending listing.
func (r *GitHubRelay) DeadLetter(ctx context.Context, number int, rep DeadLetterReport) error {
	if _, _, err := r.client.Issues.AddLabelsToIssue(ctx, r.owner, r.repo, number, []string{r.deadLetterLabel}); err != nil {
		return fmt.Errorf("labelling issue #%d: %w", number, err)
	}
	comment := &github.IssueComment{Body: github.String(r.deadLetterComment(rep))}
	if _, _, err := r.client.Issues.CreateComment(ctx, r.owner, r.repo, number, comment); err != nil {
		return fmt.Errorf("commenting on issue #%d: %w", number, err)
	}
	resp, err := r.client.Issues.RemoveLabelForIssue(ctx, r.owner, r.repo, number, r.label)
	if err != nil && (resp == nil || resp.StatusCode != http.StatusNotFound) {
		return fmt.Errorf("unlabelling issue #%d: %w", number, err)
	}
	return nil
}
