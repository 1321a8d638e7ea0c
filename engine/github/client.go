package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v74/github"
	"golang.org/x/oauth2"
)

const pageSize = 100

var ErrNotConfigured = errors.New("github access is not configured")

type Option func(*options)

type options struct {
	baseURL    string
	httpClient *http.Client
}

// WithBaseURL points the client at a GitHub Enterprise or test server.
func WithBaseURL(u string) Option {
	return func(o *options) {
		o.baseURL = u
	}
}

// WithHTTPClient replaces the transport used when no token is set.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// Client reads repository summaries from the GitHub REST API.
type Client struct {
	api *gh.Client
}

// NewClient returns ErrNotConfigured when token is empty.
func NewClient(token string, opts ...Option) (*Client, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrNotConfigured
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	base := o.httpClient
	if base == nil {
		base = http.DefaultClient
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	api := gh.NewClient(oauth2.NewClient(ctx, ts))
	api.UserAgent = "agentrix"
	if o.baseURL != "" {
		u, err := url.Parse(strings.TrimSuffix(o.baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid github base url: %w", err)
		}
		api.BaseURL = u
	}
	return &Client{api: api}, nil
}

type User struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

type IssueSummary struct {
	Number   int      `json:"number"`
	Title    string   `json:"title"`
	HTMLURL  string   `json:"htmlUrl"`
	Labels   []string `json:"labels"`
	Assignee *User    `json:"assignee,omitempty"`
}

type PullSummary struct {
	Number  int      `json:"number"`
	Title   string   `json:"title"`
	HTMLURL string   `json:"htmlUrl"`
	Labels  []string `json:"labels"`
	User    User     `json:"user"`
}

type RepoSummary struct {
	OpenIssuesCount int            `json:"openIssuesCount"`
	OpenPRsCount    int            `json:"openPrsCount"`
	Issues          []IssueSummary `json:"issues"`
	PullRequests    []PullSummary  `json:"pullRequests"`
}

type IssueDetail struct {
	Number   int      `json:"number"`
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	HTMLURL  string   `json:"htmlUrl"`
	Labels   []string `json:"labels"`
	Assignee *User    `json:"assignee,omitempty"`
	User     User     `json:"user"`
	State    string   `json:"state"`
}

type PullDetail struct {
	Number  int      `json:"number"`
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	HTMLURL string   `json:"htmlUrl"`
	Labels  []string `json:"labels"`
	User    User     `json:"user"`
	State   string   `json:"state"`
}

// RepoSummary lists the most recently updated open issues and pull requests.
// Pull requests returned by the issues endpoint are left out of Issues.
func (c *Client) RepoSummary(ctx context.Context, owner, repo string) (RepoSummary, error) {
	issues, _, err := c.api.Issues.ListByRepo(ctx, owner, repo, &gh.IssueListByRepoOptions{
		State:       "open",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: gh.ListOptions{PerPage: pageSize},
	})
	if err != nil {
		return RepoSummary{}, fmt.Errorf("failed to list issues for %s/%s: %w", owner, repo, err)
	}
	pulls, _, err := c.api.PullRequests.List(ctx, owner, repo, &gh.PullRequestListOptions{
		State:       "open",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: gh.ListOptions{PerPage: pageSize},
	})
	if err != nil {
		return RepoSummary{}, fmt.Errorf("failed to list pull requests for %s/%s: %w", owner, repo, err)
	}
	summary := RepoSummary{Issues: []IssueSummary{}, PullRequests: make([]PullSummary, 0, len(pulls))}
	for _, issue := range issues {
		if issue.IsPullRequest() {
			continue
		}
		summary.Issues = append(summary.Issues, IssueSummary{
			Number:   issue.GetNumber(),
			Title:    issue.GetTitle(),
			HTMLURL:  issue.GetHTMLURL(),
			Labels:   labelNames(issue.Labels),
			Assignee: optionalUser(issue.Assignee),
		})
	}
	for _, pr := range pulls {
		summary.PullRequests = append(summary.PullRequests, PullSummary{
			Number:  pr.GetNumber(),
			Title:   pr.GetTitle(),
			HTMLURL: pr.GetHTMLURL(),
			Labels:  labelNames(pr.Labels),
			User:    toUser(pr.User),
		})
	}
	summary.OpenIssuesCount = len(summary.Issues)
	summary.OpenPRsCount = len(summary.PullRequests)
	return summary, nil
}

func (c *Client) IssueDetail(ctx context.Context, owner, repo string, number int) (IssueDetail, error) {
	issue, _, err := c.api.Issues.Get(ctx, owner, repo, number)
	if err != nil {
		return IssueDetail{}, fmt.Errorf("failed to fetch issue %s/%s#%d: %w", owner, repo, number, err)
	}
	return IssueDetail{
		Number:   issue.GetNumber(),
		Title:    issue.GetTitle(),
		Body:     issue.GetBody(),
		HTMLURL:  issue.GetHTMLURL(),
		Labels:   labelNames(issue.Labels),
		Assignee: optionalUser(issue.Assignee),
		User:     toUser(issue.User),
		State:    issue.GetState(),
	}, nil
}

func (c *Client) PullDetail(ctx context.Context, owner, repo string, number int) (PullDetail, error) {
	pr, _, err := c.api.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return PullDetail{}, fmt.Errorf("failed to fetch pull request %s/%s#%d: %w", owner, repo, number, err)
	}
	return PullDetail{
		Number:  pr.GetNumber(),
		Title:   pr.GetTitle(),
		Body:    pr.GetBody(),
		HTMLURL: pr.GetHTMLURL(),
		Labels:  labelNames(pr.Labels),
		User:    toUser(pr.User),
		State:   pr.GetState(),
	}, nil
}

// IsNotFound reports whether err is a GitHub 404.
func IsNotFound(err error) bool {
	var respErr *gh.ErrorResponse
	return errors.As(err, &respErr) && respErr.Response != nil && respErr.Response.StatusCode == http.StatusNotFound
}

func labelNames(labels []*gh.Label) []string {
	names := make([]string, 0, len(labels))
	for _, l := range labels {
		names = append(names, l.GetName())
	}
	return names
}

func toUser(u *gh.User) User {
	return User{Login: u.GetLogin(), AvatarURL: u.GetAvatarURL()}
}

func optionalUser(u *gh.User) *User {
	if u == nil {
		return nil
	}
	user := toUser(u)
	return &user
}
