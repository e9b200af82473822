// Package github posts catalog-compiler run summaries as pull-request
// comments. Authentication mirrors the three ways a Wikimedia-style CI
// job is typically credentialed: a plain token, a base64-encoded
// service-credentials blob, or direct GitHub App keys.
package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

const (
	// CommentIdentifier marks comments owned by this tool so reruns
	// update the existing comment instead of piling up new ones.
	CommentIdentifier = "<!-- puppet-compiler-comment -->"
)

// Client is a GitHub API client for posting run-summary PR comments.
type Client struct {
	client *github.Client
	owner  string
	repo   string
}

// ClientConfig holds authentication configuration for GitHub.
type ClientConfig struct {
	// Token is a PAT or OAuth token.
	Token string

	// AppID, InstallationID and PrivateKey authenticate directly as a
	// GitHub App.
	AppID          string
	InstallationID string
	PrivateKey     []byte

	// Credentials is a base64-encoded JSON blob in the service-credentials
	// format used by the fleet's CI automation.
	Credentials string

	// Repository is required, format: owner/repo.
	Repository string
}

// serviceCredentials is the JSON structure used by the fleet's CI automation
// to hand out GitHub App credentials to jobs.
type serviceCredentials struct {
	AppAuth []struct {
		ID             string `json:"id"`
		InstallationID string `json:"installation_id"`
		PemFile        string `json:"pem_file"`
	} `json:"app_auth"`
	Owner string `json:"owner"`
}

// NewClient creates a GitHub client authenticated with a plain token.
func NewClient(token, repository string) (*Client, error) {
	return NewClientFromConfig(&ClientConfig{
		Token:      token,
		Repository: repository,
	})
}

// NewClientFromConfig creates a GitHub client from configuration. Auth
// method priority: token, then service credentials, then direct GitHub App
// keys.
func NewClientFromConfig(config *ClientConfig) (*Client, error) {
	parts := strings.Split(config.Repository, "/")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid repository format: %s (expected owner/repo)", config.Repository)
	}
	owner, repo := parts[0], parts[1]

	var httpClient *http.Client

	switch {
	case config.Token != "":
		ctx := context.Background()
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: config.Token})
		httpClient = oauth2.NewClient(ctx, ts)
	case config.Credentials != "":
		client, err := createClientFromServiceCredentials(config.Credentials)
		if err != nil {
			return nil, fmt.Errorf("failed to parse service credentials: %w", err)
		}
		httpClient = client
	case config.AppID != "" && config.InstallationID != "" && len(config.PrivateKey) > 0:
		client, err := createClientFromGitHubApp(config.AppID, config.InstallationID, config.PrivateKey)
		if err != nil {
			return nil, err
		}
		httpClient = client
	default:
		return nil, fmt.Errorf("no valid authentication provided: either token, credentials, or GitHub App credentials (appID, installationID, privateKey) required")
	}

	return &Client{
		client: github.NewClient(httpClient),
		owner:  owner,
		repo:   repo,
	}, nil
}

func createClientFromServiceCredentials(credentialsB64 string) (*http.Client, error) {
	credentialsJSON, err := base64.StdEncoding.DecodeString(credentialsB64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 credentials: %w", err)
	}

	var creds serviceCredentials
	if err := json.Unmarshal(credentialsJSON, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials JSON: %w", err)
	}

	if len(creds.AppAuth) == 0 {
		return nil, fmt.Errorf("no app_auth entries found in credentials")
	}

	appAuth := creds.AppAuth[0]
	if appAuth.ID == "" || appAuth.InstallationID == "" || appAuth.PemFile == "" {
		return nil, fmt.Errorf("incomplete app_auth credentials")
	}

	return createClientFromGitHubApp(appAuth.ID, appAuth.InstallationID, []byte(appAuth.PemFile))
}

func createClientFromGitHubApp(appID, installationID string, privateKey []byte) (*http.Client, error) {
	appIDInt, err := strconv.ParseInt(appID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid GitHub App ID: %w", err)
	}

	installationIDInt, err := strconv.ParseInt(installationID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid installation ID: %w", err)
	}

	itr, err := ghinstallation.New(http.DefaultTransport, appIDInt, installationIDInt, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub App transport: %w", err)
	}

	return &http.Client{Transport: itr}, nil
}

// PostComment posts or updates the run-summary comment on a PR. If a
// puppet-compiler comment already exists it is updated in place so a
// reviewer sees one comment across reruns.
func (c *Client) PostComment(ctx context.Context, prNumber int, body string) error {
	commentBody := CommentIdentifier + "\n\n" + body

	existingCommentID, err := c.findExistingComment(ctx, prNumber)
	if err != nil {
		return fmt.Errorf("failed to find existing comment: %w", err)
	}

	if existingCommentID != nil {
		comment := &github.IssueComment{Body: &commentBody}
		_, _, err := c.client.Issues.EditComment(ctx, c.owner, c.repo, *existingCommentID, comment)
		if err != nil {
			return fmt.Errorf("failed to update comment: %w", err)
		}
		return nil
	}

	comment := &github.IssueComment{Body: &commentBody}
	_, _, err = c.client.Issues.CreateComment(ctx, c.owner, c.repo, prNumber, comment)
	if err != nil {
		return fmt.Errorf("failed to create comment: %w", err)
	}

	return nil
}

func (c *Client) findExistingComment(ctx context.Context, prNumber int) (*int64, error) {
	opts := &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}

	for {
		comments, resp, err := c.client.Issues.ListComments(ctx, c.owner, c.repo, prNumber, opts)
		if err != nil {
			return nil, err
		}

		for _, comment := range comments {
			if comment.Body != nil && strings.HasPrefix(*comment.Body, CommentIdentifier) {
				return comment.ID, nil
			}
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return nil, nil
}

// DeleteComment deletes the run-summary comment from a PR, if present.
func (c *Client) DeleteComment(ctx context.Context, prNumber int) error {
	commentID, err := c.findExistingComment(ctx, prNumber)
	if err != nil {
		return fmt.Errorf("failed to find existing comment: %w", err)
	}

	if commentID == nil {
		return nil
	}

	_, err = c.client.Issues.DeleteComment(ctx, c.owner, c.repo, *commentID)
	if err != nil {
		return fmt.Errorf("failed to delete comment: %w", err)
	}

	return nil
}
