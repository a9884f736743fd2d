package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"task-marketplace-api/utils"
)

// IssueTracker is the issue-annotation capability the orchestrator runs
// against. All mutations are best-effort from the pipeline's point of view.
type IssueTracker interface {
	AddBountyLabelAndComment(ctx context.Context, installationID, repo string, issueNumber int, labelName, message string) (int64, error)
	RemoveBountyLabelAndDeleteComment(ctx context.Context, installationID, repo string, issueNumber int, commentID int64, labelName string) error
	GetDefaultBranch(ctx context.Context, installationID, repo string) (string, error)
}

// GitHubAppClient authenticates as a GitHub App: a short-lived RS256 JWT
// mints per-installation access tokens, cached until shortly before expiry.
// Tracker calls tolerate more retries than ledger calls since every caller
// treats them as non-terminal.
type GitHubAppClient struct {
	AppID         string
	privateKey    *rsa.PrivateKey
	webhookSecret string
	BaseURL       string
	HTTPClient    *http.Client

	mu     sync.Mutex
	tokens map[string]installationToken
}

type installationToken struct {
	value     string
	expiresAt time.Time
}

var trackerRetry = utils.RetryOptions{
	MaxRetries:        4,
	BaseDelay:         time.Second,
	Timeout:           15 * time.Second,
	UseCircuitBreaker: true,
}

func NewGitHubAppClient(appID, privateKeyPEM, webhookSecret string) (*GitHubAppClient, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("failed to parse GitHub App private key: %w", err)
	}
	return &GitHubAppClient{
		AppID:         appID,
		privateKey:    key,
		webhookSecret: webhookSecret,
		BaseURL:       "https://api.github.com",
		HTTPClient: &http.Client{
			Timeout: 20 * time.Second,
		},
		tokens: map[string]installationToken{},
	}, nil
}

// appJWT signs the App-level JWT. iat is backdated 60s against clock skew.
func (c *GitHubAppClient) appJWT() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    c.AppID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(c.privateKey)
}

func (c *GitHubAppClient) installationTokenFor(ctx context.Context, installationID string) (string, error) {
	c.mu.Lock()
	if tok, ok := c.tokens[installationID]; ok && time.Until(tok.expiresAt) > time.Minute {
		c.mu.Unlock()
		return tok.value, nil
	}
	c.mu.Unlock()

	appToken, err := c.appJWT()
	if err != nil {
		return "", err
	}

	var out struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	path := fmt.Sprintf("/app/installations/%s/access_tokens", installationID)
	if err := c.do(ctx, "POST", path, "Bearer "+appToken, nil, &out); err != nil {
		return "", fmt.Errorf("failed to mint installation token: %w", err)
	}

	c.mu.Lock()
	c.tokens[installationID] = installationToken{value: out.Token, expiresAt: out.ExpiresAt}
	c.mu.Unlock()
	return out.Token, nil
}

// AddBountyLabelAndComment labels the issue and posts the bounty comment,
// returning the comment id for later cleanup.
func (c *GitHubAppClient) AddBountyLabelAndComment(ctx context.Context, installationID, repo string, issueNumber int, labelName, message string) (int64, error) {
	return utils.ExecuteWithRetry(ctx, "github.add_bounty_annotation", func(ctx context.Context) (int64, error) {
		token, err := c.installationTokenFor(ctx, installationID)
		if err != nil {
			return 0, err
		}
		auth := "token " + token

		labelPath := fmt.Sprintf("/repos/%s/issues/%d/labels", repo, issueNumber)
		if err := c.do(ctx, "POST", labelPath, auth, map[string]any{"labels": []string{labelName}}, nil); err != nil {
			return 0, fmt.Errorf("failed to add bounty label: %w", err)
		}

		var comment struct {
			ID int64 `json:"id"`
		}
		commentPath := fmt.Sprintf("/repos/%s/issues/%d/comments", repo, issueNumber)
		if err := c.do(ctx, "POST", commentPath, auth, map[string]string{"body": message}, &comment); err != nil {
			return 0, fmt.Errorf("failed to post bounty comment: %w", err)
		}
		return comment.ID, nil
	}, trackerRetry)
}

// RemoveBountyLabelAndDeleteComment undoes the bounty annotation on delete.
// A 404 on either half means it was already gone, which is fine.
func (c *GitHubAppClient) RemoveBountyLabelAndDeleteComment(ctx context.Context, installationID, repo string, issueNumber int, commentID int64, labelName string) error {
	_, err := utils.ExecuteWithRetry(ctx, "github.remove_bounty_annotation", func(ctx context.Context) (struct{}, error) {
		token, err := c.installationTokenFor(ctx, installationID)
		if err != nil {
			return struct{}{}, err
		}
		auth := "token " + token

		labelPath := fmt.Sprintf("/repos/%s/issues/%d/labels/%s", repo, issueNumber, labelName)
		if err := c.do(ctx, "DELETE", labelPath, auth, nil, nil); err != nil && !isNotFoundStatus(err) {
			return struct{}{}, fmt.Errorf("failed to remove bounty label: %w", err)
		}

		if commentID != 0 {
			commentPath := fmt.Sprintf("/repos/%s/issues/comments/%d", repo, commentID)
			if err := c.do(ctx, "DELETE", commentPath, auth, nil, nil); err != nil && !isNotFoundStatus(err) {
				return struct{}{}, fmt.Errorf("failed to delete bounty comment: %w", err)
			}
		}
		return struct{}{}, nil
	}, trackerRetry)
	return err
}

func (c *GitHubAppClient) GetDefaultBranch(ctx context.Context, installationID, repo string) (string, error) {
	return utils.ExecuteWithRetry(ctx, "github.get_default_branch", func(ctx context.Context) (string, error) {
		token, err := c.installationTokenFor(ctx, installationID)
		if err != nil {
			return "", err
		}
		var out struct {
			DefaultBranch string `json:"default_branch"`
		}
		if err := c.do(ctx, "GET", "/repos/"+repo, "token "+token, nil, &out); err != nil {
			return "", err
		}
		return out.DefaultBranch, nil
	}, trackerRetry)
}

// VerifyWebhookSignature checks the X-Hub-Signature-256 header against the
// configured webhook secret using a constant-time compare.
func (c *GitHubAppClient) VerifyWebhookSignature(payload []byte, sigHeader string) bool {
	sig, ok := strings.CutPrefix(sigHeader, "sha256=")
	if !ok {
		return false
	}
	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}

func (c *GitHubAppClient) do(ctx context.Context, method, path, auth string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", auth)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call GitHub: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		if resp.Header.Get("X-RateLimit-Remaining") == "0" || resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := 10 * time.Second
			if v := resp.Header.Get("Retry-After"); v != "" {
				if secs, err := strconv.Atoi(v); err == nil {
					retryAfter = time.Duration(secs) * time.Second
				}
			}
			return &RateLimitError{Op: "github", RetryAfter: retryAfter}
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &ExternalError{
			Op:        "github",
			Status:    resp.StatusCode,
			Body:      string(excerpt),
			Retriable: resp.StatusCode >= 500,
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode GitHub response: %w", err)
		}
	}
	return nil
}

func isNotFoundStatus(err error) bool {
	var ext *ExternalError
	return errors.As(err, &ext) && ext.Status == http.StatusNotFound
}
