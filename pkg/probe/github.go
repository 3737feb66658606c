package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/m00npl/guardant/pkg/types"
)

// githubAPIBase is swapped out in tests
var githubAPIBase = "https://api.github.com"

var githubRepoPattern = regexp.MustCompile(`github\.com[:/]([^/]+)/([^/?#\s]+)`)

// GitHubChecker verifies repository reachability and derives a health score
// from update recency and open-issue pressure
type GitHubChecker struct{}

// NewGitHubChecker creates a new GitHub checker
func NewGitHubChecker() *GitHubChecker {
	return &GitHubChecker{}
}

type githubRepo struct {
	FullName        string    `json:"full_name"`
	UpdatedAt       time.Time `json:"updated_at"`
	PushedAt        time.Time `json:"pushed_at"`
	OpenIssuesCount int       `json:"open_issues_count"`
	StargazersCount int       `json:"stargazers_count"`
}

// Check performs the repository check
func (g *GitHubChecker) Check(ctx context.Context, svc *types.NestService) Result {
	start := time.Now()

	m := githubRepoPattern.FindStringSubmatch(svc.Target)
	if m == nil {
		return down(start, fmt.Sprintf("cannot extract owner/repo from %q", svc.Target))
	}
	owner, repo := m[1], m[2]

	// The repo page must be web-reachable before touching the API
	pageStatus, rt, err := doRequest(ctx, http.MethodHead, fmt.Sprintf("https://github.com/%s/%s", owner, repo))
	if err != nil {
		return failure(start, err)
	}
	if pageStatus == http.StatusNotFound {
		return down(start, fmt.Sprintf("repository %s/%s not found", owner, repo))
	}

	status, body, err := g.apiGet(ctx, svc, fmt.Sprintf("/repos/%s/%s", owner, repo))
	if err != nil {
		return failure(start, err)
	}
	switch status {
	case http.StatusNotFound:
		return down(start, fmt.Sprintf("repository %s/%s not found via API", owner, repo))
	case http.StatusForbidden:
		return up(start, "repository reachable, API rate limited", rt)
	}
	if status != http.StatusOK {
		return down(start, fmt.Sprintf("GitHub API returned HTTP %d", status))
	}

	var info githubRepo
	if err := json.Unmarshal(body, &info); err != nil {
		return down(start, fmt.Sprintf("bad API response: %v", err))
	}

	score := g.healthScore(&info)
	meta := map[string]string{
		"health_score": strconv.Itoa(score),
		"open_issues":  strconv.Itoa(info.OpenIssuesCount),
		"stars":        strconv.Itoa(info.StargazersCount),
	}

	// Secondary endpoints enrich metadata only; their failures never flip
	// the result
	for _, sub := range []string{"issues", "pulls", "releases/latest"} {
		if s, b, err := g.apiGet(ctx, svc, fmt.Sprintf("/repos/%s/%s/%s", owner, repo, sub)); err == nil && s == http.StatusOK {
			meta[metaKey(sub)] = summarize(sub, b)
		}
	}

	r := up(start, fmt.Sprintf("repository %s/%s healthy, score %d", owner, repo, score), rt)
	r.Metadata = meta
	return r
}

// Type returns the service type
func (g *GitHubChecker) Type() types.ServiceType {
	return types.ServiceTypeGitHub
}

func (g *GitHubChecker) apiGet(ctx context.Context, svc *types.NestService, path string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, githubAPIBase+path, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "GuardAnt-Monitor/1.0")
	if svc.GitHub != nil && svc.GitHub.Token != "" {
		req.Header.Set("Authorization", "Bearer "+svc.GitHub.Token)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return resp.StatusCode, body, err
}

// healthScore starts at 100 and subtracts for staleness and issue pressure
func (g *GitHubChecker) healthScore(info *githubRepo) int {
	score := 100

	updated := info.PushedAt
	if info.UpdatedAt.After(updated) {
		updated = info.UpdatedAt
	}
	age := time.Since(updated)
	switch {
	case age > 365*24*time.Hour:
		score -= 30
	case age > 180*24*time.Hour:
		score -= 15
	case age > 30*24*time.Hour:
		score -= 5
	}

	switch {
	case info.OpenIssuesCount > 100:
		score -= 10
	case info.OpenIssuesCount > 50:
		score -= 5
	}

	if score < 0 {
		score = 0
	}
	return score
}

func metaKey(sub string) string {
	switch sub {
	case "issues":
		return "issues_sampled"
	case "pulls":
		return "pulls_sampled"
	default:
		return "latest_release"
	}
}

func summarize(sub string, body []byte) string {
	if sub == "releases/latest" {
		var rel struct {
			TagName string `json:"tag_name"`
		}
		if json.Unmarshal(body, &rel) == nil && rel.TagName != "" {
			return rel.TagName
		}
		return "none"
	}
	var items []json.RawMessage
	if json.Unmarshal(body, &items) == nil {
		return strconv.Itoa(len(items))
	}
	return "0"
}
