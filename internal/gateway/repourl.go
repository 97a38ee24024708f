package gateway

import (
	"regexp"
	"strings"
)

var (
	githubURLPattern = regexp.MustCompile(`^(?:[A-Za-z+]+://)?(?:[^@/]+@)?(?i:(?:www\.)?github\.com)(?:(?::\d+)?/+|:/*)([^/]+)/([^/?#]+)`)
	shorthandPattern = regexp.MustCompile(`^(?:github:)?([A-Za-z0-9][A-Za-z0-9-]*)/([A-Za-z0-9._-]+)(?:#.*)?$`)
)

// NormalizeRepoURL converts the free-form repository URL of a package document to
// https://github.com/<owner>/<repo>. It returns "" when raw does not point at a GitHub
// repository.
func NormalizeRepoURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	var owner, repo string
	if m := githubURLPattern.FindStringSubmatch(s); m != nil {
		owner, repo = m[1], m[2]
	} else if m := shorthandPattern.FindStringSubmatch(s); m != nil {
		owner, repo = m[1], m[2]
	} else {
		return ""
	}

	repo = strings.TrimSuffix(repo, ".git")
	if owner == "" || repo == "" || repo == "." || repo == ".." {
		return ""
	}
	return "https://github.com/" + owner + "/" + repo
}

// OwnerRepo splits a normalized repository URL into its last two path segments.
func OwnerRepo(repoURL string) (owner, repo string, ok bool) {
	parts := strings.Split(strings.TrimRight(repoURL, "/"), "/")
	if len(parts) < 2 {
		return "", "", false
	}
	owner, repo = parts[len(parts)-2], parts[len(parts)-1]
	if owner == "" || repo == "" {
		return "", "", false
	}
	return owner, repo, true
}
