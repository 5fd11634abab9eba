package github

import (
	"regexp"
	"strings"

	"github.com/matzehuels/vpmlisting/pkg/errors"
)

// Regex patterns for GitHub resource validation.
var (
	// GitHub usernames/orgs: 1-39 alphanumeric or hyphen, not starting with hyphen
	validOwner = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]{0,38}$`)
	// GitHub repo names: 1-100 alphanumeric, hyphen, underscore, or dot
	validRepo = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,100}$`)
)

// RepoRef is a parsed "owner/name" repository reference.
type RepoRef struct {
	Owner string
	Name  string
}

func (r RepoRef) String() string { return r.Owner + "/" + r.Name }

// ValidateOwner validates a GitHub username or organization name.
func ValidateOwner(owner string) error {
	if owner == "" {
		return refError("owner", "required", "owner is required")
	}
	if !validOwner.MatchString(owner) {
		return refError("owner", "pattern", "must be 1-39 alphanumeric characters or hyphens, cannot start with hyphen")
	}
	return nil
}

// ValidateRepo validates a GitHub repository name.
func ValidateRepo(repo string) error {
	if repo == "" {
		return refError("name", "required", "repo is required")
	}
	if !validRepo.MatchString(repo) {
		return refError("name", "pattern", "must be 1-100 alphanumeric characters, hyphens, underscores, or dots")
	}
	return nil
}

// ParseRepoRef parses an "owner/repo" string and validates both parts.
// Failures carry VALIDATION_ERROR.
func ParseRepoRef(ref string) (RepoRef, error) {
	owner, repo, ok := strings.Cut(ref, "/")
	if !ok {
		return RepoRef{}, refError("", "pattern", "invalid repo reference "+ref+": use owner/repo")
	}
	if err := ValidateOwner(owner); err != nil {
		return RepoRef{}, err
	}
	if err := ValidateRepo(repo); err != nil {
		return RepoRef{}, err
	}
	return RepoRef{Owner: owner, Name: repo}, nil
}

func refError(field, constraint, detail string) error {
	return errors.NewValidation("repository reference", &errors.FieldError{
		Field:      field,
		Constraint: constraint,
		Detail:     detail,
	})
}
