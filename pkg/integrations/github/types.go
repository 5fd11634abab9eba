package github

import (
	"encoding/json"
	"strings"
)

// Release is one published release of a repository.
type Release struct {
	Name    string  `json:"name"`
	TagName string  `json:"tagName"`
	Assets  []Asset `json:"assets"`

	// AssetsTruncated is set when the release has more assets than were
	// selected; Asset may then miss files that exist.
	AssetsTruncated bool `json:"assetsTruncated,omitempty"`
}

// Asset is a file attached to a release.
type Asset struct {
	Name        string `json:"name"`
	DownloadURL string `json:"downloadUrl"`
}

// Asset returns the first asset named exactly name.
func (r Release) Asset(name string) (Asset, bool) {
	for _, a := range r.Assets {
		if a.Name == name {
			return a, true
		}
	}
	return Asset{}, false
}

// Label returns the release name, or the tag when the release is unnamed.
func (r Release) Label() string {
	if r.Name != "" {
		return r.Name
	}
	return r.TagName
}

// Response is a decoded GraphQL response. Data holds each top-level field
// (usually an alias) as raw JSON; a field the server could not resolve is
// present with the literal value null.
type Response struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []GraphQLError             `json:"errors,omitempty"`
}

// IsNull reports whether field is missing from Data or explicitly null.
func (r *Response) IsNull(field string) bool {
	raw, ok := r.Data[field]
	return !ok || string(raw) == "null"
}

// ErrorsFor returns the errors whose path starts at field.
func (r *Response) ErrorsFor(field string) []GraphQLError {
	var out []GraphQLError
	for _, e := range r.Errors {
		if e.Field() == field {
			out = append(out, e)
		}
	}
	return out
}

// GraphQLError is one entry of a GraphQL "errors" array.
type GraphQLError struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
	Path    []any  `json:"path,omitempty"`
}

func (e GraphQLError) Error() string {
	if e.Type == "" {
		return e.Message
	}
	return e.Type + ": " + e.Message
}

// Field returns the first path element, which is the alias of the failing
// top-level field, or "" when the error has no path.
func (e GraphQLError) Field() string {
	if len(e.Path) == 0 {
		return ""
	}
	s, _ := e.Path[0].(string)
	return s
}

// NotFound reports whether the error says the object does not exist.
func (e GraphQLError) NotFound() bool {
	return e.Type == "NOT_FOUND"
}

func joinErrors(errs []GraphQLError) string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// PageInfo is the GraphQL connection cursor state.
type PageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

// ReleasePage is one page of a repository's releases.
type ReleasePage struct {
	Releases []Release
	PageInfo PageInfo
}

type repositoryNode struct {
	Releases struct {
		Nodes    []releaseNode `json:"nodes"`
		PageInfo PageInfo      `json:"pageInfo"`
	} `json:"releases"`
}

type releaseNode struct {
	Name          string `json:"name"`
	TagName       string `json:"tagName"`
	ReleaseAssets struct {
		Nodes    []Asset  `json:"nodes"`
		PageInfo PageInfo `json:"pageInfo"`
	} `json:"releaseAssets"`
}

// DecodeReleasePage decodes a repository object selected with
//
//	releases(...) {
//	  nodes {
//	    name tagName
//	    releaseAssets(first: N) { nodes { name downloadUrl } pageInfo { hasNextPage } }
//	  }
//	  pageInfo { hasNextPage endCursor }
//	}
func DecodeReleasePage(raw json.RawMessage) (*ReleasePage, error) {
	var node repositoryNode
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, err
	}
	page := &ReleasePage{
		Releases: make([]Release, 0, len(node.Releases.Nodes)),
		PageInfo: node.Releases.PageInfo,
	}
	for _, n := range node.Releases.Nodes {
		page.Releases = append(page.Releases, Release{
			Name:    n.Name,
			TagName: n.TagName,
			Assets:  n.ReleaseAssets.Nodes,

			AssetsTruncated: n.ReleaseAssets.PageInfo.HasNextPage,
		})
	}
	return page, nil
}
