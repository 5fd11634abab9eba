package vpm

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Source is the listing configuration: who publishes the listing and which
// repositories feed it.
type Source struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	URL         string          `json:"url"`
	Author      SourceAuthor    `json:"author"`
	GitHubRepos []string        `json:"githubRepos,omitempty"`
	Packages    []SourcePackage `json:"packages,omitempty"`

	// Extra holds presentation keys (description, infoLink, bannerUrl, ...)
	// that do not affect generation.
	Extra map[string]any `json:"-"`
}

// SourceAuthor identifies the listing maintainer.
type SourceAuthor struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	URL   string `json:"url,omitempty"`
}

// SourcePackage is an inline package reference with explicit release URLs.
type SourcePackage struct {
	Name     string   `json:"name"`
	Releases []string `json:"releases"`
}

type sourceFields Source

var sourceKeys = jsonKeys(sourceFields{})

// UnmarshalJSON decodes known keys into fields and the rest into Extra.
func (s *Source) UnmarshalJSON(data []byte) error {
	var fields sourceFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	_, extra, err := splitKeys(data, sourceKeys)
	if err != nil {
		return err
	}
	fields.Extra = extra
	*s = Source(fields)
	return nil
}

// MarshalJSON writes the known fields followed by Extra.
func (s Source) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(sourceFields(s), sourceKeys, nil, s.Extra)
}

// ReadSource decodes a Source document from r.
func ReadSource(r io.Reader) (*Source, error) {
	var src Source
	if err := json.NewDecoder(r).Decode(&src); err != nil {
		return nil, fmt.Errorf("decode source: %w", err)
	}
	return &src, nil
}

// LoadSource reads a Source document from a file.
func LoadSource(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadSource(f)
}
