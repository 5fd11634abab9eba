package vpm

import (
	"encoding/json"
	"io"
	"slices"
	"sort"

	"github.com/Masterminds/semver/v3"
)

// Listing is the generated repository index consumed by package managers.
type Listing struct {
	ID       string                     `json:"id"`
	Name     string                     `json:"name"`
	Author   string                     `json:"author"`
	URL      string                     `json:"url"`
	Packages map[string]PackageVersions `json:"packages"`
}

// PackageVersions holds every published version of one package, keyed by
// version string.
type PackageVersions struct {
	Versions map[string]*Package `json:"versions"`
}

// NewListing returns an empty listing carrying the identity of src.
func NewListing(src *Source) *Listing {
	return &Listing{
		ID:       src.ID,
		Name:     src.Name,
		Author:   src.Author.Name,
		URL:      src.URL,
		Packages: make(map[string]PackageVersions),
	}
}

// PackageIDs returns the package identifiers in lexical order.
func (l *Listing) PackageIDs() []string {
	ids := make([]string, 0, len(l.Packages))
	for id := range l.Packages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// VersionCount returns the total number of records in the listing.
func (l *Listing) VersionCount() int {
	n := 0
	for _, pv := range l.Packages {
		n += len(pv.Versions)
	}
	return n
}

// Sorted returns the version keys ordered newest first. Keys that do not
// parse as semantic versions sort after all valid ones, lexically.
func (pv PackageVersions) Sorted() []string {
	type entry struct {
		key string
		ver *semver.Version
	}
	entries := make([]entry, 0, len(pv.Versions))
	for k := range pv.Versions {
		v, _ := semver.NewVersion(k)
		entries = append(entries, entry{key: k, ver: v})
	}
	slices.SortFunc(entries, func(a, b entry) int {
		switch {
		case a.ver != nil && b.ver != nil:
			if c := b.ver.Compare(a.ver); c != 0 {
				return c
			}
		case a.ver != nil:
			return -1
		case b.ver != nil:
			return 1
		}
		if a.key < b.key {
			return -1
		}
		if a.key > b.key {
			return 1
		}
		return 0
	})
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.key
	}
	return keys
}

// Latest returns the newest record, or nil when there are none.
func (pv PackageVersions) Latest() *Package {
	keys := pv.Sorted()
	if len(keys) == 0 {
		return nil
	}
	return pv.Versions[keys[0]]
}

// Write encodes the listing as indented JSON.
func (l *Listing) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(l)
}
