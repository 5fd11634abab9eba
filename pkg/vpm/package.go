// Package vpm defines the documents a listing generator reads and writes:
// the [Source] configuration, the [Package] descriptor published with every
// release, and the aggregated [Listing].
//
// All types round-trip through JSON. Keys the model does not know about are
// kept in an Extra map and written back out unchanged, because package
// descriptors in the wild carry vendor fields ("type", "samples", ...) that
// clients still expect to see in the listing.
package vpm

import (
	"encoding/json"
	"fmt"
	"maps"
)

// DescriptorName is the release asset that holds a package descriptor.
const DescriptorName = "package.json"

// Package is a package descriptor as published in a release's package.json.
//
// The same type is used for the strict records stored in a [Listing]; a
// strict record additionally has URL set to the archive download link and,
// when hashing is enabled, ZipSHA256 set to the archive digest.
type Package struct {
	Name             string            `json:"name"`
	DisplayName      string            `json:"displayName"`
	Version          string            `json:"version"`
	Description      string            `json:"description,omitempty"`
	ChangelogURL     string            `json:"changelogUrl,omitempty"`
	DocumentationURL string            `json:"documentationUrl,omitempty"`
	Author           *PackageAuthor    `json:"author,omitempty"`
	License          string            `json:"license,omitempty"`
	ZipSHA256        string            `json:"zipSHA256,omitempty"`
	URL              string            `json:"url,omitempty"`
	Unity            string            `json:"unity,omitempty"`
	VPMDependencies  map[string]string `json:"vpmDependencies,omitempty"`
	LegacyFolders    map[string]string `json:"legacyFolders,omitempty"`
	LegacyFiles      map[string]string `json:"legacyFiles,omitempty"`
	LegacyPackages   []string          `json:"legacyPackages,omitempty"`

	// Extra holds every key not covered by the fields above.
	Extra map[string]any `json:"-"`

	// present records the known keys the descriptor carried with an empty
	// value, such as "license": "" or "vpmDependencies": {}, so they are
	// written back instead of being dropped by omitempty.
	present keySet
}

// PackageAuthor is the optional author block of a descriptor.
type PackageAuthor struct {
	Name  string `json:"name,omitempty"`
	URL   string `json:"url,omitempty"`
	Email string `json:"email,omitempty"`
}

// ArchiveName returns the file name the release archive must have:
// "{name}-{version}.zip".
func (p *Package) ArchiveName() string {
	return fmt.Sprintf("%s-%s.zip", p.Name, p.Version)
}

// packageFields is Package without methods, so encoding/json does not recurse.
type packageFields Package

// UnmarshalJSON decodes known keys into fields and the rest into Extra.
func (p *Package) UnmarshalJSON(data []byte) error {
	var fields packageFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	present, extra, err := splitKeys(data, packageKeys)
	if err != nil {
		return err
	}
	fields.Extra = extra
	fields.present = emptyKeys(fields, packageKeys, present)
	*p = Package(fields)
	return nil
}

// MarshalJSON writes the known fields followed by Extra.
// Known fields win when Extra repeats one of their keys. Keys the package was
// decoded with are written even when empty.
func (p Package) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(packageFields(p), packageKeys, p.present, p.Extra)
}

// Fields returns the record as a generic JSON object.
func (p *Package) Fields() (map[string]any, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// WithFields returns a copy of p with overlay merged on top. Overlay keys
// take precedence; a known key such as "url" replaces the typed field, an
// unknown key lands in Extra.
func (p *Package) WithFields(overlay map[string]any) (*Package, error) {
	if len(overlay) == 0 {
		cp := *p
		cp.Extra = maps.Clone(p.Extra)
		return &cp, nil
	}
	base, err := p.Fields()
	if err != nil {
		return nil, err
	}
	maps.Copy(base, overlay)

	data, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var merged Package
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, fmt.Errorf("merge fields into %s@%s: %w", p.Name, p.Version, err)
	}
	return &merged, nil
}

var packageKeys = jsonKeys(packageFields{})
