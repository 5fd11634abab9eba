// Package pkg provides the libraries behind vpmlisting.
//
// # Overview
//
// vpmlisting builds a VPM package listing from the GitHub releases of a set
// of repositories. Each release that carries a package.json descriptor and
// the matching "{name}-{version}.zip" archive becomes one version record.
//
// # Architecture
//
// The data flow of one generation:
//
//	source.json ([vpm.Source])
//	         ↓
//	    [harvest] (batched, cursor-paginated GraphQL rounds)
//	         ↓
//	    [resolve] (descriptor → validation → archive → SHA-256, via [workqueue])
//	         ↓
//	    [listing] (assembly + validation)
//	         ↓
//	    [publish] (file, stdout, Redis)
//
// # Quick Start
//
//	src, _ := vpm.LoadSource("source.json")
//	l, err := listing.Generate(ctx, src, listing.Options{Concurrency: 8})
//	if err != nil {
//	    return err
//	}
//	return l.Write(os.Stdout)
//
// # Main Packages
//
//   - [vpm]: Source, Package and Listing documents
//   - [schema]: JSON Schema validation of those documents
//   - [httputil]: retrying HTTP fetcher with pluggable policies
//   - [workqueue]: bounded FIFO job runner with futures
//   - [integrations/github]: GitHub GraphQL client
//   - [harvest], [resolve], [listing]: the generation pipeline
//   - [publish]: listing destinations
//   - [errors]: structured error codes
//   - [observability]: hooks for metrics and progress
//
// [vpm]: https://pkg.go.dev/github.com/matzehuels/vpmlisting/pkg/vpm
// [schema]: https://pkg.go.dev/github.com/matzehuels/vpmlisting/pkg/schema
// [httputil]: https://pkg.go.dev/github.com/matzehuels/vpmlisting/pkg/httputil
// [workqueue]: https://pkg.go.dev/github.com/matzehuels/vpmlisting/pkg/workqueue
// [integrations/github]: https://pkg.go.dev/github.com/matzehuels/vpmlisting/pkg/integrations/github
// [harvest]: https://pkg.go.dev/github.com/matzehuels/vpmlisting/pkg/harvest
// [resolve]: https://pkg.go.dev/github.com/matzehuels/vpmlisting/pkg/resolve
// [listing]: https://pkg.go.dev/github.com/matzehuels/vpmlisting/pkg/listing
// [publish]: https://pkg.go.dev/github.com/matzehuels/vpmlisting/pkg/publish
// [errors]: https://pkg.go.dev/github.com/matzehuels/vpmlisting/pkg/errors
// [observability]: https://pkg.go.dev/github.com/matzehuels/vpmlisting/pkg/observability
// [vpm.Source]: https://pkg.go.dev/github.com/matzehuels/vpmlisting/pkg/vpm#Source
package pkg
