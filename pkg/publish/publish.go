// Package publish writes a generated listing to its destinations.
//
// Implementations are provided for different backends:
//   - file: an indented JSON file, replaced atomically
//   - writer: any io.Writer, such as stdout
//   - redis: a single key holding the JSON document, for listings served by
//     several instances
//
// # Usage
//
//	pub := publish.Multi(
//	    publish.NewFile("dist/index.json"),
//	    redisPub,
//	)
//	defer pub.Close()
//	if ld, ok := pub.(publish.Loader); ok {
//	    previous, _ := ld.Load(ctx)
//	}
//	if err := pub.Publish(ctx, listing); err != nil {
//	    return err
//	}
package publish

import (
	"bytes"
	"context"
	"io"

	"github.com/matzehuels/vpmlisting/pkg/errors"
	"github.com/matzehuels/vpmlisting/pkg/vpm"
)

// Publisher stores a finished listing.
type Publisher interface {
	// Publish writes l, replacing any listing previously published.
	Publish(ctx context.Context, l *vpm.Listing) error

	// Close releases resources held by the publisher.
	Close() error
}

// Loader is implemented by publishers that can read back what they stored.
type Loader interface {
	// Load returns the stored listing, or nil with no error when nothing
	// has been published yet.
	Load(ctx context.Context) (*vpm.Listing, error)
}

// Encode renders l as the indented JSON document every publisher writes.
func Encode(l *vpm.Listing) ([]byte, error) {
	if l == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "listing is required")
	}
	var buf bytes.Buffer
	if err := l.Write(&buf); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "encode listing")
	}
	return buf.Bytes(), nil
}

// =============================================================================
// Writer
// =============================================================================

// Writer publishes to an io.Writer.
type Writer struct {
	w io.Writer
}

// NewWriter creates a Writer publishing to w.
func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

func (p *Writer) Publish(_ context.Context, l *vpm.Listing) error {
	data, err := Encode(l)
	if err != nil {
		return err
	}
	if _, err := p.w.Write(data); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "write listing")
	}
	return nil
}

func (p *Writer) Close() error { return nil }

// =============================================================================
// Multi
// =============================================================================

type multi []Publisher

// Multi publishes to each of pubs in order and stops at the first failure.
func Multi(pubs ...Publisher) Publisher { return multi(pubs) }

func (m multi) Publish(ctx context.Context, l *vpm.Listing) error {
	for _, p := range m {
		if err := p.Publish(ctx, l); err != nil {
			return err
		}
	}
	return nil
}

// Load returns the listing of the first publisher that implements [Loader]
// and has one stored. A read error stops the search.
func (m multi) Load(ctx context.Context) (*vpm.Listing, error) {
	for _, p := range m {
		ld, ok := p.(Loader)
		if !ok {
			continue
		}
		l, err := ld.Load(ctx)
		if err != nil {
			return nil, err
		}
		if l != nil {
			return l, nil
		}
	}
	return nil, nil
}

// Close closes every publisher and returns the first error.
func (m multi) Close() error {
	var first error
	for _, p := range m {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var (
	_ Publisher = (*Writer)(nil)
	_ Publisher = multi(nil)
	_ Loader    = multi(nil)
)
