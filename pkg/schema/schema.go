// Package schema validates listing documents against embedded JSON Schemas.
//
// Four documents are checked: the [vpm.Source] configuration, a release's
// [vpm.Package] descriptor, the strict package record stored in a listing
// (a descriptor that also carries its archive url and a hex SHA-256 digest)
// and the final [vpm.Listing]. Violations are reported as
// [errors.ValidationErrors] with one entry per failing field, wrapped in an
// error carrying [errors.ErrCodeValidation].
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/matzehuels/vpmlisting/pkg/errors"
	"github.com/matzehuels/vpmlisting/pkg/vpm"
)

// BaseURL is the identifier prefix shared by the embedded schema documents.
const BaseURL = "https://vpmlisting.dev/schema/"

// Kind names one of the embedded schemas.
type Kind string

const (
	KindSource        Kind = "source"
	KindPackage       Kind = "package"
	KindStrictPackage Kind = "strict-package"
	KindListing       Kind = "listing"
)

// Kinds lists every schema in the order dependents are compiled.
var Kinds = []Kind{KindSource, KindPackage, KindStrictPackage, KindListing}

// Valid reports whether k names an embedded schema.
func (k Kind) Valid() bool { return slices.Contains(Kinds, k) }

// URL returns the schema identifier for k.
func (k Kind) URL() string { return BaseURL + string(k) + ".json" }

//go:embed schemas/*.json
var documents embed.FS

var compiled = sync.OnceValues(compileAll)

func compileAll() (map[Kind]*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	entries, err := documents.ReadDir("schemas")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		data, err := documents.ReadFile(path.Join("schemas", e.Name()))
		if err != nil {
			return nil, err
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", e.Name(), err)
		}
		if err := c.AddResource(BaseURL+e.Name(), doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", e.Name(), err)
		}
	}

	out := make(map[Kind]*jsonschema.Schema, len(Kinds))
	for _, k := range Kinds {
		s, err := c.Compile(k.URL())
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", k, err)
		}
		out[k] = s
	}
	return out, nil
}

// Document returns the raw embedded schema text for k.
func Document(k Kind) ([]byte, error) {
	if !k.Valid() {
		return nil, errors.New(errors.ErrCodeNotFound, "no schema for kind %q", k)
	}
	data, err := documents.ReadFile(path.Join("schemas", string(k)+".json"))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "read schema %s", k)
	}
	return data, nil
}

// ValidateJSON checks a raw JSON document against the schema for k.
// Listings additionally get the version key check of [Listing].
// Malformed JSON is reported as [errors.ErrCodeInvalidInput].
func ValidateJSON(k Kind, data []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidInput, err, "parse %s", k)
	}
	if err := validate(k, inst); err != nil || k != KindListing {
		return err
	}
	var l vpm.Listing
	if err := json.Unmarshal(data, &l); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidInput, err, "decode %s", k)
	}
	return checkVersionKeys(&l)
}

// Source validates a listing configuration.
func Source(src *vpm.Source) error {
	return validateValue(KindSource, src)
}

// StrictPackage validates a record destined for a listing.
func StrictPackage(p *vpm.Package) error {
	return validateValue(KindStrictPackage, p)
}

// Listing validates a complete listing. Besides the schema it checks that
// every version key equals the version recorded under it.
func Listing(l *vpm.Listing) error {
	if err := validateValue(KindListing, l); err != nil {
		return err
	}
	return checkVersionKeys(l)
}

func checkVersionKeys(l *vpm.Listing) error {
	var violations []*errors.FieldError
	for _, id := range l.PackageIDs() {
		for _, key := range l.Packages[id].Sorted() {
			rec := l.Packages[id].Versions[key]
			if rec == nil {
				violations = append(violations, &errors.FieldError{
					Field:      "packages/" + id + "/versions/" + key,
					Constraint: "type",
					Detail:     "record is null",
				})
				continue
			}
			if rec.Version != key {
				violations = append(violations, &errors.FieldError{
					Field:      "packages/" + id + "/versions/" + key + "/version",
					Constraint: "const",
					Detail:     fmt.Sprintf("version %q is stored under key %q", rec.Version, key),
				})
			}
		}
	}
	if len(violations) > 0 {
		return errors.NewValidation(string(KindListing), violations...)
	}
	return nil
}

func validateValue(k Kind, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "encode %s", k)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "decode %s", k)
	}
	return validate(k, inst)
}

func validate(k Kind, inst any) error {
	schemas, err := compiled()
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "load schemas")
	}
	s, ok := schemas[k]
	if !ok {
		return errors.New(errors.ErrCodeInternal, "unknown schema %s", k)
	}

	err = s.Validate(inst)
	if err == nil {
		return nil
	}
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return errors.Wrap(errors.ErrCodeValidation, err, "%s is invalid", k)
	}
	return errors.NewValidation(string(k), fieldErrors(verr)...)
}

var printer = message.NewPrinter(language.English)

// fieldErrors flattens the leaves of a validation error tree.
func fieldErrors(verr *jsonschema.ValidationError) []*errors.FieldError {
	if len(verr.Causes) > 0 {
		var out []*errors.FieldError
		for _, c := range verr.Causes {
			out = append(out, fieldErrors(c)...)
		}
		return out
	}

	field := strings.Join(verr.InstanceLocation, "/")
	if req, ok := verr.ErrorKind.(*kind.Required); ok {
		out := make([]*errors.FieldError, 0, len(req.Missing))
		for _, m := range req.Missing {
			out = append(out, &errors.FieldError{
				Field:      joinField(field, m),
				Constraint: "required",
				Detail:     "missing property",
			})
		}
		return out
	}

	constraint := "schema"
	if kp := verr.ErrorKind.KeywordPath(); len(kp) > 0 {
		constraint = kp[len(kp)-1]
	}
	return []*errors.FieldError{{
		Field:      field,
		Constraint: constraint,
		Detail:     verr.ErrorKind.LocalizedString(printer),
	}}
}

func joinField(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
