package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/matzehuels/vpmlisting/pkg/errors"
	"github.com/matzehuels/vpmlisting/pkg/schema"
)

// schemaKinds returns the names accepted as a KIND argument.
func schemaKinds() []string {
	kinds := make([]string, len(schema.Kinds))
	for i, k := range schema.Kinds {
		kinds[i] = string(k)
	}
	return kinds
}

// validateCommand creates the validate command for checking documents
// against their schema without generating anything.
func (c *CLI) validateCommand() *cobra.Command {
	kinds := schemaKinds()

	cmd := &cobra.Command{
		Use:   "validate KIND FILE",
		Short: "Validate a source, package or listing file",
		Long: fmt.Sprintf(`Validate checks a JSON document against the schema of its kind and reports
every violation with the field it concerns.

Kinds: %v`, kinds),
		Example: `  vpmlisting validate source source.json
  vpmlisting validate listing index.json`,
		Args:              cobra.ExactArgs(2),
		ValidArgsFunction: completeKind,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.OutOrStdout(), schema.Kind(args[0]), args[1])
		},
	}
	return cmd
}

func runValidate(w io.Writer, kind schema.Kind, path string) error {
	if !kind.Valid() {
		return errors.New(errors.ErrCodeInvalidInput, "unknown kind %q", kind)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidInput, err, "read %s", path)
	}

	if err := schema.ValidateJSON(kind, data); err != nil {
		fields := errors.Fields(err)
		if len(fields) == 0 {
			return err
		}
		printError(w, "%s is not a valid %s", path, kind)
		for _, f := range fields {
			printDetail(w, "%s", f.Error())
		}
		return errors.Wrap(errors.ErrCodeValidation, err, "%d violation(s) in %s", len(fields), path)
	}
	printSuccess(w, "%s is a valid %s", path, kind)
	return nil
}

// schemaCommand creates the schema command, which prints the JSON Schema
// that validate and generate check documents against.
func (c *CLI) schemaCommand() *cobra.Command {
	kinds := schemaKinds()
	return &cobra.Command{
		Use:       "schema KIND",
		Short:     "Print the JSON Schema for a document kind",
		Long:      fmt.Sprintf("Schema prints the embedded JSON Schema for one document kind.\n\nKinds: %v", kinds),
		Example:   "  vpmlisting schema source > source.schema.json",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeKind,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := schema.Document(schema.Kind(args[0]))
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(doc)
			return err
		},
	}
}
