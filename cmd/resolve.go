package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ohler55/ojg/jp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/pig/internal/document"
	"github.com/conneroisu/pig/internal/resolver"
)

var (
	resolveFormat     string
	resolveQuery      string
	resolveDeps       bool
	resolveNoValidate bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <schema>",
	Short: "Print a schema with every $ref inlined",
	Long: `Resolve a schema root without reading pig.yaml and print the result.

Each inlined object carries $ref, $file, $keys and $name describing where it
came from. A JSONPath query narrows the output to the matching values.

Examples:
  pig resolve openapi/api.yaml
  pig resolve openapi/api.yaml --format yaml
  pig resolve openapi/api.yaml --query '$.components.schemas.*["$name"]'
  pig resolve openapi/api.yaml --deps        # List every file read`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)

	resolveCmd.Flags().StringVarP(&resolveFormat, "format", "f", "json", "Output format (json, yaml)")
	resolveCmd.Flags().StringVarP(&resolveQuery, "query", "q", "", "JSONPath expression selecting what to print")
	resolveCmd.Flags().BoolVar(&resolveDeps, "deps", false, "Print the files the document was resolved from instead")
	resolveCmd.Flags().BoolVar(&resolveNoValidate, "no-validate", false, "Skip OpenAPI structure validation")
}

func runResolve(cmd *cobra.Command, args []string) error {
	if resolveFormat != "json" && resolveFormat != "yaml" {
		return fmt.Errorf("unsupported format: %s (supported: json, yaml)", resolveFormat)
	}

	var expr jp.Expr
	if resolveQuery != "" {
		var err error
		if expr, err = jp.ParseString(resolveQuery); err != nil {
			return fmt.Errorf("invalid jsonpath %q: %w", resolveQuery, err)
		}
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	result, err := resolver.Resolve(commandContext(cmd), args[0],
		resolver.WithLogger(logger),
		resolver.WithValidation(!resolveNoValidate),
	)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if resolveDeps {
		_, err := fmt.Fprintln(out, strings.Join(result.Dependencies, "\n"))
		return err
	}
	if expr != nil {
		return printValue(out, expr.Get(result.Document.Interface()))
	}
	return printDocument(out, result.Document)
}

// printDocument keeps the key order of the source files.
func printDocument(w io.Writer, doc *document.Node) error {
	var (
		data []byte
		err  error
	)
	if resolveFormat == "yaml" {
		data, err = document.EncodeYAML(doc)
	} else {
		data, err = document.EncodeJSON(doc)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func printValue(w io.Writer, v interface{}) error {
	if resolveFormat == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
