package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/matt-riley/cerebro/internal/loader"
)

type validateOptions struct {
	file   string
	schema string
	format string
}

func newValidateCmd(root *rootOptions) *cobra.Command {
	opts := &validateOptions{}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a settings file",
		Long: `Check a settings file against a JSON Schema and the template rules.

Without --schema the built-in settings schema is used. The command exits
non-zero when any problem is found.

Examples:
  cerebro validate -f settings.yaml
  cerebro validate -f settings.yaml --schema client.schema.json --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(root, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "settings file (YAML or JSON)")
	cmd.Flags().StringVar(&opts.schema, "schema", "", "JSON Schema file (defaults to the built-in schema)")
	cmd.Flags().StringVar(&opts.format, "format", "text", "output format: text, json")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

type validateOutput struct {
	File   string          `json:"file"`
	Valid  bool            `json:"valid"`
	Errors []problemOutput `json:"errors,omitempty"`
}

type problemOutput struct {
	Setting string `json:"setting,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func runValidate(root *rootOptions, opts *validateOptions, out io.Writer) error {
	var schemaData []byte
	if opts.schema != "" {
		data, err := os.ReadFile(opts.schema)
		if err != nil {
			return fmt.Errorf("read schema %q: %w", opts.schema, err)
		}
		schemaData = data
	}

	validator, err := loader.NewValidator(schemaData)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(opts.file)
	if err != nil {
		return fmt.Errorf("read settings file %q: %w", opts.file, err)
	}

	document, err := loader.ParseDocument(data)
	if err != nil {
		return fmt.Errorf("parse settings file %q: %w", opts.file, err)
	}

	report := validator.Validate(document)
	root.log().Debug("validated settings file", "path", opts.file, "valid", report.Valid, "problems", len(report.Errors))

	if err := writeReport(out, opts, report); err != nil {
		return err
	}

	return report.Err()
}

func writeReport(out io.Writer, opts *validateOptions, report loader.Report) error {
	if opts.format == "json" {
		output := validateOutput{File: opts.file, Valid: report.Valid}
		for _, problem := range report.Errors {
			output.Errors = append(output.Errors, problemOutput{
				Setting: problem.Setting,
				Path:    problem.Path,
				Message: problem.Message,
			})
		}
		return writeJSON(out, output)
	}

	if report.Valid {
		_, err := fmt.Fprintf(out, "%s: ok\n", opts.file)
		return err
	}

	for _, problem := range report.Errors {
		if _, err := fmt.Fprintf(out, "%s: %s\n", opts.file, problem.Error()); err != nil {
			return err
		}
	}
	return nil
}
