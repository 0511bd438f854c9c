package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/omnix-ai/omnixd/pkg/template"
)

// getTemplatesDirectory returns the default output directory for templates
func (c command) getTemplatesDirectory() string {
	return "templates"
}

// TemplateCreate generates a TOML config template for a service kind or the
// whole stack.
func (c command) TemplateCreate(f TemplateCreateFlags) error {
	// Use provided name or default to the kind
	templateName := f.Name
	if templateName == "" {
		templateName = f.Kind
	}

	// Determine output file path
	outputPath := f.Output
	if outputPath == "" {
		templatesDir := c.getTemplatesDirectory()
		if err := os.MkdirAll(templatesDir, 0o755); err != nil {
			return fmt.Errorf("failed to create templates directory: %w", err)
		}
		outputPath = filepath.Join(templatesDir, templateName+".toml")
	}

	// Check if file already exists and force flag not set
	if _, err := os.Stat(outputPath); err == nil && !f.Force {
		return fmt.Errorf("template file '%s' already exists (use --force to overwrite)", outputPath)
	}

	generator := template.NewGenerator()
	templateContent, err := generator.GenerateTOML(template.Kind(f.Kind), templateName)
	if err != nil {
		return fmt.Errorf("failed to generate template: %w", err)
	}

	if err := os.WriteFile(outputPath, templateContent, 0o644); err != nil {
		return fmt.Errorf("failed to write template file: %w", err)
	}

	fmt.Printf("Template '%s' created: %s\n", templateName, outputPath)
	fmt.Printf("Edit the template and check it with: omnixd validate %s\n", outputPath)
	return nil
}
