// Package parser reads implementation plans from YAML, JSON or Markdown
// files.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/harrison/plangate/internal/models"
)

// Format represents the format of a plan file
type Format int

const (
	// FormatUnknown represents an unknown or unsupported file format
	FormatUnknown Format = iota
	// FormatMarkdown represents a Markdown (.md, .markdown) plan file
	FormatMarkdown
	// FormatYAML represents a YAML (.yaml, .yml) plan file
	FormatYAML
	// FormatJSON represents a JSON (.json) plan file
	FormatJSON
)

// String returns the string representation of the Format
func (f Format) String() string {
	switch f {
	case FormatMarkdown:
		return "markdown"
	case FormatYAML:
		return "yaml"
	case FormatJSON:
		return "json"
	default:
		return "unknown"
	}
}

// Parser is the interface that all plan parsers must implement
type Parser interface {
	// Parse reads from an io.Reader and returns a parsed plan
	Parse(r io.Reader) (*models.ImplementationPlan, error)
}

// DetectFormat detects the plan format from the file extension
// Supported extensions:
//   - .md, .markdown -> FormatMarkdown
//   - .yaml, .yml -> FormatYAML
//   - .json -> FormatJSON
//   - all others -> FormatUnknown
func DetectFormat(filename string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".md", ".markdown":
		return FormatMarkdown
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	default:
		return FormatUnknown
	}
}

// NewParser creates a new parser instance for the specified format
// Returns an error if the format is unknown or unsupported
func NewParser(format Format) (Parser, error) {
	switch format {
	case FormatMarkdown:
		return NewMarkdownParser(), nil
	case FormatYAML:
		return NewYAMLParser(), nil
	case FormatJSON:
		return NewJSONParser(), nil
	default:
		return nil, fmt.Errorf("unsupported format: %v", format)
	}
}

// ParseFile detects the format of path, parses it and validates the
// resulting plan. A plan without an identifier takes the file name without
// extension.
func ParseFile(path string) (*models.ImplementationPlan, error) {
	format := DetectFormat(path)
	if format == FormatUnknown {
		return nil, fmt.Errorf("unknown file format: %s (supported: .md, .markdown, .yaml, .yml, .json)", path)
	}

	parser, err := NewParser(format)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	plan, err := parser.Parse(file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse plan %s: %w", path, err)
	}

	if plan.ID == "" {
		plan.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan %s: %w", path, err)
	}
	return plan, nil
}

// YAMLParser parses plans written as YAML documents. Unknown keys are
// ignored.
type YAMLParser struct{}

// NewYAMLParser creates a YAMLParser.
func NewYAMLParser() *YAMLParser {
	return &YAMLParser{}
}

// Parse decodes one YAML plan document.
func (p *YAMLParser) Parse(r io.Reader) (*models.ImplementationPlan, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, models.NewValidationError("plan", "empty document")
	}

	var plan models.ImplementationPlan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, models.NewValidationError("plan", "invalid YAML: %v", err)
	}
	return &plan, nil
}

// JSONParser parses plans in their stored JSON form.
type JSONParser struct{}

// NewJSONParser creates a JSONParser.
func NewJSONParser() *JSONParser {
	return &JSONParser{}
}

// Parse decodes one JSON plan object.
func (p *JSONParser) Parse(r io.Reader) (*models.ImplementationPlan, error) {
	var plan models.ImplementationPlan
	if err := json.NewDecoder(r).Decode(&plan); err != nil {
		if err == io.EOF {
			return nil, models.NewValidationError("plan", "empty document")
		}
		return nil, models.NewValidationError("plan", "invalid JSON: %v", err)
	}
	return &plan, nil
}
