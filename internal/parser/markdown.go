package parser

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"

	"github.com/harrison/plangate/internal/models"
)

// MarkdownParser parses plans written as Markdown with YAML frontmatter.
//
// The frontmatter carries the scalar metadata. Level-2 headings name list
// sections; their bullet or numbered items become the plan's lists. Any
// other prose becomes the description.
type MarkdownParser struct {
	markdown goldmark.Markdown
}

type section int

const (
	sectionNone section = iota
	sectionIgnored
	sectionSummary
	sectionFilesToCreate
	sectionFilesToModify
	sectionDependencies
	sectionPatterns
	sectionRisks
	sectionPhases
	sectionNotes
	sectionEffort
	sectionLabels
)

// sectionNames maps normalized level-2 headings to sections.
var sectionNames = map[string]section{
	"summary":               sectionSummary,
	"overview":              sectionSummary,
	"files to create":       sectionFilesToCreate,
	"new files":             sectionFilesToCreate,
	"files to modify":       sectionFilesToModify,
	"modified files":        sectionFilesToModify,
	"dependencies":          sectionDependencies,
	"external dependencies": sectionDependencies,
	"patterns":              sectionPatterns,
	"design patterns":       sectionPatterns,
	"risks":                 sectionRisks,
	"risks & mitigation":    sectionRisks,
	"risks and mitigation":  sectionRisks,
	"risk indicators":       sectionRisks,
	"phases":                sectionPhases,
	"implementation phases": sectionPhases,
	"notes":                 sectionNotes,
	"implementation notes":  sectionNotes,
	"estimated effort":      sectionEffort,
	"labels":                sectionLabels,
}

var locPattern = regexp.MustCompile(`(?i)lines of code\s*:?\s*~?(\d+)`)

// planFrontmatter is the YAML header of a Markdown plan.
type planFrontmatter struct {
	TaskID       string   `yaml:"task_id"`
	Title        string   `yaml:"title"`
	Stack        string   `yaml:"stack"`
	Version      int      `yaml:"version"`
	Labels       []string `yaml:"labels"`
	EstimatedLOC int      `yaml:"estimated_loc"`
}

// NewMarkdownParser creates a MarkdownParser.
func NewMarkdownParser() *MarkdownParser {
	return &MarkdownParser{
		markdown: goldmark.New(),
	}
}

// Parse reads one Markdown plan.
func (p *MarkdownParser) Parse(r io.Reader) (*models.ImplementationPlan, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}

	plan := &models.ImplementationPlan{}
	content, frontmatter := extractFrontmatter(content)
	if frontmatter != nil {
		var fm planFrontmatter
		if err := yaml.Unmarshal(frontmatter, &fm); err != nil {
			return nil, models.NewValidationError("frontmatter", "invalid YAML: %v", err)
		}
		plan.ID = fm.TaskID
		plan.Title = fm.Title
		plan.Stack = fm.Stack
		plan.Version = fm.Version
		plan.Labels = fm.Labels
		plan.EstimatedLOC = fm.EstimatedLOC
	}

	doc := p.markdown.Parser().Parse(text.NewReader(content))
	p.extractSections(doc, content, plan)
	return plan, nil
}

func (p *MarkdownParser) extractSections(doc ast.Node, source []byte, plan *models.ImplementationPlan) {
	current := sectionNone
	var summary, prose, notes []string

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			heading := strings.TrimSpace(extractText(node, source))
			switch node.Level {
			case 1:
				if plan.Title == "" {
					plan.Title = heading
				}
				current = sectionNone
			case 2:
				s, ok := sectionNames[normalizeHeading(heading)]
				if !ok {
					s = sectionIgnored
				}
				current = s
			default:
				if current == sectionNone || current == sectionSummary {
					prose = append(prose, heading)
				}
			}

		case *ast.List:
			raw := listItems(node, source)
			items := texts(raw)
			switch current {
			case sectionFilesToCreate:
				plan.FilesToCreate = append(plan.FilesToCreate, filePaths(raw)...)
			case sectionFilesToModify:
				plan.FilesToModify = append(plan.FilesToModify, filePaths(raw)...)
			case sectionDependencies:
				plan.Dependencies = append(plan.Dependencies, items...)
			case sectionPatterns:
				plan.Patterns = append(plan.Patterns, items...)
			case sectionRisks:
				plan.RiskIndicators = append(plan.RiskIndicators, risks(items)...)
			case sectionPhases:
				plan.Phases = append(plan.Phases, items...)
			case sectionLabels:
				plan.Labels = appendUnique(plan.Labels, items...)
			case sectionNotes:
				notes = append(notes, items...)
			case sectionEffort:
				setLOC(plan, strings.Join(items, "\n"))
			case sectionSummary:
				summary = append(summary, bullets(items)...)
			case sectionNone:
				prose = append(prose, bullets(items)...)
			}

		case *ast.Paragraph:
			para := strings.TrimSpace(extractText(node, source))
			if para == "" {
				continue
			}
			switch current {
			case sectionSummary:
				summary = append(summary, para)
			case sectionNotes:
				notes = append(notes, para)
			case sectionEffort:
				setLOC(plan, para)
			case sectionNone:
				prose = append(prose, para)
			}
		}
	}

	plan.Description = strings.Join(append(summary, prose...), "\n\n")
	plan.Notes = strings.Join(notes, "\n")
}

func normalizeHeading(h string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimRight(h, ":"))), " ")
}

// listItem is the first block of one list item: its own text and any
// inline code it contains, without nested lists.
type listItem struct {
	text string
	code string
}

func texts(items []listItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.text
	}
	return out
}

func listItems(list *ast.List, source []byte) []listItem {
	var items []listItem
	for li := list.FirstChild(); li != nil; li = li.NextSibling() {
		block := li.FirstChild()
		if block == nil {
			continue
		}
		if skipItem(block) {
			continue
		}
		t := strings.TrimSpace(extractText(block, source))
		if t == "" {
			continue
		}
		items = append(items, listItem{text: t, code: firstCodeSpan(block, source)})
	}
	return items
}

// skipItem reports placeholder items written in emphasis only, such as "*None*".
func skipItem(block ast.Node) bool {
	first := block.FirstChild()
	if first == nil {
		return true
	}
	if _, ok := first.(*ast.Emphasis); ok && first.NextSibling() == nil {
		return true
	}
	return false
}

// filePaths takes the quoted path of each item, or the item text up to a
// " - purpose" suffix.
func filePaths(items []listItem) []string {
	var out []string
	for _, it := range items {
		if strings.HasPrefix(strings.ToLower(it.text), "no ") {
			continue
		}
		if it.code != "" {
			out = append(out, it.code)
			continue
		}
		path := it.text
		if i := strings.Index(path, " - "); i > 0 {
			path = strings.TrimSpace(path[:i])
		}
		out = append(out, path)
	}
	return out
}

// risks keeps the description of "Risk: ..." items and plain items.
// Structured mitigation and severity lines are nested lists and never
// reach here.
func risks(items []string) []string {
	var out []string
	for _, item := range items {
		if strings.HasPrefix(strings.ToLower(item), "no ") {
			continue
		}
		if rest, ok := cutPrefixFold(item, "risk:"); ok {
			item = strings.TrimSpace(rest)
		}
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return s, false
}

func bullets(items []string) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = "- " + item
	}
	return out
}

func appendUnique(list []string, items ...string) []string {
	for _, item := range items {
		found := false
		for _, existing := range list {
			if existing == item {
				found = true
				break
			}
		}
		if !found {
			list = append(list, item)
		}
	}
	return list
}

func setLOC(plan *models.ImplementationPlan, s string) {
	if plan.EstimatedLOC > 0 {
		return
	}
	if m := locPattern.FindStringSubmatch(s); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			plan.EstimatedLOC = n
		}
	}
}

// extractText extracts plain text from an AST node and its inline children
func extractText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.List:
			if c != n {
				return ast.WalkSkipChildren, nil
			}
		case *ast.Text:
			buf.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return buf.String()
}

func firstCodeSpan(n ast.Node, source []byte) string {
	var code string
	ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering {
			if cs, ok := c.(*ast.CodeSpan); ok {
				code = extractText(cs, source)
				return ast.WalkStop, nil
			}
		}
		return ast.WalkContinue, nil
	})
	return code
}

// extractFrontmatter extracts YAML frontmatter from markdown content
// Returns the content without frontmatter and the frontmatter bytes
func extractFrontmatter(content []byte) ([]byte, []byte) {
	lines := bytes.Split(content, []byte("\n"))

	if len(lines) < 3 || !bytes.Equal(bytes.TrimSpace(lines[0]), []byte("---")) {
		return content, nil
	}

	for i := 1; i < len(lines); i++ {
		if bytes.Equal(bytes.TrimSpace(lines[i]), []byte("---")) {
			frontmatter := bytes.Join(lines[1:i], []byte("\n"))
			body := bytes.Join(lines[i+1:], []byte("\n"))
			return body, frontmatter
		}
	}

	// No closing delimiter found
	return content, nil
}
