// Package updater writes plan versions back to the files plans are authored
// in. YAML files are edited in place so comments, key order and keys
// plangate does not manage survive the write. JSON files keep unmanaged
// keys. Writes are serialized with a lock file next to the plan and land
// atomically.
//
// Example:
//
//	err := updater.WritePlan("plans/TASK-7.yaml", v.Plan,
//	    updater.WithTimeout(2*time.Second),
//	    updater.WithMonitor(func(m updater.UpdateMetrics) { log.Printf("%+v", m) }))
package updater

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/harrison/plangate/internal/filelock"
	"github.com/harrison/plangate/internal/models"
	"github.com/harrison/plangate/internal/parser"
)

var (
	// ErrUnsupportedFormat indicates the target cannot be written. Markdown
	// plans keep their lists in prose sections and are not rewritten.
	ErrUnsupportedFormat = errors.New("updater: unsupported plan format")
	// ErrInvalidPlan indicates the existing file is not a plan document.
	ErrInvalidPlan = errors.New("updater: invalid plan structure")
	// ErrPlanMismatch indicates the file holds a different plan.
	ErrPlanMismatch = errors.New("updater: file holds a different plan")
)

// UpdateMonitor receives metrics describing each write.
type UpdateMonitor func(UpdateMetrics)

// UpdateMetrics captures contextual data about a plan write.
type UpdateMetrics struct {
	Path         string
	Format       parser.Format
	PlanID       string
	OldVersion   int
	NewVersion   int
	Duration     time.Duration
	BytesRead    int
	BytesWritten int
	Err          error
}

type options struct {
	timeout time.Duration
	monitor UpdateMonitor
}

// Option configures WritePlan.
type Option func(*options)

// WithTimeout bounds the wait for the plan's lock file. A non-positive
// duration blocks.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithMonitor registers a callback that receives metrics after each write.
func WithMonitor(m UpdateMonitor) Option {
	return func(o *options) {
		o.monitor = m
	}
}

// WritePlan stores plan in the file at path, creating it if needed. The
// format follows the file extension. An existing file must hold the same
// plan id or no id at all.
func WritePlan(path string, plan models.ImplementationPlan, opts ...Option) (err error) {
	config := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&config)
		}
	}

	metrics := UpdateMetrics{
		Path:       path,
		PlanID:     plan.ID,
		NewVersion: plan.Version,
	}
	start := time.Now()
	defer func() {
		metrics.Duration = time.Since(start)
		metrics.Err = err
		if config.monitor != nil {
			config.monitor(metrics)
		}
	}()

	format := parser.DetectFormat(path)
	metrics.Format = format
	if format != parser.FormatYAML && format != parser.FormatJSON {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}

	lockPath := path + ".lock"
	lock := filelock.NewFileLock(lockPath)
	if config.timeout > 0 {
		err = lock.LockWithTimeout(config.timeout)
	} else {
		err = lock.Lock()
	}
	if err != nil {
		return err
	}
	defer func() {
		lock.Unlock()
		os.Remove(lockPath)
	}()

	content, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	metrics.BytesRead = len(content)

	var updated []byte
	switch format {
	case parser.FormatYAML:
		updated, metrics.OldVersion, err = updateYAMLPlan(content, plan)
	case parser.FormatJSON:
		updated, metrics.OldVersion, err = updateJSONPlan(content, plan)
	}
	if err != nil {
		return err
	}

	if err := filelock.AtomicWrite(path, updated); err != nil {
		return err
	}
	metrics.BytesWritten = len(updated)
	return nil
}

// planField is one key WritePlan manages. An empty scalar or list removes
// the key.
type planField struct {
	key    string
	scalar string
	tag    string
	list   []string
	isList bool
}

// planFields lists the managed keys in the order new keys are appended.
func planFields(plan models.ImplementationPlan) []planField {
	intValue := func(n int) string {
		if n == 0 {
			return ""
		}
		return strconv.Itoa(n)
	}
	timestamp := ""
	if !plan.Timestamp.IsZero() {
		timestamp = plan.Timestamp.UTC().Format(time.RFC3339Nano)
	}

	fields := []planField{
		{key: "task_id", scalar: plan.ID, tag: "!!str"},
		{key: "title", scalar: plan.Title, tag: "!!str"},
		{key: "stack", scalar: plan.Stack, tag: "!!str"},
		{key: "version", scalar: intValue(plan.Version), tag: "!!int"},
		{key: "timestamp", scalar: timestamp, tag: "!!timestamp"},
		{key: "description", scalar: plan.Description, tag: "!!str"},
	}
	for _, name := range models.ListFields {
		fields = append(fields, planField{key: name, list: plan.List(name), isList: true})
	}
	fields = append(fields,
		planField{key: models.FieldEstimatedLOC, scalar: intValue(plan.EstimatedLOC), tag: "!!int"},
		planField{key: models.FieldNotes, scalar: plan.Notes, tag: "!!str"},
	)
	return fields
}

func updateYAMLPlan(content []byte, plan models.ImplementationPlan) ([]byte, int, error) {
	var doc yaml.Node
	if len(bytes.TrimSpace(content)) > 0 {
		if err := yaml.Unmarshal(content, &doc); err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
		}
	}
	if doc.Kind == 0 {
		doc.Kind = yaml.DocumentNode
	}
	if doc.Kind == yaml.DocumentNode && len(doc.Content) == 0 {
		doc.Content = []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, 0, fmt.Errorf("%w: top level must be a mapping", ErrInvalidPlan)
	}
	root := doc.Content[0]

	if id := getMapScalar(root, "task_id"); id != "" && id != plan.ID {
		return nil, 0, fmt.Errorf("%w: %s, not %s", ErrPlanMismatch, id, plan.ID)
	}
	oldVersion, _ := strconv.Atoi(getMapScalar(root, "version"))

	for _, f := range planFields(plan) {
		switch {
		case f.isList && len(f.list) > 0:
			setMapSequence(root, f.key, f.list)
		case !f.isList && f.scalar != "":
			setMapScalar(root, f.key, f.scalar, f.tag)
		default:
			removeMapKey(root, f.key)
		}
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&doc); err != nil {
		return nil, 0, fmt.Errorf("failed to encode YAML plan: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, 0, fmt.Errorf("failed to encode YAML plan: %w", err)
	}
	return buf.Bytes(), oldVersion, nil
}

func updateJSONPlan(content []byte, plan models.ImplementationPlan) ([]byte, int, error) {
	doc := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(content)) > 0 {
		if err := json.Unmarshal(content, &doc); err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
		}
	}

	var existing struct {
		ID      string `json:"id"`
		Version int    `json:"version"`
	}
	if len(doc) > 0 {
		// Unmanaged keys may hold anything; only id and version matter here.
		_ = json.Unmarshal(content, &existing)
	}
	if existing.ID != "" && existing.ID != plan.ID {
		return nil, 0, fmt.Errorf("%w: %s, not %s", ErrPlanMismatch, existing.ID, plan.ID)
	}

	encoded, err := json.Marshal(plan)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to encode JSON plan: %w", err)
	}
	managed := map[string]json.RawMessage{}
	if err := json.Unmarshal(encoded, &managed); err != nil {
		return nil, 0, fmt.Errorf("failed to encode JSON plan: %w", err)
	}

	for _, f := range planFields(plan) {
		key := f.key
		if key == "task_id" {
			key = "id"
		}
		delete(doc, key)
	}
	for k, v := range managed {
		doc[k] = v
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, 0, fmt.Errorf("failed to encode JSON plan: %w", err)
	}
	return append(out, '\n'), existing.Version, nil
}

func findMapValue(mapping *yaml.Node, key string) *yaml.Node {
	if mapping == nil || mapping.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

func getMapScalar(mapping *yaml.Node, key string) string {
	v := findMapValue(mapping, key)
	if v == nil || v.Kind != yaml.ScalarNode {
		return ""
	}
	return v.Value
}

// setMapScalar updates key in place, keeping its comments, or appends it.
func setMapScalar(mapping *yaml.Node, key, value, tag string) {
	style := yaml.Style(0)
	if strings.Contains(value, "\n") {
		style = yaml.LiteralStyle
	}
	if v := findMapValue(mapping, key); v != nil {
		v.Kind = yaml.ScalarNode
		v.Tag = tag
		v.Style = style
		v.Value = value
		v.Content = nil
		return
	}
	mapping.Content = append(mapping.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		&yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Style: style, Value: value},
	)
}

// setMapSequence replaces the list under key. An existing flow-style list
// stays flow-style.
func setMapSequence(mapping *yaml.Node, key string, values []string) {
	items := make([]*yaml.Node, len(values))
	for i, v := range values {
		items[i] = &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
	}
	if v := findMapValue(mapping, key); v != nil {
		style := yaml.Style(0)
		if v.Kind == yaml.SequenceNode {
			style = v.Style & yaml.FlowStyle
		}
		v.Kind = yaml.SequenceNode
		v.Tag = "!!seq"
		v.Style = style
		v.Value = ""
		v.Content = items
		return
	}
	mapping.Content = append(mapping.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		&yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", Content: items},
	)
}

func removeMapKey(mapping *yaml.Node, key string) {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			mapping.Content = append(mapping.Content[:i], mapping.Content[i+2:]...)
			return
		}
	}
}
