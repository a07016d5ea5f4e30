package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/types"
)

// Entry is one row of a catalog listing.
type Entry struct {
	Name    string   `json:"name"`
	Default bool     `json:"default"`
	Summary *Summary `json:"summary,omitempty"`
	// Error is set when the template could not be read.
	Error string `json:"error,omitempty"`
}

// View is the editable rendering of one template.
type View struct {
	Name  string  `json:"name"`
	Nodes NodeMap `json:"nodes"`
	Text  string  `json:"text"`
}

// ImportReport describes the outcome of an import.
type ImportReport struct {
	Name    string  `json:"name"`
	Updated bool    `json:"updated"`
	Nodes   NodeMap `json:"nodes"`
	Summary Summary `json:"summary"`
	// First is true when this is the only stored template, which makes it
	// the default for generation.
	First bool `json:"first"`
}

// Modification reports a single input change.
type Modification struct {
	Name      string `json:"name"`
	NodeID    string `json:"node_id"`
	ClassType string `json:"class_type"`
	Input     string `json:"input"`
	OldValue  Value  `json:"old_value"`
	NewValue  Value  `json:"new_value"`
}

// ResizeReport reports a latent size change.
type ResizeReport struct {
	Name      string `json:"name"`
	NodeID    string `json:"node_id"`
	OldWidth  int    `json:"old_width"`
	OldHeight int    `json:"old_height"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// Catalog implements the user-facing template operations on top of a Store.
type Catalog struct {
	store       Store
	defaultName string
	logger      *zap.Logger
}

// NewCatalog creates a catalog. defaultName may be empty.
func NewCatalog(store Store, defaultName string, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		store:       store,
		defaultName: defaultName,
		logger:      logger.With(zap.String("component", "workflow_catalog")),
	}
}

// Store returns the underlying store.
func (c *Catalog) Store() Store {
	return c.store
}

// ResolveName picks the template to use: an explicit name must exist;
// otherwise the configured default if stored, else the first listed.
func (c *Catalog) ResolveName(ctx context.Context, name string) (string, error) {
	if name != "" {
		if !c.store.Exists(ctx, name) {
			return "", types.Errorf(types.ErrNotFound, "workflow %q not found", name)
		}
		return name, nil
	}
	if c.defaultName != "" && c.store.Exists(ctx, c.defaultName) {
		return c.defaultName, nil
	}
	names, err := c.store.List(ctx)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", types.NewError(types.ErrNotFound, "no workflows saved, import one first")
	}
	return names[0], nil
}

// List returns every template with its summary and marks the default.
func (c *Catalog) List(ctx context.Context) ([]Entry, error) {
	names, err := c.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return []Entry{}, nil
	}
	defaultName, _ := c.ResolveName(ctx, "")

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		e := Entry{Name: name, Default: name == defaultName}
		g, err := c.store.Load(ctx, name)
		if err != nil {
			e.Error = err.Error()
		} else {
			s := Summarize(g)
			e.Summary = &s
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// View renders a template's editable inputs.
func (c *Catalog) View(ctx context.Context, name string) (*View, error) {
	resolved, err := c.ResolveName(ctx, name)
	if err != nil {
		return nil, err
	}
	g, err := c.store.Load(ctx, resolved)
	if err != nil {
		return nil, err
	}
	return &View{Name: resolved, Nodes: Detect(g), Text: Describe(g)}, nil
}

// Import reads a template file and stores it under name, or under the
// file's base name when name is empty. A leading ~ expands to the home
// directory.
func (c *Catalog) Import(ctx context.Context, name, path string) (*ImportReport, error) {
	if strings.TrimSpace(path) == "" {
		return nil, types.NewError(types.ErrValidation, "file path is required for import")
	}
	expanded, err := ExpandHome(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, types.Errorf(types.ErrValidation, "cannot read file %q", path).WithCause(err)
	}
	if name == "" {
		name = nameFromPath(path)
	}
	return c.ImportBytes(ctx, name, data)
}

// ImportBytes stores raw template content under name.
func (c *Catalog) ImportBytes(ctx context.Context, name string, data []byte) (*ImportReport, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	g, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if g.Len() == 0 {
		return nil, types.NewError(types.ErrValidation, "workflow has no nodes, expected an object keyed by node id")
	}

	updated := c.store.Exists(ctx, name)
	if err := c.store.Save(ctx, name, g); err != nil {
		return nil, err
	}
	names, err := c.store.List(ctx)
	if err != nil {
		return nil, err
	}

	c.logger.Info("workflow imported",
		zap.String("name", name),
		zap.Bool("updated", updated),
		zap.Int("nodes", g.Len()),
	)
	return &ImportReport{
		Name:    name,
		Updated: updated,
		Nodes:   Detect(g),
		Summary: Summarize(g),
		First:   len(names) == 1,
	}, nil
}

// Modify sets one input of one node to a JSON value and saves the template.
func (c *Catalog) Modify(ctx context.Context, name, nodeID, input, jsonValue string) (*Modification, error) {
	if nodeID == "" || input == "" {
		return nil, types.NewError(types.ErrValidation, "modify requires node id, input and value")
	}
	resolved, err := c.ResolveName(ctx, name)
	if err != nil {
		return nil, err
	}
	g, err := c.store.Load(ctx, resolved)
	if err != nil {
		return nil, err
	}

	node, ok := g.Node(nodeID)
	if !ok {
		return nil, types.Errorf(types.ErrValidation, "node #%s not found in workflow %q", nodeID, resolved)
	}
	old, ok := node.Input(input)
	if !ok {
		return nil, types.Errorf(types.ErrValidation, "input %q not found in node #%s (%s), available inputs: %s",
			input, nodeID, node.ClassType, strings.Join(node.LiteralInputs(), ", "))
	}
	value, err := ParseValue([]byte(jsonValue))
	if err != nil {
		return nil, types.Errorf(types.ErrValidation, "invalid value %q, must be valid JSON such as 30, \"euler\", 7.5 or true", jsonValue)
	}

	node.SetInput(input, value)
	if err := c.store.Save(ctx, resolved, g); err != nil {
		return nil, err
	}

	c.logger.Info("workflow modified",
		zap.String("name", resolved),
		zap.String("node", nodeID),
		zap.String("input", input),
		zap.String("old", old.String()),
		zap.String("new", value.String()),
	)
	return &Modification{
		Name:      resolved,
		NodeID:    nodeID,
		ClassType: node.ClassType,
		Input:     input,
		OldValue:  old,
		NewValue:  value,
	}, nil
}

// Resize reshapes the detected latent node to an aspect ratio, keeping its
// pixel count.
func (c *Catalog) Resize(ctx context.Context, name, aspectRatio string) (*ResizeReport, error) {
	if !SupportedAspectRatio(aspectRatio) {
		return nil, types.Errorf(types.ErrValidation, "aspect ratio %q is not supported", aspectRatio)
	}
	resolved, err := c.ResolveName(ctx, name)
	if err != nil {
		return nil, err
	}
	g, err := c.store.Load(ctx, resolved)
	if err != nil {
		return nil, err
	}

	m := Detect(g)
	node, ok := g.Node(m.Latent)
	if !ok {
		return nil, types.Errorf(types.ErrValidation, "workflow %q has no latent size node", resolved)
	}
	w, h := intInput(node, "width"), intInput(node, "height")
	if w == nil || h == nil {
		return nil, types.Errorf(types.ErrValidation, "node #%s has no literal width and height", node.ID)
	}

	width, height := CalculateSize(aspectRatio, *w, *h)
	node.SetInput("width", Literal([]byte(fmt.Sprint(width))))
	node.SetInput("height", Literal([]byte(fmt.Sprint(height))))
	if err := c.store.Save(ctx, resolved, g); err != nil {
		return nil, err
	}
	return &ResizeReport{
		Name:      resolved,
		NodeID:    node.ID,
		OldWidth:  *w,
		OldHeight: *h,
		Width:     width,
		Height:    height,
	}, nil
}

// Delete removes a template by explicit name.
func (c *Catalog) Delete(ctx context.Context, name string) error {
	if name == "" {
		return types.NewError(types.ErrValidation, "name is required for delete")
	}
	return c.store.Delete(ctx, name)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return home + strings.TrimPrefix(path, "~"), nil
}

func nameFromPath(path string) string {
	base := filepath.Base(strings.ReplaceAll(path, `\`, "/"))
	if strings.EqualFold(filepath.Ext(base), templateExt) {
		base = base[:len(base)-len(templateExt)]
	}
	if base == "" || base == "." || base == "/" {
		return "workflow"
	}
	return base
}
