package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tidwall/pretty"
	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/api/handlers"
	"github.com/BaSui01/imageflow/config"
	"github.com/BaSui01/imageflow/image"
	"github.com/BaSui01/imageflow/internal/xjson"
	"github.com/BaSui01/imageflow/types"
	"github.com/BaSui01/imageflow/workflow"
)

// =============================================================================
// 🧰 命令行公共部分
// =============================================================================

// stringList 是可重复的字符串参数
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// cliLogger 为命令行子命令创建 logger，日志写到 stderr，避免污染输出
func cliLogger(cfg config.LogConfig, verbose bool) *zap.Logger {
	cfg.OutputPaths = []string{"stderr"}
	if !verbose && cfg.Level != "debug" {
		cfg.Level = "warn"
	}
	return initLogger(cfg)
}

// signalContext 返回 Ctrl-C 时取消的 context
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// printJSON 以缩进格式输出 v
func printJSON(w io.Writer, v any) error {
	data, err := xjson.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(pretty.Pretty(data))
	return err
}

// formatError 把结构化错误渲染成面向用户的多行文本
func formatError(err error) string {
	var e *types.Error
	if !errors.As(err, &e) {
		return "Error: " + err.Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Error [%s]: %s", e.Code, e.Message)
	if e.Provider != "" {
		fmt.Fprintf(&b, "\n  provider: %s", e.Provider)
	}
	if e.HTTPStatus != 0 {
		fmt.Fprintf(&b, "\n  upstream status: %d", e.HTTPStatus)
	}
	if e.Hint != "" {
		fmt.Fprintf(&b, "\n  hint: %s", e.Hint)
	}
	return b.String()
}

// =============================================================================
// 🎨 generate 命令
// =============================================================================

func runGenerate(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	var cf configFlags
	cf.register(fs)

	var (
		req     image.Request
		refs    stringList
		asJSON  bool
		verbose bool
	)
	fs.StringVar(&req.Prompt, "prompt", "", "Text prompt (required)")
	fs.StringVar(&req.Provider, "provider", "", "Backend: platform, openai or comfyui (default: first available)")
	fs.StringVar(&req.Model, "model", "", "Model override")
	fs.StringVar(&req.Size, "size", "", "Output size, e.g. 1024x1024 or auto")
	fs.StringVar(&req.AspectRatio, "aspect-ratio", "", "Aspect ratio: 1:1, 3:4, 4:3, 16:9 or 9:16")
	fs.StringVar(&req.Quality, "quality", "", "Quality: low, medium or high")
	fs.StringVar(&req.NegativePrompt, "negative", "", "Negative prompt (ComfyUI only)")
	fs.StringVar(&req.Workflow, "workflow", "", "ComfyUI workflow template name")
	fs.Var(&refs, "ref", "Reference image URL (repeatable)")
	fs.BoolVar(&asJSON, "json", false, "Print the result as JSON")
	fs.BoolVar(&verbose, "v", false, "Verbose logging")
	_ = fs.Parse(args)

	if req.Prompt == "" && fs.NArg() > 0 {
		req.Prompt = strings.Join(fs.Args(), " ")
	}
	req.ReferenceImages = refs

	cfg, err := cf.load()
	if err != nil {
		return err
	}
	logger := cliLogger(cfg.Log, verbose)
	defer func() { _ = logger.Sync() }()

	app, err := buildApp(cfg, nil, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	return generate(ctx, app.Orchestrator, &req, asJSON, stdout, stderr)
}

// generate 执行一次生成并输出结果。进度写到 stderr。
func generate(ctx context.Context, gen handlers.Generator, req *image.Request, asJSON bool, stdout, stderr io.Writer) error {
	progress := func(_ context.Context, elapsed time.Duration) error {
		fmt.Fprintf(stderr, "Still generating... (%s elapsed)\n", elapsed.Round(time.Second))
		return nil
	}

	result, err := gen.Generate(ctx, req, progress)
	if err != nil {
		return err
	}

	if asJSON {
		return printJSON(stdout, result)
	}

	fmt.Fprintf(stdout, "Generated with %s", result.Provider)
	if result.Model != "" {
		fmt.Fprintf(stdout, " (%s)", result.Model)
	}
	if result.Workflow != "" {
		fmt.Fprintf(stdout, " using workflow %q", result.Workflow)
	}
	fmt.Fprintf(stdout, " in %s\n", result.Duration.Round(100*time.Millisecond))
	if result.SavedPath != "" {
		fmt.Fprintf(stdout, "Saved to %s\n", result.SavedPath)
	}
	if result.ImageURL != "" {
		fmt.Fprintf(stdout, "Hosted at %s\n", result.ImageURL)
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(stdout, "Warning: %s\n", w)
	}
	return nil
}

// =============================================================================
// 🗂️ workflow 命令
// =============================================================================

func runWorkflow(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("workflow", flag.ExitOnError)
	var cf configFlags
	cf.register(fs)
	asJSON := fs.Bool("json", false, "Print results as JSON")
	_ = fs.Parse(args)

	if fs.NArg() == 0 {
		return errors.New("workflow: missing subcommand (list, view, import, modify, resize, delete, checkpoints)")
	}

	cfg, err := cf.load()
	if err != nil {
		return err
	}
	logger := cliLogger(cfg.Log, false)
	defer func() { _ = logger.Sync() }()

	app, err := buildApp(cfg, nil, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	cmd := &workflowCommand{
		catalog:     app.Catalog,
		checkpoints: app.ComfyUI,
		out:         stdout,
		json:        *asJSON,
	}
	return cmd.run(ctx, fs.Args())
}

// workflowCommand 执行模板管理子命令
type workflowCommand struct {
	catalog     *workflow.Catalog
	checkpoints handlers.CheckpointLister
	out         io.Writer
	json        bool
}

func (c *workflowCommand) run(ctx context.Context, args []string) error {
	sub, rest := args[0], args[1:]
	switch sub {
	case "list":
		return c.list(ctx)
	case "view":
		name := ""
		if len(rest) > 0 {
			name = rest[0]
		}
		return c.view(ctx, name)
	case "import":
		return c.importFile(ctx, rest)
	case "modify":
		return c.modify(ctx, rest)
	case "resize":
		return c.resize(ctx, rest)
	case "delete":
		if len(rest) != 1 {
			return types.NewError(types.ErrValidation, "usage: workflow delete <name>")
		}
		if err := c.catalog.Delete(ctx, rest[0]); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Deleted workflow %q\n", rest[0])
		return nil
	case "checkpoints":
		return c.listCheckpoints(ctx)
	default:
		return types.Errorf(types.ErrValidation, "unknown workflow subcommand %q", sub)
	}
}

func (c *workflowCommand) list(ctx context.Context) error {
	entries, err := c.catalog.List(ctx)
	if err != nil {
		return err
	}
	if c.json {
		return printJSON(c.out, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "No workflows stored. Import one with: imageflow workflow import <path>")
		return nil
	}
	for _, e := range entries {
		marker := " "
		if e.Default {
			marker = "*"
		}
		switch {
		case e.Error != "":
			fmt.Fprintf(c.out, "%s %s  (unreadable: %s)\n", marker, e.Name, e.Error)
		case e.Summary != nil:
			fmt.Fprintf(c.out, "%s %s  %s\n", marker, e.Name, e.Summary)
		default:
			fmt.Fprintf(c.out, "%s %s\n", marker, e.Name)
		}
	}
	return nil
}

func (c *workflowCommand) view(ctx context.Context, name string) error {
	v, err := c.catalog.View(ctx, name)
	if err != nil {
		return err
	}
	if c.json {
		return printJSON(c.out, v)
	}
	fmt.Fprintf(c.out, "Workflow %q\n\n%s\n", v.Name, v.Text)
	return nil
}

func (c *workflowCommand) importFile(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("workflow import", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	name := fs.String("name", "", "Template name (default: file name)")
	if err := fs.Parse(args); err != nil {
		return types.NewError(types.ErrValidation, err.Error())
	}
	if fs.NArg() != 1 {
		return types.NewError(types.ErrValidation, "usage: workflow import [--name <name>] <path>")
	}

	report, err := c.catalog.Import(ctx, *name, fs.Arg(0))
	if err != nil {
		return err
	}
	if c.json {
		return printJSON(c.out, report)
	}
	verb := "Imported"
	if report.Updated {
		verb = "Updated"
	}
	fmt.Fprintf(c.out, "%s workflow %q: %s\n", verb, report.Name, report.Summary)
	if report.First {
		fmt.Fprintln(c.out, "It is the only stored workflow and will be used by default.")
	}
	return nil
}

func (c *workflowCommand) modify(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("workflow modify", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	name := fs.String("name", "", "Template name (default: the default workflow)")
	if err := fs.Parse(args); err != nil {
		return types.NewError(types.ErrValidation, err.Error())
	}
	if fs.NArg() != 3 {
		return types.NewError(types.ErrValidation, "usage: workflow modify [--name <name>] <node_id> <input> <json_value>")
	}

	m, err := c.catalog.Modify(ctx, *name, fs.Arg(0), fs.Arg(1), fs.Arg(2))
	if err != nil {
		return err
	}
	if c.json {
		return printJSON(c.out, m)
	}
	fmt.Fprintf(c.out, "Workflow %q node #%s (%s): %s %s -> %s\n",
		m.Name, m.NodeID, m.ClassType, m.Input, m.OldValue, m.NewValue)
	return nil
}

func (c *workflowCommand) resize(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("workflow resize", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	name := fs.String("name", "", "Template name (default: the default workflow)")
	if err := fs.Parse(args); err != nil {
		return types.NewError(types.ErrValidation, err.Error())
	}
	if fs.NArg() != 1 {
		return types.NewError(types.ErrValidation, "usage: workflow resize [--name <name>] <aspect_ratio>")
	}

	r, err := c.catalog.Resize(ctx, *name, fs.Arg(0))
	if err != nil {
		return err
	}
	if c.json {
		return printJSON(c.out, r)
	}
	fmt.Fprintf(c.out, "Workflow %q node #%s: %dx%d -> %dx%d\n",
		r.Name, r.NodeID, r.OldWidth, r.OldHeight, r.Width, r.Height)
	return nil
}

func (c *workflowCommand) listCheckpoints(ctx context.Context) error {
	var names []string
	if c.checkpoints != nil {
		names = c.checkpoints.ListCheckpoints(ctx)
	}
	if c.json {
		if names == nil {
			names = []string{}
		}
		return printJSON(c.out, names)
	}
	if len(names) == 0 {
		fmt.Fprintln(c.out, "No checkpoints reported (is ComfyUI running?)")
		return nil
	}
	for _, n := range names {
		fmt.Fprintln(c.out, n)
	}
	return nil
}
