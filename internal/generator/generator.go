// Package generator turns a task brief into the file set of a static site.
package generator

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"regexp"
	"time"

	"github.com/jonathan/site-deployer/internal/types"
)

// Required output paths. Every Result carries at least these three.
const (
	EntryDocument   = "index.html"
	ReadmeDocument  = "README.md"
	LicenseDocument = "LICENSE"
)

// DefaultTemplatePath is the entry document template inside the template FS
const DefaultTemplatePath = "templates/web-template/index.html"

//go:embed templates
var embeddedTemplates embed.FS

// Options carries per-request generation parameters
type Options struct {
	Task  string    // task name, used for the page title
	Owner string    // license holder, may be empty
	Now   time.Time // used for the license year; zero means time.Now
}

// Result is the generated file set plus how it was produced
type Result struct {
	Files  types.Files
	Status types.Status
	Reason string // why the result is degraded, empty when ok
}

// Generator produces site files from a brief
type Generator interface {
	Generate(ctx context.Context, brief string, attachments []types.Attachment, opts Options) (*Result, error)
}

// Template renders the entry document from an html/template file and
// falls back to a minimal page when the template cannot be used.
type Template struct {
	fsys   fs.FS
	path   string
	logger *slog.Logger
}

// NewTemplate creates a Template generator reading path from fsys
func NewTemplate(fsys fs.FS, path string, logger *slog.Logger) *Template {
	if logger == nil {
		logger = slog.Default()
	}
	return &Template{fsys: fsys, path: path, logger: logger}
}

// Default returns a Template generator backed by the embedded web template
func Default(logger *slog.Logger) *Template {
	return NewTemplate(embeddedTemplates, DefaultTemplatePath, logger)
}

type pageData struct {
	Title     string
	Brief     string
	SampleURL string
}

var titleUnsafe = regexp.MustCompile(`[^a-zA-Z0-9_-]`)
var sampleName = regexp.MustCompile(`(?i)sample`)

// Generate implements Generator
func (g *Template) Generate(ctx context.Context, brief string, attachments []types.Attachment, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	title := siteTitle(opts.Task)
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	res := &Result{
		Files: types.Files{
			ReadmeDocument:  []byte(renderReadme(title, brief)),
			LicenseDocument: []byte(renderLicense(now.Year(), opts.Owner)),
		},
		Status: types.StatusOK,
	}

	data := pageData{Title: title, Brief: brief}
	if sample := findSample(attachments); sample != nil {
		data.SampleURL = sample.URL
	}

	page, err := g.renderEntry(data)
	if err != nil {
		g.logger.Warn("template unavailable, using minimal page",
			slog.String("template", g.path),
			slog.String("error", err.Error()))
		page = []byte(renderFallback(title, brief))
		res.degrade(fmt.Sprintf("template unavailable: %v", err))
	}
	res.Files[EntryDocument] = page

	skipped := addAttachments(res.Files, attachments)
	if len(skipped) > 0 {
		g.logger.Warn("skipped undecodable attachments", slog.Any("names", skipped))
		res.degrade(fmt.Sprintf("undecodable attachments: %v", skipped))
	}

	return res, nil
}

func (g *Template) renderEntry(data pageData) ([]byte, error) {
	if g.fsys == nil {
		return nil, fmt.Errorf("no template filesystem")
	}
	raw, err := fs.ReadFile(g.fsys, g.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}
	tmpl, err := template.New("index").Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Result) degrade(reason string) {
	r.Status = types.StatusDegraded
	if r.Reason == "" {
		r.Reason = reason
		return
	}
	r.Reason += "; " + reason
}

func siteTitle(task string) string {
	if task == "" {
		return "task-site"
	}
	return titleUnsafe.ReplaceAllString(task, "-")
}

func findSample(attachments []types.Attachment) *types.Attachment {
	for i := range attachments {
		if sampleName.MatchString(attachments[i].Name) {
			return &attachments[i]
		}
	}
	return nil
}
