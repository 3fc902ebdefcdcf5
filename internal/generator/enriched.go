package generator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jonathan/site-deployer/internal/llm"
	"github.com/jonathan/site-deployer/internal/types"
)

const readmePrompt = `Write a professional README.md for a small static website repository.

Project name: %s
Brief:
%s

Files in the repository:
%s

Include these sections: a one-paragraph summary, Setup, Usage, Code explanation, License (MIT).
Return only the markdown document.`

// Enriched wraps a base generator and replaces README.md with an LLM-written one.
// LLM failures keep the base README and mark the result degraded.
type Enriched struct {
	base   Generator
	client llm.Client
	tier   llm.ModelTier
	logger *slog.Logger
}

// NewEnriched creates an Enriched generator
func NewEnriched(base Generator, client llm.Client, logger *slog.Logger) *Enriched {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enriched{base: base, client: client, tier: llm.TierStandard, logger: logger}
}

// Generate implements Generator
func (g *Enriched) Generate(ctx context.Context, brief string, attachments []types.Attachment, opts Options) (*Result, error) {
	res, err := g.base.Generate(ctx, brief, attachments, opts)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(readmePrompt, siteTitle(opts.Task), brief, strings.Join(res.Files.Paths(), "\n"))
	text, err := g.client.GenerateContent(ctx, prompt, g.tier)
	if err == nil {
		text = llm.StripCodeFence(text)
		if text == "" {
			err = fmt.Errorf("empty response")
		}
	}
	if err != nil {
		g.logger.Warn("README enrichment failed, keeping generated README",
			slog.String("task", opts.Task),
			slog.String("error", err.Error()))
		res.degrade(fmt.Sprintf("readme enrichment failed: %v", err))
		return res, nil
	}

	res.Files[ReadmeDocument] = []byte(text + "\n")
	return res, nil
}
