package extractor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// PDF extracts text and metadata through the poppler command line tools.
// pdftotext is required; pdfinfo and pdfimages are used best-effort for
// metadata and embedded images.
type PDF struct {
	pdftotext string
	pdfinfo   string
	pdfimages string
}

func NewPDF() *PDF {
	p := &PDF{pdftotext: "pdftotext", pdfinfo: "pdfinfo", pdfimages: "pdfimages"}
	return p
}

func (p *PDF) Name() string { return "pdf" }

func (p *PDF) Extensions() []string { return []string{".pdf"} }

func (p *PDF) CanHandle(path string) bool {
	return matchesFile(path, p.Extensions(), []string{"application/pdf"})
}

func (p *PDF) Extract(ctx context.Context, path, outputDir string) *Result {
	if _, err := exec.LookPath(p.pdftotext); err != nil {
		return Failure("pdftotext not found in PATH: install poppler-utils")
	}

	text, err := p.runText(ctx, path)
	if err != nil {
		return Failure("extract pdf text: %v", err)
	}

	meta := p.runInfo(ctx, path)
	images := p.runImages(ctx, path, outputDir)

	return &Result{Success: true, Text: text, Images: images, Metadata: meta}
}

func (p *PDF) runText(ctx context.Context, path string) (string, error) {
	cmd := exec.CommandContext(ctx, p.pdftotext, "-enc", "UTF-8", path, "-")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// runInfo parses pdfinfo's "Key: value" output into metadata. Failure to
// run the tool just yields empty metadata.
func (p *PDF) runInfo(ctx context.Context, path string) map[string]string {
	meta := map[string]string{}
	out, err := exec.CommandContext(ctx, p.pdfinfo, path).Output()
	if err != nil {
		return meta
	}

	wanted := map[string]string{
		"Title":        "title",
		"Author":       "author",
		"Subject":      "subject",
		"Keywords":     "keywords",
		"Creator":      "creator",
		"Producer":     "producer",
		"CreationDate": "created",
		"ModDate":      "modified",
		"Pages":        "pages",
	}
	for _, line := range strings.Split(string(out), "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if mapped, ok := wanted[strings.TrimSpace(key)]; ok {
			setIfNotEmpty(meta, mapped, strings.TrimSpace(value))
		}
	}
	return meta
}

// runImages dumps embedded images as PNG under outputDir/images.
func (p *PDF) runImages(ctx context.Context, path, outputDir string) []string {
	dir, err := imagesDir(outputDir)
	if err != nil {
		return nil
	}
	prefix := filepath.Join(dir, "pdf_img")
	if err := exec.CommandContext(ctx, p.pdfimages, "-png", path, prefix).Run(); err != nil {
		return nil
	}

	matches, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil
	}

	var images []string
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.Size() > 0 {
			images = append(images, m)
		}
	}
	return images
}
