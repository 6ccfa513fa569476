package extractor

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	mdHeaderRe = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)
	mdLinkRe   = regexp.MustCompile(`\[[^\]]*\]\([^)]+\)`)
	mdImageRe  = regexp.MustCompile(`!\[[^\]]*\]\([^)]+\)`)
	mdFenceRe  = regexp.MustCompile("(?m)^```")
)

// Markdown extracts text and document structure from Markdown files.
// YAML front matter, when present, becomes part of the metadata.
type Markdown struct{}

func NewMarkdown() *Markdown { return &Markdown{} }

func (m *Markdown) Name() string { return "markdown" }

func (m *Markdown) Extensions() []string {
	return []string{".md", ".markdown", ".mdown", ".mkd"}
}

func (m *Markdown) CanHandle(path string) bool {
	return matchesFile(path, m.Extensions(), []string{"text/markdown", "text/x-markdown"})
}

func (m *Markdown) Extract(ctx context.Context, path, outputDir string) *Result {
	data, err := os.ReadFile(path)
	if err != nil {
		return Failure("read markdown file: %v", err)
	}

	frontMatter, body := splitFrontMatter(string(data))

	meta := map[string]string{}
	for k, v := range frontMatter {
		meta["fm_"+k] = fmt.Sprint(v)
	}
	if title, ok := frontMatter["title"]; ok {
		meta["title"] = fmt.Sprint(title)
	} else if h := mdHeaderRe.FindStringSubmatch(body); h != nil {
		meta["title"] = h[2]
	}

	headers := mdHeaderRe.FindAllStringSubmatch(body, -1)
	var outline []string
	for _, h := range headers {
		indent := strings.Repeat("  ", len(h[1])-1)
		outline = append(outline, indent+h[2])
	}
	if len(outline) > 0 {
		meta["outline"] = strings.Join(outline, "\n")
	}

	images := mdImageRe.FindAllString(body, -1)
	meta["headers"] = strconv.Itoa(len(headers))
	meta["links"] = strconv.Itoa(len(mdLinkRe.FindAllString(body, -1)) - len(images))
	meta["image_references"] = strconv.Itoa(len(images))
	meta["code_blocks"] = strconv.Itoa(len(mdFenceRe.FindAllString(body, -1)) / 2)
	meta["words"] = strconv.Itoa(len(strings.Fields(body)))

	return &Result{Success: true, Text: body, Metadata: meta}
}

// splitFrontMatter strips a leading YAML front matter block ("---" fences).
// A malformed block is left in place rather than dropped.
func splitFrontMatter(content string) (map[string]any, string) {
	if !strings.HasPrefix(content, "---\n") {
		return nil, content
	}
	end := strings.Index(content[4:], "\n---\n")
	if end == -1 {
		return nil, content
	}

	var fm map[string]any
	if err := yaml.Unmarshal([]byte(content[4:4+end]), &fm); err != nil {
		return nil, content
	}
	return fm, content[4+end+5:]
}
