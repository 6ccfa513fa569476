package extractor

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// DOCX extracts text, core properties and embedded media from Word
// documents. A .docx is a zip archive: paragraph text lives in
// word/document.xml, properties in docProps/core.xml and images under
// word/media/.
type DOCX struct{}

func NewDOCX() *DOCX { return &DOCX{} }

func (d *DOCX) Name() string { return "docx" }

func (d *DOCX) Extensions() []string { return []string{".docx"} }

func (d *DOCX) CanHandle(path string) bool {
	return matchesFile(path, d.Extensions(),
		[]string{"application/vnd.openxmlformats-officedocument.wordprocessingml.document"})
}

func (d *DOCX) Extract(ctx context.Context, filePath, outputDir string) *Result {
	r, err := zip.OpenReader(filePath)
	if err != nil {
		return Failure("open docx archive: %v", err)
	}
	defer r.Close()

	var text string
	meta := map[string]string{}
	var images []string

	for _, f := range r.File {
		if ctx.Err() != nil {
			return Failure("extraction interrupted: %v", ctx.Err())
		}
		switch {
		case f.Name == "word/document.xml":
			text, err = readDocumentText(f)
			if err != nil {
				return Failure("parse document body: %v", err)
			}
		case f.Name == "docProps/core.xml":
			readCoreProps(f, meta)
		case strings.HasPrefix(f.Name, "word/media/"):
			img, err := copyMedia(f, outputDir)
			if err != nil {
				return Failure("extract media %s: %v", f.Name, err)
			}
			if img != "" {
				images = append(images, img)
			}
		}
	}

	if text == "" && len(meta) == 0 {
		return Failure("not a Word document: word/document.xml missing")
	}
	return &Result{Success: true, Text: text, Images: images, Metadata: meta}
}

// readDocumentText walks the WordprocessingML body, collecting run text and
// inserting a newline at every paragraph end.
func readDocumentText(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var sb strings.Builder
	dec := xml.NewDecoder(rc)
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return sb.String(), nil
}

// readCoreProps pulls the Dublin Core properties out of docProps/core.xml.
func readCoreProps(f *zip.File, meta map[string]string) {
	rc, err := f.Open()
	if err != nil {
		return
	}
	defer rc.Close()

	var props struct {
		Title          string `xml:"title"`
		Creator        string `xml:"creator"`
		Subject        string `xml:"subject"`
		Keywords       string `xml:"keywords"`
		Description    string `xml:"description"`
		LastModifiedBy string `xml:"lastModifiedBy"`
		Created        string `xml:"created"`
		Modified       string `xml:"modified"`
	}
	if err := xml.NewDecoder(rc).Decode(&props); err != nil {
		return
	}
	setIfNotEmpty(meta, "title", props.Title)
	setIfNotEmpty(meta, "author", props.Creator)
	setIfNotEmpty(meta, "subject", props.Subject)
	setIfNotEmpty(meta, "keywords", props.Keywords)
	setIfNotEmpty(meta, "comments", props.Description)
	setIfNotEmpty(meta, "last_modified_by", props.LastModifiedBy)
	setIfNotEmpty(meta, "created", props.Created)
	setIfNotEmpty(meta, "modified", props.Modified)
}

// copyMedia writes one word/media entry into the job's images directory.
func copyMedia(f *zip.File, outputDir string) (string, error) {
	dir, err := imagesDir(outputDir)
	if err != nil {
		return "", err
	}

	name := path.Base(f.Name)
	if name == "." || name == "/" {
		return "", nil
	}
	dst := filepath.Join(dir, "docx_"+name)

	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer out.Close()

	// Cap each media entry to keep a crafted archive from filling the disk.
	if _, err := io.Copy(out, io.LimitReader(rc, 100<<20)); err != nil {
		return "", fmt.Errorf("copy media: %w", err)
	}
	return dst, nil
}
