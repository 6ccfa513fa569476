package extractor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSX extracts cell text, workbook properties and embedded pictures from
// Office Open XML spreadsheets.
type XLSX struct{}

func NewXLSX() *XLSX { return &XLSX{} }

func (x *XLSX) Name() string { return "xlsx" }

func (x *XLSX) Extensions() []string { return []string{".xlsx"} }

func (x *XLSX) CanHandle(path string) bool {
	return matchesFile(path, x.Extensions(),
		[]string{"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"})
}

func (x *XLSX) Extract(ctx context.Context, path, outputDir string) *Result {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return Failure("open workbook: %v", err)
	}
	defer f.Close()

	meta := map[string]string{}
	if props, err := f.GetDocProps(); err == nil && props != nil {
		setIfNotEmpty(meta, "title", props.Title)
		setIfNotEmpty(meta, "author", props.Creator)
		setIfNotEmpty(meta, "subject", props.Subject)
		setIfNotEmpty(meta, "keywords", props.Keywords)
		setIfNotEmpty(meta, "category", props.Category)
		setIfNotEmpty(meta, "created", props.Created)
		setIfNotEmpty(meta, "modified", props.Modified)
		setIfNotEmpty(meta, "last_modified_by", props.LastModifiedBy)
	}

	sheets := f.GetSheetList()
	meta["sheets"] = strconv.Itoa(len(sheets))
	meta["sheet_names"] = strings.Join(sheets, ", ")

	var sb strings.Builder
	var images []string
	imgCounter := 1

	for sheetIdx, sheet := range sheets {
		if ctx.Err() != nil {
			return Failure("extraction interrupted: %v", ctx.Err())
		}

		fmt.Fprintf(&sb, "=== Sheet: %s ===\n", sheet)
		rows, err := f.GetRows(sheet)
		if err != nil {
			return Failure("read sheet %s: %v", sheet, err)
		}
		for _, row := range rows {
			line := strings.TrimRight(strings.Join(row, "\t"), "\t")
			if line != "" {
				sb.WriteString(line)
				sb.WriteString("\n")
			}
		}
		sb.WriteString("\n")

		cells, err := f.GetPictureCells(sheet)
		if err != nil {
			continue
		}
		for _, cell := range cells {
			pics, err := f.GetPictures(sheet, cell)
			if err != nil {
				continue
			}
			for _, pic := range pics {
				dir, err := imagesDir(outputDir)
				if err != nil {
					return Failure("%v", err)
				}
				name := fmt.Sprintf("xlsx_sheet_%d_img_%d%s", sheetIdx+1, imgCounter, pic.Extension)
				dst := filepath.Join(dir, name)
				if err := os.WriteFile(dst, pic.File, 0o644); err != nil {
					return Failure("write picture %s: %v", name, err)
				}
				images = append(images, dst)
				imgCounter++
			}
		}
	}

	return &Result{Success: true, Text: sb.String(), Images: images, Metadata: meta}
}

func setIfNotEmpty(m map[string]string, key, value string) {
	if value != "" {
		m[key] = value
	}
}
