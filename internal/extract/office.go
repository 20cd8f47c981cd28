package extract

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	docxDocumentXMLPath = "word/document.xml"
	contentTypesPath    = "[Content_Types].xml"
	docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
	pptxSlidePathPrefix = "ppt/slides/slide"
)

var (
	// <w:t>text</w:t> with any attributes.
	wtTag = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
	// <a:t>text</a:t> with any attributes.
	atTag = regexp.MustCompile(`<a:t[^>]*>([^<]*)</a:t>`)

	// PartName of the main document, in either attribute order.
	partNameRe  = regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"`)
	partNameRe2 = regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"[^>]+PartName="([^"]+)"`)

	slideNumberRe = regexp.MustCompile(`slide(\d+)\.xml$`)
)

// extractDOCX pulls every <w:t> text node out of the main document part. The main
// part is located through [Content_Types].xml and falls back to word/document.xml.
func extractDOCX(content []byte) (string, error) {
	zr, err := openZip(content, "DOCX")
	if err != nil {
		return "", err
	}

	docPath := docxDocumentXMLPath
	if ct, err := readZipEntry(zr, contentTypesPath); err == nil && ct != nil {
		s := string(ct)
		if m := partNameRe.FindStringSubmatch(s); len(m) > 1 {
			docPath = strings.TrimPrefix(m[1], "/")
		} else if m := partNameRe2.FindStringSubmatch(s); len(m) > 1 {
			docPath = strings.TrimPrefix(m[1], "/")
		}
	}

	docXML, err := readZipEntry(zr, docPath)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}
	if docXML == nil {
		return "", fmt.Errorf("extract DOCX: %s not found", docPath)
	}
	return joinMatches(string(docXML), wtTag), nil
}

// extractPPTX returns one page per slide, ordered by slide number.
func extractPPTX(content []byte) ([]Page, error) {
	zr, err := openZip(content, "PPTX")
	if err != nil {
		return nil, err
	}
	var pages []Page
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, pptxSlidePathPrefix) || !strings.HasSuffix(f.Name, ".xml") {
			continue
		}
		data, err := readZipFile(f)
		if err != nil {
			return nil, fmt.Errorf("extract PPTX: %w", err)
		}
		n := len(pages) + 1
		if m := slideNumberRe.FindStringSubmatch(f.Name); len(m) > 1 {
			if v, err := strconv.Atoi(m[1]); err == nil {
				n = v
			}
		}
		pages = append(pages, Page{Number: n, Text: joinMatches(string(data), atTag)})
	}
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].Number < pages[j].Number })
	return pages, nil
}
