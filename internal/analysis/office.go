package analysis

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	docxDocumentXMLPath = "word/document.xml"
	contentTypesPath    = "[Content_Types].xml"
	docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
	odfContentPath      = "content.xml"
)

var (
	// <w:t> and <a:t> runs, with any attributes.
	wtTag = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
	atTag = regexp.MustCompile(`<a:t[^>]*>([^<]*)</a:t>`)
	// OpenDocument paragraphs, headings and spans.
	odfText = regexp.MustCompile(`<text:(?:p|h|span)[^>]*>([^<]*)</text:(?:p|h|span)>`)

	// The Override for the main document part, with PartName before or after ContentType.
	partNameRe  = regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"`)
	partNameRe2 = regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"[^>]+PartName="([^"]+)"`)

	slideName = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
)

func openZip(content []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("not a zip: %w", err)
	}
	return zr, nil
}

// readPart returns the bytes of the named zip member, or nil when it is absent.
func readPart(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		b, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return b, nil
	}
	return nil, nil
}

// joinRuns joins the first capture of every match with single spaces.
func joinRuns(re *regexp.Regexp, xml []byte) string {
	var b strings.Builder
	for _, m := range re.FindAllSubmatch(xml, -1) {
		run := strings.TrimSpace(string(m[1]))
		if run == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(run)
	}
	return b.String()
}

func docxMainPath(zr *zip.Reader) string {
	types, err := readPart(zr, contentTypesPath)
	if err != nil || types == nil {
		return docxDocumentXMLPath
	}
	for _, re := range []*regexp.Regexp{partNameRe, partNameRe2} {
		if m := re.FindSubmatch(types); len(m) > 1 {
			return strings.TrimPrefix(string(m[1]), "/")
		}
	}
	return docxDocumentXMLPath
}

// extractDOCX collects every <w:t> run of the main document part.
func extractDOCX(content []byte) ([]Page, error) {
	zr, err := openZip(content)
	if err != nil {
		return nil, err
	}
	path := docxMainPath(zr)
	doc, err := readPart(zr, path)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%s not found", path)
	}
	return []Page{{Number: 1, Content: joinRuns(wtTag, doc)}}, nil
}

// extractPPTX returns one page per slide in slide-number order.
func extractPPTX(content []byte) ([]Page, error) {
	zr, err := openZip(content)
	if err != nil {
		return nil, err
	}
	type slide struct {
		n    int
		name string
	}
	var slides []slide
	for _, f := range zr.File {
		if m := slideName.FindStringSubmatch(f.Name); m != nil {
			n, _ := strconv.Atoi(m[1])
			slides = append(slides, slide{n: n, name: f.Name})
		}
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	pages := make([]Page, 0, len(slides))
	for i, s := range slides {
		xml, err := readPart(zr, s.name)
		if err != nil {
			return nil, err
		}
		pages = append(pages, Page{Number: i + 1, Content: joinRuns(atTag, xml)})
	}
	return pages, nil
}

// extractODF reads content.xml of an OpenDocument package.
func extractODF(content []byte) ([]Page, error) {
	zr, err := openZip(content)
	if err != nil {
		return nil, err
	}
	xml, err := readPart(zr, odfContentPath)
	if err != nil {
		return nil, err
	}
	if xml == nil {
		return nil, fmt.Errorf("%s not found", odfContentPath)
	}
	return []Page{{Number: 1, Content: joinRuns(odfText, xml)}}, nil
}
