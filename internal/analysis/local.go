package analysis

import (
	"context"
	"strings"
)

const (
	localAnalyzerName    = "local"
	localAnalyzerVersion = 1
)

// LocalAnalyzer extracts the text layer of documents in-process.
type LocalAnalyzer struct{}

// NewLocalAnalyzer returns a LocalAnalyzer.
func NewLocalAnalyzer() *LocalAnalyzer {
	return &LocalAnalyzer{}
}

func (a *LocalAnalyzer) Name() string { return localAnalyzerName }

func (a *LocalAnalyzer) Version() int { return localAnalyzerVersion }

// Supports reports whether ext can be analyzed.
func (a *LocalAnalyzer) Supports(ext string) bool {
	_, ok := formats[NormalizeExt(ext)]
	return ok
}

type extractFunc func(content []byte) ([]Page, error)

var formats = map[string]extractFunc{
	".pdf":  extractPDF,
	".docx": extractDOCX,
	".xlsx": extractExcel,
	".pptx": extractPPTX,
	".odp":  extractODF,
	".ods":  extractODF,
	".odt":  extractODF,
	".tex":  nil,
	".bib":  nil,
	".sty":  nil,
	".cls":  nil,
	".txt":  nil,
	".md":   nil,
	".rst":  nil,
	"":      nil,
}

// Analyze dispatches on ext. Text formats are decoded into a single page.
func (a *LocalAnalyzer) Analyze(ctx context.Context, content []byte, ext string) (*Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ext = NormalizeExt(ext)
	extract, ok := formats[ext]
	if !ok {
		return nil, &AnalysisError{Op: "dispatch", Ext: ext, Err: ErrUnsupportedFormat}
	}
	if extract == nil {
		text, enc, err := DecodeText(content)
		if err != nil {
			return nil, &AnalysisError{Op: "decode", Ext: ext, Err: err}
		}
		return &Analysis{
			Format:   strings.TrimPrefix(ext, "."),
			Encoding: enc,
			Content:  text,
			Pages:    []Page{{Number: 1, Content: text}},
		}, nil
	}
	pages, err := extract(content)
	if err != nil {
		return nil, &AnalysisError{Op: "extract", Ext: ext, Err: err}
	}
	return &Analysis{
		Format:  strings.TrimPrefix(ext, "."),
		Content: joinPages(pages),
		Pages:   pages,
	}, nil
}
