package analysis

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/xuri/excelize/v2"
)

func zipOf(files map[string]string) []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, body := range files {
		fw, _ := w.Create(name)
		_, _ = fw.Write([]byte(body))
	}
	_ = w.Close()
	return buf.Bytes()
}

func wordXML(text string) string {
	return `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body><w:p w:rsidR="00A1"><w:r><w:t xml:space="preserve">` + text + `</w:t></w:r></w:p></w:body></w:document>`
}

func slideXML(text string) string {
	return `<p:sld><p:cSld><p:spTree><p:sp><p:txBody><a:p><a:r><a:t>` + text + `</a:t></a:r></a:p></p:txBody></p:sp></p:spTree></p:cSld></p:sld>`
}

func TestLocalAnalyzer_Formats(t *testing.T) {
	contentTypes := func(order string) string {
		ct := `ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"`
		pn := `PartName="/word/document2.xml"`
		if order == "reversed" {
			return `<Types><Override ` + ct + ` ` + pn + `/></Types>`
		}
		return `<Types><Override ` + pn + ` ` + ct + `/></Types>`
	}

	tests := []struct {
		name      string
		ext       string
		content   []byte
		wantText  string
		wantPages int
	}{
		{name: "tex", ext: ".tex", content: []byte("\\section{Intro}\nText."), wantText: "\\section{Intro}\nText.", wantPages: 1},
		{name: "extension without dot", ext: "TXT", content: []byte("plain"), wantText: "plain", wantPages: 1},
		{name: "invalid utf-8", ext: ".rst", content: []byte("hello\x80world"), wantText: "hello\uFFFDworld", wantPages: 1},
		{name: "docx", ext: ".docx", content: zipOf(map[string]string{"word/document.xml": wordXML("Searchable docx content")}), wantText: "Searchable docx content", wantPages: 1},
		{
			name: "docx with custom main part",
			ext:  ".docx",
			content: zipOf(map[string]string{
				"[Content_Types].xml": contentTypes("normal"),
				"word/document2.xml":  wordXML("Content from document2"),
			}),
			wantText:  "Content from document2",
			wantPages: 1,
		},
		{
			name: "docx content types reversed",
			ext:  ".docx",
			content: zipOf(map[string]string{
				"[Content_Types].xml": contentTypes("reversed"),
				"word/document2.xml":  wordXML("Reversed order test"),
			}),
			wantText:  "Reversed order test",
			wantPages: 1,
		},
		{
			name: "pptx slides in numeric order",
			ext:  ".pptx",
			content: zipOf(map[string]string{
				"ppt/slides/slide10.xml": slideXML("Tenth"),
				"ppt/slides/slide2.xml":  slideXML("Second"),
				"ppt/slides/slide1.xml":  slideXML("First"),
			}),
			wantText:  "First\nSecond\nTenth",
			wantPages: 3,
		},
		{name: "pptx without slides", ext: ".pptx", content: zipOf(map[string]string{"ppt/slides/other.xml": ""}), wantText: "", wantPages: 0},
		{
			name:      "odp keeps document order",
			ext:       ".odp",
			content:   zipOf(map[string]string{"content.xml": `<office:document><draw:page><text:h>Slide title</text:h><text:p>Body text</text:p></draw:page></office:document>`}),
			wantText:  "Slide title Body text",
			wantPages: 1,
		},
		{
			name:      "ods cells",
			ext:       ".ods",
			content:   zipOf(map[string]string{"content.xml": `<table:table-row><table:table-cell><text:p>Cell A</text:p></table:table-cell><table:table-cell><text:span>Cell B</text:span></table:table-cell></table:table-row>`}),
			wantText:  "Cell A Cell B",
			wantPages: 1,
		},
	}

	a := NewLocalAnalyzer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.Analyze(context.Background(), tt.content, tt.ext)
			if err != nil {
				t.Fatalf("Analyze: %v", err)
			}
			if got.Content != tt.wantText {
				t.Errorf("Content = %q, want %q", got.Content, tt.wantText)
			}
			if got.PageCount() != tt.wantPages {
				t.Errorf("pages = %d, want %d", got.PageCount(), tt.wantPages)
			}
		})
	}
}

func TestLocalAnalyzer_Excel(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	f.SetCellValue("Sheet1", "A1", "Title")
	f.SetCellValue("Sheet1", "A2", "Value 1")
	f.SetCellValue("Sheet1", "B2", "Value 2")
	if _, err := f.NewSheet("Notes"); err != nil {
		t.Fatal(err)
	}
	f.SetCellValue("Notes", "A1", "Second sheet")
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	got, err := NewLocalAnalyzer().Analyze(context.Background(), buf.Bytes(), ".xlsx")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got.PageCount() != 2 {
		t.Fatalf("pages = %d, want 2", got.PageCount())
	}
	if got.Pages[0].Content != "Title\nValue 1\tValue 2" {
		t.Errorf("sheet 1 = %q", got.Pages[0].Content)
	}
	if got.Pages[1].Content != "Second sheet" || got.Pages[1].Number != 2 {
		t.Errorf("sheet 2 = %+v", got.Pages[1])
	}
}

func TestLocalAnalyzer_Errors(t *testing.T) {
	a := NewLocalAnalyzer()
	ctx := context.Background()

	_, err := a.Analyze(ctx, []byte("x"), ".xyz")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("unknown ext: got %v", err)
	}

	_, err = a.Analyze(ctx, []byte("not a zip"), ".pptx")
	var ae *AnalysisError
	if !errors.As(err, &ae) || ae.Temporary() {
		t.Errorf("bad pptx: got %v", err)
	}

	_, err = a.Analyze(ctx, zipOf(map[string]string{"other.xml": ""}), ".odp")
	if err == nil {
		t.Error("expected error when content.xml missing")
	}

	_, err = a.Analyze(ctx, []byte("%PDF-broken"), ".pdf")
	if err == nil {
		t.Error("expected error for malformed PDF")
	}

	if !a.Supports("PDF") || a.Supports(".exe") {
		t.Error("Supports mismatch")
	}
}
