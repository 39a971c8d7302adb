package models

import "testing"

func TestParseSplitMode(t *testing.T) {
	tests := []struct {
		in      string
		want    SplitMode
		wantErr bool
	}{
		{"section", SplitSection, false},
		{"SECTION", SplitSection, false},
		{"Hybrid", SplitHybrid, false},
		{"recursive-nlp", SplitRecursiveNLP, false},
		{"RECURSIVE_NLP", SplitRecursiveNLP, false},
		{" sentence ", SplitSentence, false},
		{"paragraph", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseSplitMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSplitMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSplitMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAllowsOverlap(t *testing.T) {
	for _, m := range SplitModes {
		if m.AllowsOverlap() != (m == SplitHybrid) {
			t.Errorf("%s.AllowsOverlap() = %v", m, m.AllowsOverlap())
		}
	}
}

func TestNewDocument(t *testing.T) {
	if _, err := NewDocument("a.tex", "x", SplitMode("bogus")); err == nil {
		t.Error("expected error for unknown mode")
	}
	doc, err := NewDocument("a.tex", "text", SplitSection)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Source != "a.tex" || doc.Text != "text" || doc.Mode != SplitSection {
		t.Errorf("unexpected document: %+v", doc)
	}
}

func TestKnowledgeFilter(t *testing.T) {
	item := &KnowledgeItem{KnowledgeType: "grammar", IssueCategory: []string{"article", "tense"}}
	tests := []struct {
		filter KnowledgeFilter
		want   bool
	}{
		{KnowledgeFilter{}, true},
		{KnowledgeFilter{KnowledgeType: "grammar"}, true},
		{KnowledgeFilter{KnowledgeType: "style"}, false},
		{KnowledgeFilter{IssueCategory: "tense"}, true},
		{KnowledgeFilter{KnowledgeType: "grammar", IssueCategory: "spelling"}, false},
	}
	for _, tt := range tests {
		if got := tt.filter.Matches(item); got != tt.want {
			t.Errorf("%+v.Matches = %v, want %v", tt.filter, got, tt.want)
		}
	}
}

func TestSameContent(t *testing.T) {
	a := &KnowledgeItem{ID: "1", Description: "d", IssueCategory: []string{"x"}, Embedding: []float32{1}}
	b := &KnowledgeItem{ID: "1", Description: "d", IssueCategory: []string{"x"}, Embedding: []float32{2}}
	if !a.SameContent(b) {
		t.Error("embedding should not affect SameContent")
	}
	b.IssueCategory = []string{"y"}
	if a.SameContent(b) {
		t.Error("different categories should differ")
	}
}
