package models

import "strings"

// KnowledgeItem is a unit of proofreading knowledge stored in the vector store.
type KnowledgeItem struct {
	ID            string    `json:"id"`
	Description   string    `json:"description"`
	IssueCategory []string  `json:"issue_category"`
	ReferenceURL  string    `json:"reference_url,omitempty"`
	KnowledgeType string    `json:"knowledge_type"`
	Source        string    `json:"source,omitempty"`
	Embedding     []float32 `json:"-"`
}

// SameContent reports whether two items carry identical stored content, ignoring the embedding.
func (k *KnowledgeItem) SameContent(o *KnowledgeItem) bool {
	if k.ID != o.ID || k.Description != o.Description || k.ReferenceURL != o.ReferenceURL ||
		k.KnowledgeType != o.KnowledgeType || k.Source != o.Source {
		return false
	}
	return strings.Join(k.IssueCategory, "\x00") == strings.Join(o.IssueCategory, "\x00")
}

// KnowledgeFilter restricts a search. Empty fields match everything.
type KnowledgeFilter struct {
	KnowledgeType string `json:"knowledge_type,omitempty" yaml:"knowledge_type"`
	IssueCategory string `json:"issue_category,omitempty" yaml:"issue_category"`
}

// Matches reports whether item satisfies the filter.
func (f KnowledgeFilter) Matches(item *KnowledgeItem) bool {
	if f.KnowledgeType != "" && item.KnowledgeType != f.KnowledgeType {
		return false
	}
	if f.IssueCategory == "" {
		return true
	}
	for _, c := range item.IssueCategory {
		if c == f.IssueCategory {
			return true
		}
	}
	return false
}

// IsZero reports whether the filter matches everything.
func (f KnowledgeFilter) IsZero() bool {
	return f.KnowledgeType == "" && f.IssueCategory == ""
}
