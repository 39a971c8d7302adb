package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hyperjump/kousei/internal/cache"
	"github.com/hyperjump/kousei/internal/llm"
	"github.com/hyperjump/kousei/internal/models"
	"github.com/hyperjump/kousei/pkg/utils"
	"go.uber.org/zap"
)

// LabelKnowledge is the cache label of extraction results.
const LabelKnowledge = "knowledge"

const extractionPromptVersion = 1

const extractionSystemPrompt = `You extract reusable proofreading knowledge from academic writing guides and reviewed LaTeX papers.
Return a JSON object {"knowledge_list": [...]} where each element has:
  "description": one self-contained rule or piece of advice, in English,
  "issue_category": a list of short categories such as "grammar", "style", "terminology", "latex", "structure".
Only include advice that applies beyond this specific text. Return {"knowledge_list": []} when there is none.`

// ExtractorConfig bounds accepted descriptions.
type ExtractorConfig struct {
	Model             string `yaml:"model"`
	MinDescriptionLen int    `yaml:"min_description_length"`
	MaxDescriptionLen int    `yaml:"max_description_length"`
}

// DefaultExtractorConfig returns the description bounds used when configuration is silent.
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{MinDescriptionLen: 10, MaxDescriptionLen: 1000}
}

// Extractor asks an LLM for knowledge items contained in a text chunk. Responses are
// cached by (chunk text, model, knowledge type).
type Extractor struct {
	gen    llm.Generator
	cache  *cache.Cache
	cfg    ExtractorConfig
	logger *zap.Logger
}

// NewExtractor creates an extractor. logger may be nil.
func NewExtractor(gen llm.Generator, c *cache.Cache, cfg ExtractorConfig, logger *zap.Logger) *Extractor {
	d := DefaultExtractorConfig()
	if cfg.MinDescriptionLen <= 0 {
		cfg.MinDescriptionLen = d.MinDescriptionLen
	}
	if cfg.MaxDescriptionLen <= 0 {
		cfg.MaxDescriptionLen = d.MaxDescriptionLen
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{gen: gen, cache: c, cfg: cfg, logger: logger}
}

type extracted struct {
	Description   string   `json:"description"`
	IssueCategory []string `json:"issue_category"`
}

type extractionResponse struct {
	KnowledgeList []extracted `json:"knowledge_list"`
}

// Extract returns the valid, deduplicated items found in text, stamped with source and
// knowledgeType. Items carry no embedding.
func (e *Extractor) Extract(ctx context.Context, text, source, knowledgeType string) ([]*models.KnowledgeItem, error) {
	knowledgeType = strings.TrimSpace(knowledgeType)
	key, err := cache.Fingerprint([]byte(text), cache.Params{
		"model":          e.cfg.Model,
		"knowledge_type": knowledgeType,
		"prompt_version": extractionPromptVersion,
	})
	if err != nil {
		return nil, err
	}
	payload, err := e.cache.GetOrCompute(ctx, key, func(ctx context.Context) ([]byte, error) {
		out, err := e.gen.Generate(ctx, llm.Prompt{System: extractionSystemPrompt, User: text})
		if err != nil {
			return nil, err
		}
		raw, err := parseExtraction(out)
		if err != nil {
			return nil, err
		}
		return json.Marshal(raw)
	}, cache.Labeled(LabelKnowledge))
	if err != nil {
		return nil, fmt.Errorf("failed to extract knowledge: %w", err)
	}

	var raw []extracted
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode cached knowledge %s: %w", key.Short(), err)
	}
	items := make([]*models.KnowledgeItem, 0, len(raw))
	for _, r := range raw {
		desc := strings.TrimSpace(r.Description)
		if !e.valid(desc) {
			e.logger.Debug("skipping knowledge item", zap.String("description", utils.Truncate(desc, 50)))
			continue
		}
		items = append(items, &models.KnowledgeItem{
			ID:            ItemID(knowledgeType, desc),
			Description:   desc,
			IssueCategory: cleanCategories(r.IssueCategory),
			ReferenceURL:  source,
			KnowledgeType: knowledgeType,
			Source:        source,
		})
	}
	return Dedupe(items), nil
}

func (e *Extractor) valid(desc string) bool {
	n := utils.RuneLen(desc)
	return n >= e.cfg.MinDescriptionLen && n <= e.cfg.MaxDescriptionLen
}

// parseExtraction accepts the JSON object, a bare JSON array, or either wrapped in a
// Markdown code fence.
func parseExtraction(out string) ([]extracted, error) {
	s := strings.TrimSpace(out)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if strings.HasPrefix(s, "[") {
		var list []extracted
		if err := json.Unmarshal([]byte(s), &list); err != nil {
			return nil, fmt.Errorf("malformed knowledge list: %w", err)
		}
		return list, nil
	}
	start, end := strings.Index(s, "{"), strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in extraction response")
	}
	var resp extractionResponse
	if err := json.Unmarshal([]byte(s[start:end+1]), &resp); err != nil {
		return nil, fmt.Errorf("malformed knowledge response: %w", err)
	}
	return resp.KnowledgeList, nil
}

func cleanCategories(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, c := range in {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// Dedupe keeps the first item for each case-insensitive description.
func Dedupe(items []*models.KnowledgeItem) []*models.KnowledgeItem {
	seen := make(map[string]bool, len(items))
	out := items[:0:0]
	for _, it := range items {
		k := normalizeDescription(it.Description)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, it)
	}
	return out
}
