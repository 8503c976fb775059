package database

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/edgengram"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"datec-go/internal/model"
)

const (
	textAnalyzer    = "datasetEdgeNgram"
	textTokenFilter = "datasetEdgeFilter"
)

// searchIndex is an in-memory full-text index over dataset name, description
// and tags. It is rebuilt from the datasets table when the store opens.
type searchIndex struct {
	bi bleve.Index
}

type datasetDoc struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Visible     bool     `json:"visible"`
}

func newSearchIndex() (*searchIndex, error) {
	m, err := buildMapping()
	if err != nil {
		return nil, err
	}
	bi, err := bleve.NewMemOnly(m)
	if err != nil {
		return nil, fmt.Errorf("creating search index: %w", err)
	}
	return &searchIndex{bi: bi}, nil
}

func buildMapping() (mapping.IndexMapping, error) {
	text := bleve.NewTextFieldMapping()
	text.Analyzer = textAnalyzer

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("name", text)
	doc.AddFieldMappingsAt("description", text)
	doc.AddFieldMappingsAt("tags", text)
	doc.AddFieldMappingsAt("visible", bleve.NewBooleanFieldMapping())

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	m.DefaultAnalyzer = textAnalyzer

	if err := m.AddCustomTokenFilter(textTokenFilter, map[string]any{
		"type": edgengram.Name,
		"min":  2.0,
		"max":  25.0,
	}); err != nil {
		return nil, fmt.Errorf("adding token filter: %w", err)
	}
	if err := m.AddCustomAnalyzer(textAnalyzer, map[string]any{
		"type":          custom.Name,
		"tokenizer":     unicode.Name,
		"token_filters": []string{lowercase.Name, textTokenFilter},
	}); err != nil {
		return nil, fmt.Errorf("adding analyzer: %w", err)
	}
	return m, nil
}

func toDoc(d *model.Dataset) datasetDoc {
	return datasetDoc{Name: d.Name, Description: d.Description, Tags: d.Tags, Visible: d.Visible()}
}

func (s *searchIndex) index(d *model.Dataset) error {
	return s.bi.Index(d.ID, toDoc(d))
}

func (s *searchIndex) indexAll(ds []*model.Dataset) error {
	b := s.bi.NewBatch()
	for _, d := range ds {
		if err := b.Index(d.ID, toDoc(d)); err != nil {
			return fmt.Errorf("indexing %s: %w", d.ID, err)
		}
	}
	return s.bi.Batch(b)
}

func (s *searchIndex) remove(id string) error {
	return s.bi.Delete(id)
}

// search returns the IDs of visible datasets matching text, best match first.
func (s *searchIndex) search(text string, limit int) ([]string, error) {
	fields := []string{"name", "description", "tags"}
	matches := make([]query.Query, len(fields))
	for i, f := range fields {
		mq := bleve.NewMatchQuery(text)
		mq.SetField(f)
		mq.Analyzer = textAnalyzer
		mq.SetOperator(query.MatchQueryOperatorAnd)
		matches[i] = mq
	}

	visible := bleve.NewBoolFieldQuery(true)
	visible.SetField("visible")

	q := bleve.NewConjunctionQuery(bleve.NewDisjunctionQuery(matches...), visible)
	res, err := s.bi.Search(bleve.NewSearchRequestOptions(q, limit, 0, false))
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}

	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

func (s *searchIndex) close() error {
	return s.bi.Close()
}
