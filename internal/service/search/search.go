// Package search maintains the image documents in Elasticsearch. Indexing
// is best-effort: handlers log failures and the database stays the source
// of truth.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/elastic/go-elasticsearch/v9"

	"github.com/valeri7122/GoIT-Team-3-WEB/internal/models"
)

type Service struct {
	ES    *elasticsearch.Client
	Index string
}

func NewService(es *elasticsearch.Client, index string) *Service {
	return &Service{ES: es, Index: index}
}

type ImageDoc struct {
	ID          uint     `json:"id"`
	UserID      uint     `json:"user_id"`
	URL         string   `json:"url"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

func docFromImage(img *models.Image) ImageDoc {
	tags := make([]string, len(img.Tags))
	for i, t := range img.Tags {
		tags[i] = t.Name
	}
	return ImageDoc{
		ID:          img.ID,
		UserID:      img.UserID,
		URL:         img.URL,
		Description: img.Description,
		Tags:        tags,
	}
}

func (s *Service) IndexImage(ctx context.Context, img *models.Image) error {
	if s == nil || s.ES == nil {
		return nil
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(docFromImage(img)); err != nil {
		return fmt.Errorf("encode image doc: %w", err)
	}

	res, err := s.ES.Index(
		s.Index,
		&buf,
		s.ES.Index.WithDocumentID(strconv.FormatUint(uint64(img.ID), 10)),
		s.ES.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("index image: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index image: %s", res.Status())
	}
	return nil
}

func (s *Service) DeleteImage(ctx context.Context, imageID uint) error {
	if s == nil || s.ES == nil {
		return nil
	}

	res, err := s.ES.Delete(
		s.Index,
		strconv.FormatUint(uint64(imageID), 10),
		s.ES.Delete.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("delete image doc: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != 404 {
		return fmt.Errorf("delete image doc: %s", res.Status())
	}
	return nil
}

func (s *Service) Search(ctx context.Context, query string, from, size int) (int64, []ImageDoc, error) {
	if s == nil || s.ES == nil {
		return 0, nil, nil
	}

	body := map[string]interface{}{
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":     query,
				"fields":    []string{"tags^2", "description"},
				"fuzziness": "AUTO",
			},
		},
		"from": from,
		"size": size,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return 0, nil, fmt.Errorf("encode query: %w", err)
	}

	res, err := s.ES.Search(
		s.ES.Search.WithContext(ctx),
		s.ES.Search.WithIndex(s.Index),
		s.ES.Search.WithBody(&buf),
	)
	if err != nil {
		return 0, nil, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return 0, nil, fmt.Errorf("search: %s", res.Status())
	}

	var r struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source ImageDoc `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return 0, nil, err
	}

	docs := make([]ImageDoc, len(r.Hits.Hits))
	for i, hit := range r.Hits.Hits {
		docs[i] = hit.Source
	}
	return r.Hits.Total.Value, docs, nil
}
