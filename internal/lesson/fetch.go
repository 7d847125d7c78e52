package lesson

import (
	"context"
	"fmt"

	"github.com/gurukul/orchestration-core/internal/gkerr"
	"github.com/gurukul/orchestration-core/internal/models"
	"github.com/gurukul/orchestration-core/internal/upstream"
)

// knowledgePassage and encyclopediaSummary are the shapes the two
// upstream services are expected to return; Do callers type-assert into
// these before validation, matching internal/tools/lesson.go's
// json.Unmarshal-into-typed-struct step in ParseContent.
type knowledgePassage struct {
	Text   string
	Source string
}

type encyclopediaSummary struct {
	Text  string
	Title string
	URL   string
}

func (c *Composer) fetchKnowledge(ctx context.Context, req models.LessonRequest) ([]models.LessonSource, error) {
	result, err := c.upstream.Call(ctx, upstream.Call{
		Service:    "knowledge_retriever",
		Endpoint:   "search",
		Idempotent: true,
		Do: func(ctx context.Context) (any, error) {
			return queryKnowledgeStore(ctx, req.Subject, req.Topic)
		},
	})
	if err != nil {
		return nil, err
	}

	passages, ok := result.([]knowledgePassage)
	if !ok || len(passages) == 0 {
		return nil, gkerr.New(gkerr.Internal, "knowledge retriever returned an invalid shape")
	}

	sources := make([]models.LessonSource, 0, len(passages))
	for _, p := range passages {
		if len(p.Text) < minBodyLength {
			continue
		}
		sources = append(sources, models.LessonSource{
			Text:       p.Text,
			SourceName: p.Source,
			Store:      models.StoreKnowledgeBase,
		})
	}
	if len(sources) == 0 {
		return nil, gkerr.New(gkerr.Internal, "knowledge retriever passages failed content validation")
	}
	return sources, nil
}

func (c *Composer) fetchEncyclopedia(ctx context.Context, req models.LessonRequest) ([]models.LessonSource, error) {
	result, err := c.upstream.Call(ctx, upstream.Call{
		Service:    "encyclopedia",
		Endpoint:   "summary",
		Idempotent: true,
		Do: func(ctx context.Context) (any, error) {
			return fetchEncyclopediaSummary(ctx, req.Topic)
		},
	})
	if err != nil {
		return nil, err
	}

	summary, ok := result.(encyclopediaSummary)
	if !ok || len(summary.Text) < minBodyLength {
		return nil, gkerr.New(gkerr.Internal, "encyclopedia fetcher returned an invalid shape")
	}

	return []models.LessonSource{{
		Text:       summary.Text,
		SourceName: summary.Title,
		Store:      models.StoreEncyclopedia,
		URL:        summary.URL,
	}}, nil
}

// queryKnowledgeStore and fetchEncyclopediaSummary are the actual wire
// calls against the external collaborators. The knowledge store and LLM
// providers themselves are explicitly out of scope for this repository;
// these functions are the seam where a concrete HTTP client for those
// services plugs in.
func queryKnowledgeStore(ctx context.Context, subject, topic string) ([]knowledgePassage, error) {
	return nil, gkerr.New(gkerr.HTTP5xx, fmt.Sprintf("knowledge store backend not configured for %s/%s", subject, topic))
}

func fetchEncyclopediaSummary(ctx context.Context, topic string) (encyclopediaSummary, error) {
	return encyclopediaSummary{}, gkerr.New(gkerr.HTTP5xx, fmt.Sprintf("encyclopedia backend not configured for %s", topic))
}
