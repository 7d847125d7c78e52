// Package lesson implements the Lesson Composer: a Lesson artifact
// from a LessonRequest under strict source isolation. Content is checked
// only for a minimum body length (fetch.go). There is no fallback chain:
// a single-source mode whose fetch fails returns upstream_unavailable,
// the two-source mode keeps whichever source succeeded, and the template
// is used only when no source is requested. The per-topic deterministic template
// for the no-sources mode borrows the seed-template idea from a
// reference lesson_seed.go implementation.
package lesson

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gurukul/orchestration-core/internal/gkerr"
	"github.com/gurukul/orchestration-core/internal/models"
	"github.com/gurukul/orchestration-core/internal/upstream"
	"github.com/gurukul/orchestration-core/pkg/logger"
)

const encyclopediaMarker = "According to Encyclopedia"

// minBodyLength is the content-validation floor a generated section must
// clear, matching internal/tools/lesson.go's length-bound Validate().
const minBodyLength = 20

// Composer produces Lesson artifacts. It never consults existing
// artifacts — the Gateway enforces the (subject,topic) conflict rule
// before the composer is ever invoked.
type Composer struct {
	upstream *upstream.Client
	log      *slog.Logger
}

// New builds a Composer wired to the shared Upstream Client.
func New(client *upstream.Client, log *slog.Logger) *Composer {
	return &Composer{upstream: client, log: log}
}

// Compose produces a Lesson for req, honoring the exhaustive four-mode
// operating table.
func (c *Composer) Compose(ctx context.Context, req models.LessonRequest) (*models.Lesson, error) {
	switch {
	case req.UseKnowledgeStore && !req.IncludeEncyclopedia:
		return c.composeKnowledgeOnly(ctx, req)
	case !req.UseKnowledgeStore && req.IncludeEncyclopedia:
		return c.composeEncyclopediaOnly(ctx, req)
	case req.UseKnowledgeStore && req.IncludeEncyclopedia:
		return c.composeBoth(ctx, req)
	default:
		return c.composeTemplate(req), nil
	}
}

func (c *Composer) composeKnowledgeOnly(ctx context.Context, req models.LessonRequest) (*models.Lesson, error) {
	sources, err := c.fetchKnowledge(ctx, req)
	if err != nil {
		logger.ErrorWithErr(c.log, ctx, "lesson_kb_fetch_failed", err, slog.String("topic", req.Topic))
		return nil, gkerr.Wrap(gkerr.UpstreamUnavailable, "knowledge store unavailable and no fallback could produce a valid artifact", err)
	}

	lesson := c.assemble(req, sources, "knowledge_store_enhanced")
	if strings.Contains(lesson.Body, encyclopediaMarker) {
		return nil, gkerr.New(gkerr.Internal, "source isolation violated: encyclopedia marker in knowledge-only lesson")
	}
	return lesson, nil
}

func (c *Composer) composeEncyclopediaOnly(ctx context.Context, req models.LessonRequest) (*models.Lesson, error) {
	sources, err := c.fetchEncyclopedia(ctx, req)
	if err != nil {
		logger.ErrorWithErr(c.log, ctx, "lesson_encyclopedia_fetch_failed", err, slog.String("topic", req.Topic))
		return nil, gkerr.Wrap(gkerr.UpstreamUnavailable, "encyclopedia unavailable and no fallback could produce a valid artifact", err)
	}
	return c.assemble(req, sources, "encyclopedia_enhanced"), nil
}

func (c *Composer) composeBoth(ctx context.Context, req models.LessonRequest) (*models.Lesson, error) {
	kbSources, kbErr := c.fetchKnowledge(ctx, req)
	encSources, encErr := c.fetchEncyclopedia(ctx, req)

	if kbErr != nil && encErr != nil {
		return nil, gkerr.New(gkerr.UpstreamUnavailable, "both knowledge store and encyclopedia unavailable")
	}

	var sources []models.LessonSource
	method := "knowledge_and_encyclopedia_enhanced"
	if kbErr == nil {
		sources = append(sources, kbSources...)
	} else {
		logger.Info(c.log, ctx, "lesson_partial_degradation", slog.String("missing", "knowledge_store"))
		method = "encyclopedia_enhanced_partial"
	}
	if encErr == nil {
		sources = append(sources, encSources...)
	} else {
		logger.Info(c.log, ctx, "lesson_partial_degradation", slog.String("missing", "encyclopedia"))
		if method == "knowledge_and_encyclopedia_enhanced" {
			method = "knowledge_store_enhanced_partial"
		}
	}

	return c.assemble(req, sources, method), nil
}

func (c *Composer) composeTemplate(req models.LessonRequest) *models.Lesson {
	return c.assemble(req, nil, "deterministic_template")
}

// assemble builds the final Lesson from whatever sources were actually
// fetched, deriving the boolean flags from the source list per the
// Lesson invariant rather than from the request flags directly — this
// is what makes partial-mode degradation observable to the caller.
func (c *Composer) assemble(req models.LessonRequest, sources []models.LessonSource, method string) *models.Lesson {
	hasKB, hasEnc := false, false
	var kbParts, encParts []string
	for _, s := range sources {
		switch s.Store {
		case models.StoreKnowledgeBase:
			hasKB = true
			kbParts = append(kbParts, s.Text)
		case models.StoreEncyclopedia:
			hasEnc = true
			encParts = append(encParts, s.Text)
		}
	}

	var body strings.Builder
	if hasKB {
		body.WriteString(strings.Join(kbParts, "\n\n"))
	}
	if hasEnc {
		if hasKB {
			body.WriteString("\n\n--- ")
			body.WriteString(encyclopediaMarker)
			body.WriteString(" ---\n\n")
		} else {
			body.WriteString(encyclopediaMarker)
			body.WriteString(": ")
		}
		body.WriteString(strings.Join(encParts, "\n\n"))
	}
	if !hasKB && !hasEnc {
		body.WriteString(templateBody(req.Subject, req.Topic))
	}

	return &models.Lesson{
		Subject:           req.Subject,
		Topic:             req.Topic,
		Title:             fmt.Sprintf("%s: %s", req.Subject, req.Topic),
		Body:              body.String(),
		Activity:          templateActivity(req.Subject, req.Topic),
		Question:          templateQuestion(req.Subject, req.Topic),
		Sources:           sources,
		KnowledgeBaseUsed: hasKB,
		EncyclopediaUsed:  hasEnc,
		Metadata: models.LessonMetadata{
			CreatedAt:        time.Now().UTC(),
			CreatedBy:        "lesson_composer",
			GenerationMethod: method,
		},
	}
}

func templateBody(subject, topic string) string {
	return fmt.Sprintf(
		"This lesson introduces %s within %s. We start from first principles and build toward a working understanding you can apply immediately.",
		topic, subject)
}

func templateActivity(subject, topic string) string {
	return fmt.Sprintf("Write three sentences connecting %s to something you already know about %s.", topic, subject)
}

func templateQuestion(subject, topic string) string {
	return fmt.Sprintf("In your own words, what is %s and why does it matter in %s?", topic, subject)
}
