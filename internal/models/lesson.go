package models

import "time"

// SourceStore identifies which upstream a Lesson source passage came from.
type SourceStore string

const (
	StoreKnowledgeBase SourceStore = "knowledge_base"
	StoreEncyclopedia  SourceStore = "encyclopedia"
)

// LessonRequest normalizes the inputs to the Lesson Composer. The four
// possible (UseKnowledgeStore, IncludeEncyclopedia) combinations must
// produce behaviorally distinct outputs; see internal/lesson.
type LessonRequest struct {
	Subject            string `json:"subject"`
	Topic              string `json:"topic"`
	UserID             string `json:"user_id"`
	IncludeEncyclopedia bool   `json:"include_encyclopedia"`
	UseKnowledgeStore   bool   `json:"use_knowledge_store"`
	ForceRegenerate     bool   `json:"force_regenerate"`
}

// LessonSource is one attributed passage backing a Lesson's body.
type LessonSource struct {
	Text       string      `json:"text"`
	SourceName string      `json:"source_name"`
	Store      SourceStore `json:"store"`
	URL        string      `json:"url,omitempty"`
}

// LessonMetadata records how a Lesson was produced.
type LessonMetadata struct {
	CreatedAt        time.Time `json:"created_at"`
	CreatedBy        string    `json:"created_by"`
	GenerationMethod string    `json:"generation_method"`
}

// Lesson is the Lesson Composer's output artifact.
type Lesson struct {
	Subject           string          `json:"subject"`
	Topic             string          `json:"topic"`
	Title             string          `json:"title"`
	Body              string          `json:"body"`
	Activity          string          `json:"activity"`
	Question          string          `json:"question"`
	Sources           []LessonSource  `json:"sources"`
	KnowledgeBaseUsed bool            `json:"knowledge_base_used"`
	EncyclopediaUsed  bool            `json:"encyclopedia_used"`
	Metadata          LessonMetadata  `json:"metadata"`
}

// Validate checks the knowledge_base_used/encyclopedia_used invariants
// against the actual source list.
func (l *Lesson) Validate() bool {
	hasKB, hasEnc := false, false
	for _, s := range l.Sources {
		switch s.Store {
		case StoreKnowledgeBase:
			hasKB = true
		case StoreEncyclopedia:
			hasEnc = true
		}
	}
	return hasKB == l.KnowledgeBaseUsed && hasEnc == l.EncyclopediaUsed
}
