// Package genai – operation payloads and results.
//
// Each operation has an explicit payload and a tagged result type with
// required fields validated at the boundary before entering the pipeline.
package genai

import (
	"errors"
	"fmt"
	"strings"
)

// AnalyzeTopicsPayload asks the service to derive topics from course content.
type AnalyzeTopicsPayload struct {
	Content      string `json:"content"`
	ScopeID      string `json:"scope_id"`
	TopicTarget  int    `json:"topic_target,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

// TopicResult is one derived topic.
type TopicResult struct {
	Title          string `json:"title"`
	Summary        string `json:"summary"`
	SourceRef      string `json:"source_ref,omitempty"`
	QuestionTarget int    `json:"question_target"`
}

// AnalyzeTopicsResult is the content of an analyze_topics response.
type AnalyzeTopicsResult struct {
	Topics []TopicResult `json:"topics"`
}

// Validate checks required fields.
func (r *AnalyzeTopicsResult) Validate() error {
	if len(r.Topics) == 0 {
		return errors.New("analyze_topics: no topics returned")
	}
	for i, t := range r.Topics {
		if strings.TrimSpace(t.Title) == "" {
			return fmt.Errorf("analyze_topics: topic %d missing title", i)
		}
	}
	return nil
}

// BatchSlot describes one requested question within a batch: its type and
// the difficulty/taxonomy targets selected for it.
type BatchSlot struct {
	Type          string `json:"type"`
	Difficulty    string `json:"difficulty"`
	TaxonomyLevel string `json:"taxonomy_level"`
}

// GenerateQuestionsPayload asks the service for one batch of questions.
// PriorTexts carries already-generated question texts for deduplication.
type GenerateQuestionsPayload struct {
	TopicTitle   string      `json:"topic_title"`
	TopicContent string      `json:"topic_content"`
	Slots        []BatchSlot `json:"slots"`
	PriorTexts   []string    `json:"prior_texts,omitempty"`
	Instructions string      `json:"instructions,omitempty"`
}

// OptionResult is one answer/option of a generated question.
type OptionResult struct {
	Text     string  `json:"text"`
	Fraction float64 `json:"fraction"`
	Feedback string  `json:"feedback,omitempty"`
}

// QuestionResult is one generated question.
type QuestionResult struct {
	Type            string         `json:"type"`
	Name            string         `json:"name"`
	Text            string         `json:"text"`
	Difficulty      string         `json:"difficulty,omitempty"`
	TaxonomyLevel   string         `json:"taxonomy_level,omitempty"`
	GeneralFeedback string         `json:"general_feedback,omitempty"`
	QualityScore    *float64       `json:"quality_score,omitempty"`
	Options         []OptionResult `json:"options,omitempty"`
}

// GenerateQuestionsResult is the content of a generate_questions response.
type GenerateQuestionsResult struct {
	Questions []QuestionResult `json:"questions"`
}

// Validate checks required fields on every returned question.
func (r *GenerateQuestionsResult) Validate() error {
	if len(r.Questions) == 0 {
		return errors.New("generate_questions: no questions returned")
	}
	for i, q := range r.Questions {
		if strings.TrimSpace(q.Type) == "" {
			return fmt.Errorf("generate_questions: question %d missing type", i)
		}
		if strings.TrimSpace(q.Text) == "" {
			return fmt.Errorf("generate_questions: question %d missing text", i)
		}
	}
	return nil
}

// RefineQuestionPayload asks the service to regenerate one question,
// keeping its intent but replacing its text.
type RefineQuestionPayload struct {
	TopicTitle   string   `json:"topic_title"`
	TopicContent string   `json:"topic_content"`
	Slot         BatchSlot `json:"slot"`
	PriorText    string   `json:"prior_text"`
	PriorTexts   []string `json:"prior_texts,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
}

// RefineQuestionResult is the content of a refine_question response.
type RefineQuestionResult struct {
	Question QuestionResult `json:"question"`
}

// Validate checks required fields.
func (r *RefineQuestionResult) Validate() error {
	if strings.TrimSpace(r.Question.Text) == "" {
		return errors.New("refine_question: missing question text")
	}
	if strings.TrimSpace(r.Question.Type) == "" {
		return errors.New("refine_question: missing question type")
	}
	return nil
}

// GenerateDistractorsPayload asks for additional wrong options for an
// existing question.
type GenerateDistractorsPayload struct {
	QuestionText string   `json:"question_text"`
	CorrectText  string   `json:"correct_text"`
	Existing     []string `json:"existing,omitempty"`
	Count        int      `json:"count"`
}

// GenerateDistractorsResult is the content of a generate_distractors
// response.
type GenerateDistractorsResult struct {
	Distractors []OptionResult `json:"distractors"`
}

// Validate checks required fields.
func (r *GenerateDistractorsResult) Validate() error {
	if len(r.Distractors) == 0 {
		return errors.New("generate_distractors: no distractors returned")
	}
	for i, d := range r.Distractors {
		if strings.TrimSpace(d.Text) == "" {
			return fmt.Errorf("generate_distractors: distractor %d missing text", i)
		}
	}
	return nil
}
