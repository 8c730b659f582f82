package services

import (
	"context"
	"strings"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lmsforge/quizgen-backend/internal/genai"
	"github.com/lmsforge/quizgen-backend/internal/repo"
)

// newTestDB opens a per-test in-memory database with the full schema.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// stubClient is a hand-rolled genai.Client whose behavior each test sets up.
type stubClient struct {
	analyze     func(genai.AnalyzeTopicsPayload) (*genai.AnalyzeTopicsResult, genai.Usage, error)
	generate    func(genai.GenerateQuestionsPayload) (*genai.GenerateQuestionsResult, genai.Usage, error)
	refine      func(genai.RefineQuestionPayload) (*genai.RefineQuestionResult, genai.Usage, error)
	distractors func(genai.GenerateDistractorsPayload) (*genai.GenerateDistractorsResult, genai.Usage, error)

	analyzeCalls    int
	generateCalls   int
	refineCalls     int
	distractorCalls int
}

func (s *stubClient) AnalyzeTopics(_ context.Context, _ string, p genai.AnalyzeTopicsPayload) (*genai.AnalyzeTopicsResult, genai.Usage, error) {
	s.analyzeCalls++
	if s.analyze == nil {
		return &genai.AnalyzeTopicsResult{Topics: []genai.TopicResult{{Title: "Topic", QuestionTarget: 1}}}, genai.Usage{}, nil
	}
	return s.analyze(p)
}

func (s *stubClient) GenerateQuestions(_ context.Context, _ string, p genai.GenerateQuestionsPayload) (*genai.GenerateQuestionsResult, genai.Usage, error) {
	s.generateCalls++
	if s.generate == nil {
		qs := make([]genai.QuestionResult, len(p.Slots))
		for i, slot := range p.Slots {
			qs[i] = genai.QuestionResult{Type: slot.Type, Text: "generated question", Name: "q"}
		}
		return &genai.GenerateQuestionsResult{Questions: qs}, genai.Usage{}, nil
	}
	return s.generate(p)
}

func (s *stubClient) RefineQuestion(_ context.Context, _ string, p genai.RefineQuestionPayload) (*genai.RefineQuestionResult, genai.Usage, error) {
	s.refineCalls++
	if s.refine == nil {
		return &genai.RefineQuestionResult{Question: genai.QuestionResult{Type: p.Slot.Type, Text: "refined question"}}, genai.Usage{}, nil
	}
	return s.refine(p)
}

func (s *stubClient) GenerateDistractors(_ context.Context, _ string, p genai.GenerateDistractorsPayload) (*genai.GenerateDistractorsResult, genai.Usage, error) {
	s.distractorCalls++
	if s.distractors == nil {
		ds := make([]genai.OptionResult, p.Count)
		for i := range ds {
			ds[i] = genai.OptionResult{Text: "distractor"}
		}
		return &genai.GenerateDistractorsResult{Distractors: ds}, genai.Usage{}, nil
	}
	return s.distractors(p)
}

// stubProvider serves fixed material for every scope.
type stubProvider struct {
	material string
	err      error
}

func (p *stubProvider) Content(context.Context, string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return p.material, nil
}
