package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/kotoba-labs/kaiwa/internal/memory"
	"github.com/kotoba-labs/kaiwa/internal/observability"
)

// ValidationError reports malformed tool arguments. It is recovered
// locally: the language model receives a structured failure payload and the
// conversation continues.
type ValidationError struct {
	Tool   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("tool %s: %s", e.Tool, e.Reason)
}

func invalid(tool, format string, args ...any) error {
	return &ValidationError{Tool: tool, Reason: fmt.Sprintf(format, args...)}
}

// StatusResult is the payload returned by mutating tools.
type StatusResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ReviewResult wraps mistakes surfaced for a review session.
type ReviewResult struct {
	Items []memory.MistakeEntry `json:"items"`
}

// LessonsResult wraps recent lesson history.
type LessonsResult struct {
	Lessons []memory.LessonRecord `json:"lessons"`
}

// ImageRequest asks the pipeline to route a prompt to the image-generation
// service. The tool itself performs no generation.
type ImageRequest struct {
	Prompt  string `json:"prompt"`
	Word    string `json:"word"`
	Meaning string `json:"meaning"`
}

// Service dispatches named tool invocations from the language model against
// the memory store. Mutations run on a context detached from the turn so a
// barge-in never leaves a half-applied write.
type Service struct {
	store   memory.Store
	metrics *observability.Metrics
}

func NewService(store memory.Store, metrics *observability.Metrics) *Service {
	return &Service{store: store, metrics: metrics}
}

const (
	defaultReviewLimit = 5
	defaultLessonLimit = 5
	defaultLessonTopic = "General Japanese"
)

// Dispatch runs the named tool with raw JSON arguments and returns its
// structured result. Unknown tools and malformed arguments come back as
// *ValidationError.
func (s *Service) Dispatch(ctx context.Context, name string, args json.RawMessage) (any, error) {
	res, err := s.dispatch(ctx, name, args)
	if s.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		s.metrics.ToolCalls.WithLabelValues(name, outcome).Inc()
	}
	return res, err
}

func (s *Service) dispatch(ctx context.Context, name string, args json.RawMessage) (any, error) {
	switch name {
	case "save_user_profile":
		return s.saveUserProfile(ctx, args)
	case "get_user_profile":
		return s.store.Profile(ctx)
	case "record_mistake":
		return s.recordMistake(ctx, args)
	case "get_mistakes_for_review":
		return s.mistakesForReview(ctx, args)
	case "save_lesson_history":
		return s.saveLessonHistory(ctx, args)
	case "get_lesson_history":
		return s.lessonHistory(ctx, args)
	case "generate_image_for_vocabulary":
		return s.imageForVocabulary(args)
	default:
		return nil, invalid(name, "unknown tool")
	}
}

func (s *Service) saveUserProfile(ctx context.Context, args json.RawMessage) (any, error) {
	var fields map[string]json.RawMessage
	if len(args) > 0 {
		if err := sonic.Unmarshal(args, &fields); err != nil {
			return nil, invalid("save_user_profile", "arguments are not an object: %v", err)
		}
	}
	known := map[string]bool{
		"name": true, "level": true, "interests": true,
		"preferred_topics": true, "learning_goals": true,
	}
	for key := range fields {
		if !known[key] {
			// Matches the store contract: unknown fields are dropped, not
			// an error, but they must be visible in the logs.
			log.Printf("tools: save_user_profile ignoring unknown field %q", key)
			delete(fields, key)
		}
	}
	patched, err := sonic.Marshal(fields)
	if err != nil {
		return nil, invalid("save_user_profile", "re-encode arguments: %v", err)
	}
	var patch memory.ProfilePatch
	if err := sonic.Unmarshal(patched, &patch); err != nil {
		return nil, invalid("save_user_profile", "bad field value: %v", err)
	}
	if patch.Level != nil && !memory.ValidLevel(*patch.Level) {
		return nil, invalid("save_user_profile", "level %q not in beginner/intermediate/advanced", *patch.Level)
	}
	if _, err := s.store.UpdateProfile(context.WithoutCancel(ctx), patch); err != nil {
		return nil, fmt.Errorf("save_user_profile: %w", err)
	}
	return StatusResult{Success: true, Message: "User profile updated successfully"}, nil
}

type recordMistakeArgs struct {
	Type        memory.MistakeKind `json:"type"`
	Mistake     string             `json:"mistake"`
	Correction  string             `json:"correction"`
	Explanation string             `json:"explanation"`
}

func (s *Service) recordMistake(ctx context.Context, args json.RawMessage) (any, error) {
	var a recordMistakeArgs
	if err := sonic.Unmarshal(args, &a); err != nil {
		return nil, invalid("record_mistake", "bad arguments: %v", err)
	}
	if a.Type == "" {
		a.Type = memory.KindVocabulary
	}
	if !memory.ValidKind(a.Type) {
		return nil, invalid("record_mistake", "type %q not in vocabulary/grammar/pronunciation", a.Type)
	}
	if strings.TrimSpace(a.Mistake) == "" || strings.TrimSpace(a.Correction) == "" {
		return nil, invalid("record_mistake", "mistake and correction are required")
	}
	if err := s.store.RecordMistake(context.WithoutCancel(ctx), a.Type, a.Mistake, a.Correction, a.Explanation); err != nil {
		return nil, fmt.Errorf("record_mistake: %w", err)
	}
	return StatusResult{Success: true, Message: fmt.Sprintf("%s mistake recorded", a.Type)}, nil
}

type reviewArgs struct {
	Type  *memory.MistakeKind `json:"type"`
	Limit int                 `json:"limit"`
}

func (s *Service) mistakesForReview(ctx context.Context, args json.RawMessage) (any, error) {
	a := reviewArgs{Limit: defaultReviewLimit}
	if len(args) > 0 {
		if err := sonic.Unmarshal(args, &a); err != nil {
			return nil, invalid("get_mistakes_for_review", "bad arguments: %v", err)
		}
	}
	if a.Limit <= 0 {
		a.Limit = defaultReviewLimit
	}
	if a.Type != nil && !memory.ValidKind(*a.Type) {
		return nil, invalid("get_mistakes_for_review", "type %q not in vocabulary/grammar/pronunciation", *a.Type)
	}
	// The review-count side effect must land even if the turn gets
	// interrupted mid-call.
	items, err := s.store.MistakesForReview(context.WithoutCancel(ctx), a.Type, a.Limit)
	if err != nil {
		return nil, fmt.Errorf("get_mistakes_for_review: %w", err)
	}
	if items == nil {
		items = []memory.MistakeEntry{}
	}
	return ReviewResult{Items: items}, nil
}

type saveLessonArgs struct {
	Topic   string `json:"topic"`
	Content string `json:"content"`
}

func (s *Service) saveLessonHistory(ctx context.Context, args json.RawMessage) (any, error) {
	var a saveLessonArgs
	if err := sonic.Unmarshal(args, &a); err != nil {
		return nil, invalid("save_lesson_history", "bad arguments: %v", err)
	}
	if strings.TrimSpace(a.Topic) == "" {
		a.Topic = defaultLessonTopic
	}
	if strings.TrimSpace(a.Content) == "" {
		return nil, invalid("save_lesson_history", "content is required")
	}
	if err := s.store.SaveLesson(context.WithoutCancel(ctx), a.Topic, a.Content); err != nil {
		return nil, fmt.Errorf("save_lesson_history: %w", err)
	}
	return StatusResult{Success: true, Message: "Lesson history saved"}, nil
}

type lessonHistoryArgs struct {
	Limit int `json:"limit"`
}

func (s *Service) lessonHistory(ctx context.Context, args json.RawMessage) (any, error) {
	a := lessonHistoryArgs{Limit: defaultLessonLimit}
	if len(args) > 0 {
		if err := sonic.Unmarshal(args, &a); err != nil {
			return nil, invalid("get_lesson_history", "bad arguments: %v", err)
		}
	}
	if a.Limit <= 0 {
		a.Limit = defaultLessonLimit
	}
	lessons, err := s.store.RecentLessons(ctx, a.Limit)
	if err != nil {
		return nil, fmt.Errorf("get_lesson_history: %w", err)
	}
	if lessons == nil {
		lessons = []memory.LessonRecord{}
	}
	return LessonsResult{Lessons: lessons}, nil
}

type imageArgs struct {
	Word    string `json:"word"`
	Meaning string `json:"meaning"`
}

func (s *Service) imageForVocabulary(args json.RawMessage) (any, error) {
	var a imageArgs
	if err := sonic.Unmarshal(args, &a); err != nil {
		return nil, invalid("generate_image_for_vocabulary", "bad arguments: %v", err)
	}
	if strings.TrimSpace(a.Word) == "" || strings.TrimSpace(a.Meaning) == "" {
		return nil, invalid("generate_image_for_vocabulary", "word and meaning are required")
	}
	prompt := fmt.Sprintf(
		"A clear, educational illustration for the Japanese word '%s' which means '%s'. The image should be simple, colorful, and suitable for language learning.",
		a.Word, a.Meaning,
	)
	return ImageRequest{Prompt: prompt, Word: a.Word, Meaning: a.Meaning}, nil
}
