package memory

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Level is the learner's proficiency level.
type Level string

const (
	LevelBeginner     Level = "beginner"
	LevelIntermediate Level = "intermediate"
	LevelAdvanced     Level = "advanced"
)

func ValidLevel(l Level) bool {
	switch l {
	case LevelBeginner, LevelIntermediate, LevelAdvanced:
		return true
	}
	return false
}

// MistakeKind buckets recorded mistakes for review.
type MistakeKind string

const (
	KindVocabulary    MistakeKind = "vocabulary"
	KindGrammar       MistakeKind = "grammar"
	KindPronunciation MistakeKind = "pronunciation"
)

// Kinds lists the closed set of mistake kinds in bucket order. Review
// sampling interleaves buckets in this order.
var Kinds = []MistakeKind{KindVocabulary, KindGrammar, KindPronunciation}

func ValidKind(k MistakeKind) bool {
	switch k {
	case KindVocabulary, KindGrammar, KindPronunciation:
		return true
	}
	return false
}

var ErrUnknownMistakeKind = errors.New("unknown mistake kind")

// UserProfile is the singleton durable profile for the learner. Fields are
// merged individually on update, never wholesale replaced.
type UserProfile struct {
	Name            string   `json:"name"`
	Level           Level    `json:"level"`
	Interests       []string `json:"interests"`
	PreferredTopics []string `json:"preferred_topics"`
	LearningGoals   []string `json:"learning_goals"`
}

// DefaultProfile is the seed value for an uninitialized profile.
func DefaultProfile() UserProfile {
	return UserProfile{
		Level:           LevelBeginner,
		Interests:       []string{},
		PreferredTopics: []string{},
		LearningGoals:   []string{},
	}
}

// ProfilePatch carries only the fields a caller wants to change. Nil
// pointers and nil slices mean "leave as is".
type ProfilePatch struct {
	Name            *string  `json:"name,omitempty"`
	Level           *Level   `json:"level,omitempty"`
	Interests       []string `json:"interests,omitempty"`
	PreferredTopics []string `json:"preferred_topics,omitempty"`
	LearningGoals   []string `json:"learning_goals,omitempty"`
}

// ApplyTo merges the patch into a copy of p, last write wins per field.
func (patch ProfilePatch) ApplyTo(p UserProfile) UserProfile {
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Level != nil {
		p.Level = *patch.Level
	}
	if patch.Interests != nil {
		p.Interests = append([]string(nil), patch.Interests...)
	}
	if patch.PreferredTopics != nil {
		p.PreferredTopics = append([]string(nil), patch.PreferredTopics...)
	}
	if patch.LearningGoals != nil {
		p.LearningGoals = append([]string(nil), patch.LearningGoals...)
	}
	return p
}

// Empty reports whether the patch would change nothing.
func (patch ProfilePatch) Empty() bool {
	return patch.Name == nil && patch.Level == nil &&
		patch.Interests == nil && patch.PreferredTopics == nil && patch.LearningGoals == nil
}

// LessonRecord is one appended lesson-history entry, never mutated.
type LessonRecord struct {
	Topic     string    `json:"topic"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// MistakeEntry is a recorded learner mistake. ReviewCount and LastReviewed
// are advanced only when the entry is surfaced for review.
type MistakeEntry struct {
	Kind         MistakeKind `json:"kind"`
	Mistake      string      `json:"mistake"`
	Correction   string      `json:"correction"`
	Explanation  string      `json:"explanation"`
	CreatedAt    time.Time   `json:"created_at"`
	ReviewCount  int         `json:"review_count"`
	LastReviewed *time.Time  `json:"last_reviewed"`
}

// Store persists the learner's profile, lesson history, and mistakes.
// Implementations serialize writes per collection; reads observe a stable
// snapshot.
type Store interface {
	Profile(ctx context.Context) (UserProfile, error)
	UpdateProfile(ctx context.Context, patch ProfilePatch) (UserProfile, error)

	RecordMistake(ctx context.Context, kind MistakeKind, mistake, correction, explanation string) error
	// MistakesForReview returns up to limit entries. With a kind it takes
	// them from that bucket in insertion order; without, it samples
	// ceil(limit/3) from each bucket and truncates to limit. Surfaced
	// entries get their review count incremented and last-reviewed stamped.
	MistakesForReview(ctx context.Context, kind *MistakeKind, limit int) ([]MistakeEntry, error)

	SaveLesson(ctx context.Context, topic, content string) error
	// RecentLessons returns the last limit records, oldest first.
	RecentLessons(ctx context.Context, limit int) ([]LessonRecord, error)

	Close() error
}

// perBucket is the interleaved sample size for a mixed review request.
func perBucket(limit int) int {
	if limit <= 0 {
		return 0
	}
	return (limit + len(Kinds) - 1) / len(Kinds)
}

func kindErr(k MistakeKind) error {
	return fmt.Errorf("%w: %q", ErrUnknownMistakeKind, k)
}
