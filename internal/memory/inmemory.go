package memory

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore keeps all three collections in process memory. It is the
// dev/test fallback when neither a memory directory nor a database is
// configured.
type InMemoryStore struct {
	mu       sync.RWMutex
	profile  UserProfile
	lessons  []LessonRecord
	mistakes map[MistakeKind][]MistakeEntry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		profile:  DefaultProfile(),
		mistakes: seedMistakes(),
	}
}

func seedMistakes() map[MistakeKind][]MistakeEntry {
	m := make(map[MistakeKind][]MistakeEntry, len(Kinds))
	for _, k := range Kinds {
		m[k] = []MistakeEntry{}
	}
	return m
}

func (s *InMemoryStore) Profile(_ context.Context) (UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneProfile(s.profile), nil
}

func (s *InMemoryStore) UpdateProfile(_ context.Context, patch ProfilePatch) (UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = patch.ApplyTo(s.profile)
	return cloneProfile(s.profile), nil
}

func (s *InMemoryStore) RecordMistake(_ context.Context, kind MistakeKind, mistake, correction, explanation string) error {
	if !ValidKind(kind) {
		return kindErr(kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mistakes[kind] = append(s.mistakes[kind], MistakeEntry{
		Kind:        kind,
		Mistake:     mistake,
		Correction:  correction,
		Explanation: explanation,
		CreatedAt:   time.Now().UTC(),
	})
	return nil
}

func (s *InMemoryStore) MistakesForReview(_ context.Context, kind *MistakeKind, limit int) ([]MistakeEntry, error) {
	if kind != nil && !ValidKind(*kind) {
		return nil, kindErr(*kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return selectForReview(s.mistakes, kind, limit, time.Now().UTC()), nil
}

func (s *InMemoryStore) SaveLesson(_ context.Context, topic, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lessons = append(s.lessons, LessonRecord{
		Topic:     topic,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

func (s *InMemoryStore) RecentLessons(_ context.Context, limit int) ([]LessonRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tailLessons(s.lessons, limit), nil
}

func (s *InMemoryStore) Close() error { return nil }

// selectForReview picks review entries per the store contract and mutates
// the chosen entries' review bookkeeping in place. Callers hold the write
// lock.
func selectForReview(buckets map[MistakeKind][]MistakeEntry, kind *MistakeKind, limit int, now time.Time) []MistakeEntry {
	if limit <= 0 {
		return nil
	}

	var picked []*MistakeEntry
	if kind != nil {
		bucket := buckets[*kind]
		for i := range bucket {
			if len(picked) == limit {
				break
			}
			picked = append(picked, &bucket[i])
		}
	} else {
		per := perBucket(limit)
		for _, k := range Kinds {
			bucket := buckets[k]
			for i := 0; i < len(bucket) && i < per; i++ {
				picked = append(picked, &bucket[i])
			}
		}
		if len(picked) > limit {
			picked = picked[:limit]
		}
	}

	out := make([]MistakeEntry, 0, len(picked))
	for _, e := range picked {
		e.ReviewCount++
		ts := now
		e.LastReviewed = &ts
		out = append(out, *e)
	}
	return out
}

func tailLessons(all []LessonRecord, limit int) []LessonRecord {
	if len(all) == 0 {
		return nil
	}
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]LessonRecord, limit)
	copy(out, all[len(all)-limit:])
	return out
}

func cloneProfile(p UserProfile) UserProfile {
	p.Interests = append([]string(nil), p.Interests...)
	p.PreferredTopics = append([]string(nil), p.PreferredTopics...)
	p.LearningGoals = append([]string(nil), p.LearningGoals...)
	return p
}
