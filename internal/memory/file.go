package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

const (
	profileFile  = "user_profile.json"
	lessonsFile  = "lesson_history.json"
	mistakesFile = "mistakes.json"
)

// FileStore persists each collection as a JSON file under a single
// directory. Every write marshals the whole collection to a temp file in
// the same directory and renames it over the target, so an observer (or a
// crash) never sees a partially written file.
type FileStore struct {
	dir string

	profileMu  sync.RWMutex
	profile    UserProfile
	lessonsMu  sync.RWMutex
	lessons    []LessonRecord
	mistakesMu sync.RWMutex
	mistakes   map[MistakeKind][]MistakeEntry
}

// NewFileStore loads the three collections from dir, creating the
// directory and seeding any missing or corrupt file with its default
// value. A corrupt file is replaced, not treated as fatal.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	s := &FileStore{dir: dir}

	s.profile = DefaultProfile()
	if err := loadJSON(filepath.Join(dir, profileFile), &s.profile); err != nil {
		log.Printf("memory: reseeding %s: %v", profileFile, err)
		s.profile = DefaultProfile()
		if err := s.publish(profileFile, s.profile); err != nil {
			return nil, err
		}
	}
	if !ValidLevel(s.profile.Level) {
		s.profile.Level = LevelBeginner
	}

	s.lessons = []LessonRecord{}
	if err := loadJSON(filepath.Join(dir, lessonsFile), &s.lessons); err != nil {
		log.Printf("memory: reseeding %s: %v", lessonsFile, err)
		s.lessons = []LessonRecord{}
		if err := s.publish(lessonsFile, s.lessons); err != nil {
			return nil, err
		}
	}

	s.mistakes = seedMistakes()
	if err := loadJSON(filepath.Join(dir, mistakesFile), &s.mistakes); err != nil {
		log.Printf("memory: reseeding %s: %v", mistakesFile, err)
		s.mistakes = seedMistakes()
		if err := s.publish(mistakesFile, s.mistakes); err != nil {
			return nil, err
		}
	}
	for _, k := range Kinds {
		if s.mistakes[k] == nil {
			s.mistakes[k] = []MistakeEntry{}
		}
	}

	return s, nil
}

func (s *FileStore) Profile(_ context.Context) (UserProfile, error) {
	s.profileMu.RLock()
	defer s.profileMu.RUnlock()
	return cloneProfile(s.profile), nil
}

func (s *FileStore) UpdateProfile(_ context.Context, patch ProfilePatch) (UserProfile, error) {
	s.profileMu.Lock()
	defer s.profileMu.Unlock()
	next := patch.ApplyTo(s.profile)
	if err := s.publish(profileFile, next); err != nil {
		return UserProfile{}, err
	}
	s.profile = next
	return cloneProfile(next), nil
}

func (s *FileStore) RecordMistake(_ context.Context, kind MistakeKind, mistake, correction, explanation string) error {
	if !ValidKind(kind) {
		return kindErr(kind)
	}
	s.mistakesMu.Lock()
	defer s.mistakesMu.Unlock()
	entry := MistakeEntry{
		Kind:        kind,
		Mistake:     mistake,
		Correction:  correction,
		Explanation: explanation,
		CreatedAt:   time.Now().UTC(),
	}
	s.mistakes[kind] = append(s.mistakes[kind], entry)
	if err := s.publish(mistakesFile, s.mistakes); err != nil {
		s.mistakes[kind] = s.mistakes[kind][:len(s.mistakes[kind])-1]
		return err
	}
	return nil
}

func (s *FileStore) MistakesForReview(_ context.Context, kind *MistakeKind, limit int) ([]MistakeEntry, error) {
	if kind != nil && !ValidKind(*kind) {
		return nil, kindErr(*kind)
	}
	s.mistakesMu.Lock()
	defer s.mistakesMu.Unlock()
	out := selectForReview(s.mistakes, kind, limit, time.Now().UTC())
	if len(out) == 0 {
		return out, nil
	}
	if err := s.publish(mistakesFile, s.mistakes); err != nil {
		// Review bookkeeping already advanced in memory; the next
		// successful write carries it. Surfacing the entries matters more.
		log.Printf("memory: persist review counts: %v", err)
	}
	return out, nil
}

func (s *FileStore) SaveLesson(_ context.Context, topic, content string) error {
	s.lessonsMu.Lock()
	defer s.lessonsMu.Unlock()
	s.lessons = append(s.lessons, LessonRecord{
		Topic:     topic,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
	if err := s.publish(lessonsFile, s.lessons); err != nil {
		s.lessons = s.lessons[:len(s.lessons)-1]
		return err
	}
	return nil
}

func (s *FileStore) RecentLessons(_ context.Context, limit int) ([]LessonRecord, error) {
	s.lessonsMu.RLock()
	defer s.lessonsMu.RUnlock()
	return tailLessons(s.lessons, limit), nil
}

func (s *FileStore) Close() error { return nil }

// publish atomically replaces the named collection file.
func (s *FileStore) publish(name string, v any) error {
	data, err := sonic.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publish %s: %w", name, err)
	}
	return nil
}

func loadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
