package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	return map[string]Store{
		"inmemory": NewInMemoryStore(),
		"file":     fs,
	}
}

func TestProfileDefaults(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			p, err := s.Profile(context.Background())
			if err != nil {
				t.Fatalf("Profile() error = %v", err)
			}
			if p.Level != LevelBeginner {
				t.Fatalf("default level = %q, want %q", p.Level, LevelBeginner)
			}
			if p.Name != "" {
				t.Fatalf("default name = %q, want empty", p.Name)
			}
		})
	}
}

func TestUpdateProfileMergeIdempotent(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := s.UpdateProfile(ctx, ProfilePatch{Interests: []string{"anime", "travel"}}); err != nil {
				t.Fatalf("UpdateProfile() error = %v", err)
			}

			aiko := "Aiko"
			first, err := s.UpdateProfile(ctx, ProfilePatch{Name: &aiko})
			if err != nil {
				t.Fatalf("UpdateProfile() error = %v", err)
			}
			second, err := s.UpdateProfile(ctx, ProfilePatch{Name: &aiko})
			if err != nil {
				t.Fatalf("UpdateProfile() error = %v", err)
			}

			if first.Name != "Aiko" || second.Name != "Aiko" {
				t.Fatalf("name after updates = %q/%q, want Aiko", first.Name, second.Name)
			}
			if len(second.Interests) != 2 {
				t.Fatalf("interests clobbered by unrelated patch: %v", second.Interests)
			}
			if second.Level != LevelBeginner {
				t.Fatalf("level changed by unrelated patch: %q", second.Level)
			}
		})
	}
}

func TestRecordMistakeRejectsUnknownKind(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			err := s.RecordMistake(context.Background(), MistakeKind("spelling"), "a", "b", "c")
			if err == nil {
				t.Fatalf("RecordMistake(spelling) expected error")
			}
		})
	}
}

func fillBuckets(t *testing.T, s Store, perKind int) {
	t.Helper()
	ctx := context.Background()
	for _, k := range Kinds {
		for i := 0; i < perKind; i++ {
			if err := s.RecordMistake(ctx, k, "wrong", "right", "because"); err != nil {
				t.Fatalf("RecordMistake(%s) error = %v", k, err)
			}
		}
	}
}

func TestMistakesForReviewFairness(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			fillBuckets(t, s, 4)

			got, err := s.MistakesForReview(context.Background(), nil, 6)
			if err != nil {
				t.Fatalf("MistakesForReview() error = %v", err)
			}
			if len(got) != 6 {
				t.Fatalf("len = %d, want 6", len(got))
			}
			counts := map[MistakeKind]int{}
			for _, e := range got {
				counts[e.Kind]++
			}
			for _, k := range Kinds {
				if counts[k] != 2 {
					t.Fatalf("bucket %s contributed %d entries, want 2 (all: %v)", k, counts[k], counts)
				}
			}
		})
	}
}

func TestMistakesForReviewAdvancesBookkeeping(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			fillBuckets(t, s, 1)

			kind := KindGrammar
			first, err := s.MistakesForReview(ctx, &kind, 5)
			if err != nil {
				t.Fatalf("MistakesForReview() error = %v", err)
			}
			if len(first) != 1 {
				t.Fatalf("len = %d, want 1", len(first))
			}
			if first[0].ReviewCount != 1 || first[0].LastReviewed == nil {
				t.Fatalf("first review: count=%d reviewed=%v, want 1/non-nil", first[0].ReviewCount, first[0].LastReviewed)
			}

			second, err := s.MistakesForReview(ctx, &kind, 5)
			if err != nil {
				t.Fatalf("MistakesForReview() error = %v", err)
			}
			if second[0].ReviewCount != 2 {
				t.Fatalf("second review count = %d, want 2", second[0].ReviewCount)
			}
		})
	}
}

func TestMistakesForReviewKindOrderAndLimit(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i, m := range []string{"first", "second", "third"} {
				if err := s.RecordMistake(ctx, KindVocabulary, m, "fix", ""); err != nil {
					t.Fatalf("RecordMistake(%d) error = %v", i, err)
				}
			}
			kind := KindVocabulary
			got, err := s.MistakesForReview(ctx, &kind, 2)
			if err != nil {
				t.Fatalf("MistakesForReview() error = %v", err)
			}
			if len(got) != 2 || got[0].Mistake != "first" || got[1].Mistake != "second" {
				t.Fatalf("unexpected selection: %+v", got)
			}
		})
	}
}

func TestRecentLessonsChronological(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, topic := range []string{"greetings", "numbers", "particles"} {
				if err := s.SaveLesson(ctx, topic, "content"); err != nil {
					t.Fatalf("SaveLesson(%s) error = %v", topic, err)
				}
			}
			got, err := s.RecentLessons(ctx, 2)
			if err != nil {
				t.Fatalf("RecentLessons() error = %v", err)
			}
			if len(got) != 2 || got[0].Topic != "numbers" || got[1].Topic != "particles" {
				t.Fatalf("unexpected lessons: %+v", got)
			}
		})
	}
}

func TestFileStoreReloadsPersistedState(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	name := "Kenji"
	level := LevelIntermediate
	if _, err := s.UpdateProfile(ctx, ProfilePatch{Name: &name, Level: &level}); err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
	if err := s.RecordMistake(ctx, KindVocabulary, "neko", "inu", "dog vs cat"); err != nil {
		t.Fatalf("RecordMistake() error = %v", err)
	}
	if err := s.SaveLesson(ctx, "animals", "pet vocabulary"); err != nil {
		t.Fatalf("SaveLesson() error = %v", err)
	}

	reopened, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("reopen NewFileStore() error = %v", err)
	}
	p, err := reopened.Profile(ctx)
	if err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if p.Name != "Kenji" || p.Level != LevelIntermediate {
		t.Fatalf("reloaded profile = %+v", p)
	}
	kind := KindVocabulary
	mistakes, err := reopened.MistakesForReview(ctx, &kind, 5)
	if err != nil {
		t.Fatalf("MistakesForReview() error = %v", err)
	}
	if len(mistakes) != 1 || mistakes[0].Mistake != "neko" {
		t.Fatalf("reloaded mistakes = %+v", mistakes)
	}
	lessons, err := reopened.RecentLessons(ctx, 5)
	if err != nil {
		t.Fatalf("RecentLessons() error = %v", err)
	}
	if len(lessons) != 1 || lessons[0].Topic != "animals" {
		t.Fatalf("reloaded lessons = %+v", lessons)
	}
}

func TestFileStoreReseedsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, profileFile), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	p, err := s.Profile(context.Background())
	if err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if p.Level != LevelBeginner || p.Name != "" {
		t.Fatalf("reseeded profile = %+v, want defaults", p)
	}
}

func TestFileStoreIgnoresLeftoverTempFiles(t *testing.T) {
	dir := t.TempDir()
	// Simulate a crash between temp-write and rename.
	if err := os.WriteFile(filepath.Join(dir, profileFile+".tmp-123"), []byte("garbage"), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	if _, err := s.Profile(context.Background()); err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
}
