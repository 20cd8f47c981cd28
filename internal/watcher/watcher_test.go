package watcher

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/models"
)

type recordingSubmitter struct {
	mu     sync.Mutex
	refs   []models.FileRef
	byHash map[string]string
}

func (s *recordingSubmitter) Submit(_ context.Context, ref models.FileRef) (indexer.SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byHash == nil {
		s.byHash = make(map[string]string)
	}
	s.refs = append(s.refs, ref)
	if id, ok := s.byHash[ref.ContentHash]; ok {
		return indexer.SubmitResult{DocumentID: id, Duplicate: true}, nil
	}
	id := "doc-" + ref.Name
	s.byHash[ref.ContentHash] = id
	return indexer.SubmitResult{DocumentID: id, State: models.StatePending}, nil
}

func (s *recordingSubmitter) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, r := range s.refs {
		out = append(out, r.Name)
	}
	return out
}

func (s *recordingSubmitter) first() models.FileRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs[0]
}

func watchConfig(dirs []string, exts ...string) config.WatchConfig {
	return config.WatchConfig{Directories: dirs, Extensions: exts}
}

func startInbox(t *testing.T, cfg config.WatchConfig, sub Submitter) *Inbox {
	t.Helper()
	in := New(cfg, sub, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		in.Stop()
		cancel()
	})
	if err := in.Start(ctx); err != nil {
		t.Fatal(err)
	}
	return in
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func TestInbox_AddRemoveDirectories(t *testing.T) {
	dir := t.TempDir()
	in := startInbox(t, watchConfig(nil, ".txt"), &recordingSubmitter{})

	if err := in.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	if err := in.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	dirs := in.Directories()
	if len(dirs) != 1 || filepath.Clean(dirs[0]) != filepath.Clean(dir) {
		t.Errorf("Directories() = %v", dirs)
	}

	if err := in.RemoveDirectory(dir); err != nil {
		t.Fatal(err)
	}
	if len(in.Directories()) != 0 {
		t.Errorf("after remove: %v", in.Directories())
	}
}

func TestInbox_AddDirectoryBeforeStart(t *testing.T) {
	in := New(watchConfig(nil), &recordingSubmitter{})
	if err := in.AddDirectory(t.TempDir(), false); err == nil {
		t.Error("expected error before Start")
	}
}

func TestInbox_SubmitsWrittenFiles(t *testing.T) {
	dir := t.TempDir()
	sub := &recordingSubmitter{}
	in := startInbox(t, watchConfig([]string{dir}, ".txt"), sub)

	if err := writeFile(filepath.Join(dir, "notes.txt"), "hello inbox"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "skip.xyz"), "ignored"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return contains(sub.names(), "notes.txt") })

	if contains(sub.names(), "skip.xyz") {
		t.Error("skip.xyz should not be submitted")
	}
	ref := sub.first()
	if ref.Locator != "" {
		t.Errorf("inbox refs must be copied into the blob store, got locator %q", ref.Locator)
	}
	if ref.UploadedBy != DefaultUploader || ref.ContentHash == "" {
		t.Errorf("unexpected ref: %+v", ref)
	}
	r, err := ref.Open(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	body, _ := io.ReadAll(r)
	if string(body) != "hello inbox" {
		t.Errorf("content = %q", body)
	}
	if in.Stats().Submitted < 1 {
		t.Errorf("stats = %+v", in.Stats())
	}
}

func TestInbox_SyncExistingCountsDuplicates(t *testing.T) {
	dir := t.TempDir()
	if err := writeFile(filepath.Join(dir, "a.txt"), "hello"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "ignore.xyz"), "x"); err != nil {
		t.Fatal(err)
	}
	sub := &recordingSubmitter{}
	cfg := watchConfig([]string{dir}, ".txt")
	cfg.Uploader = "scanner"
	in := startInbox(t, cfg, sub)

	in.SyncExisting()
	in.SyncExisting()

	names := sub.names()
	if len(names) != 2 || !strings.HasSuffix(names[0], "a.txt") {
		t.Errorf("expected a.txt submitted twice, got %v", names)
	}
	if sub.first().UploadedBy != "scanner" {
		t.Errorf("uploader = %q", sub.first().UploadedBy)
	}
	st := in.Stats()
	if st.Submitted != 1 || st.Duplicates != 1 {
		t.Errorf("stats = %+v, want one submitted and one duplicate", st)
	}
}

func TestInbox_StartCreatesMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "watch", "me")
	startInbox(t, watchConfig([]string{root}, ".txt"), &recordingSubmitter{})

	if _, err := os.Stat(root); err != nil {
		t.Errorf("root directory should exist after Start: %v", err)
	}
}

func TestInbox_NewDirectoryFilesAreSubmitted(t *testing.T) {
	dir := t.TempDir()
	sub := &recordingSubmitter{}
	startInbox(t, watchConfig([]string{dir}, ".txt", ".md"), sub)

	nested := filepath.Join(dir, "level1", "level2")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(nested, "deep.txt"), "deep content"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "level1", "doc.md"), "world"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		names := sub.names()
		return contains(names, "deep.txt") && contains(names, "doc.md")
	})
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path       string
		extensions []string
		want       bool
	}{
		{"/a/b.txt", []string{".txt"}, true},
		{"/a/b.TXT", []string{"txt"}, true},
		{"/a/b.md", []string{".txt"}, false},
		{"/a/b", nil, true},
		{"/a/b", []string{}, true},
	}
	for _, tt := range tests {
		if got := matchExtension(tt.path, tt.extensions); got != tt.want {
			t.Errorf("matchExtension(%q, %v) = %v, want %v", tt.path, tt.extensions, got, tt.want)
		}
	}
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir  string
		path string
		want bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.txt", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
	}
	for _, tt := range tests {
		if got := inDir(tt.dir, tt.path); got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}
