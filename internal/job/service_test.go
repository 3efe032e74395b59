package job

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setupService(t *testing.T) (*Service, Repository, string) {
	t.Helper()

	repo := setupRepo(t)
	mediaDir := filepath.Join(t.TempDir(), "media")
	svc := NewService(repo, mediaDir, 1024, nil) // 1 KiB limit keeps tests small
	return svc, repo, mediaDir
}

func TestCreateJobStagesFiles(t *testing.T) {
	svc, repo, mediaDir := setupService(t)
	ctx := context.Background()

	uploads := []Upload{
		{Filename: "beach.jpg", MIMEType: "image/jpeg", Reader: strings.NewReader("jpegdata")},
		{Filename: "clip.mp4", MIMEType: "video/mp4", Reader: strings.NewReader("mp4data")},
		{Filename: "song.mp3", MIMEType: "audio/mpeg", Reader: strings.NewReader("mp3data")},
	}

	j, err := svc.CreateJob(ctx, Params{}, uploads)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if j.Status != StatusQueued {
		t.Errorf("status = %s, want queued", j.Status)
	}
	if j.TargetDuration != 30 || j.Quality != "high" {
		t.Errorf("defaults not applied: %+v", j)
	}

	files, err := repo.ListMediaFiles(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 3 {
		t.Fatalf("got %d media files, want 3", len(files))
	}
	kinds := map[string]string{}
	for _, f := range files {
		kinds[f.Filename] = f.Kind
		if _, err := os.Stat(f.Path); err != nil {
			t.Errorf("staged file missing on disk: %v", err)
		}
		if !strings.HasPrefix(f.Path, mediaDir) {
			t.Errorf("file staged outside media dir: %s", f.Path)
		}
	}
	if kinds["beach.jpg"] != KindImage || kinds["clip.mp4"] != KindVideo || kinds["song.mp3"] != KindAudio {
		t.Errorf("kinds = %v", kinds)
	}
}

func TestCreateJobSkipsOversizedFile(t *testing.T) {
	svc, repo, _ := setupService(t)
	ctx := context.Background()

	j, err := svc.CreateJob(ctx, Params{}, []Upload{
		{Filename: "huge.mp4", MIMEType: "video/mp4", Reader: strings.NewReader(strings.Repeat("x", 2048))},
		{Filename: "ok.jpg", MIMEType: "image/jpeg", Reader: strings.NewReader("jpegdata")},
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	// Only the small file is staged; the job proceeds without the big one.
	files, err := repo.ListMediaFiles(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Filename != "ok.jpg" {
		t.Fatalf("staged files = %+v, want just ok.jpg", files)
	}

	logs, err := repo.ListLogs(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	var warned bool
	for _, l := range logs {
		if l.Level == "warn" && strings.Contains(l.Message, "huge.mp4") {
			warned = true
		}
	}
	if !warned {
		t.Error("oversized skip not recorded in the job log")
	}
}

func TestCreateJobAllFilesOversized(t *testing.T) {
	svc, repo, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.CreateJob(ctx, Params{}, []Upload{
		{Filename: "huge.mp4", MIMEType: "video/mp4", Reader: strings.NewReader(strings.Repeat("x", 2048))},
	})
	if err == nil {
		t.Fatal("expected error when no file fits the limit")
	}

	// Nothing should be left behind.
	jobs, _ := repo.ListJobs(ctx, 10)
	if len(jobs) != 0 {
		t.Errorf("job row survived failed creation: %+v", jobs)
	}
}

func TestCreateJobRejectsEmptyBatch(t *testing.T) {
	svc, _, _ := setupService(t)

	if _, err := svc.CreateJob(context.Background(), Params{}, nil); err == nil {
		t.Fatal("expected error for empty batch")
	}
}

func TestCreateJobValidatesParams(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()
	upload := []Upload{{Filename: "a.jpg", MIMEType: "image/jpeg", Reader: strings.NewReader("x")}}

	tests := []struct {
		name   string
		params Params
	}{
		{"duration too short", Params{TargetDuration: 10}},
		{"duration too long", Params{TargetDuration: 90}},
		{"bad quality", Params{Quality: "cinematic"}},
		{"landscape resolution", Params{Resolution: "1920x1080"}},
		{"off-step fps", Params{FPS: 25}},
		{"fps too high", Params{FPS: 120}},
		{"bad format", Params{Format: "avi"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.CreateJob(ctx, tt.params, upload); err == nil {
				t.Errorf("expected validation error for %+v", tt.params)
			}
		})
	}
}

func TestDeleteJobRemovesDisk(t *testing.T) {
	svc, _, mediaDir := setupService(t)
	ctx := context.Background()

	j, err := svc.CreateJob(ctx, Params{}, []Upload{
		{Filename: "a.jpg", MIMEType: "image/jpeg", Reader: strings.NewReader("x")},
	})
	if err != nil {
		t.Fatal(err)
	}

	jobDir := filepath.Join(mediaDir, j.ID)
	if _, err := os.Stat(jobDir); err != nil {
		t.Fatalf("job dir not created: %v", err)
	}

	if err := svc.DeleteJob(ctx, j.ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if _, err := os.Stat(jobDir); !os.IsNotExist(err) {
		t.Error("job dir survived deletion")
	}
	if got, _ := svc.GetJob(ctx, j.ID); got != nil {
		t.Errorf("job row survived deletion: %+v", got)
	}
}

func TestCloneJob(t *testing.T) {
	svc, repo, _ := setupService(t)
	ctx := context.Background()

	j, err := svc.CreateJob(ctx, Params{TargetDuration: 20, Quality: "draft"}, []Upload{
		{Filename: "a.jpg", MIMEType: "image/jpeg", Reader: strings.NewReader("x")},
	})
	if err != nil {
		t.Fatal(err)
	}

	// A running job cannot be cloned.
	repo.UpdateJobStatus(ctx, j.ID, StatusRendering, "")
	if _, err := svc.CloneJob(ctx, j.ID, ""); err == nil {
		t.Error("expected error cloning a running job")
	}

	repo.UpdateJobStatus(ctx, j.ID, StatusDone, "")
	repo.UpdateJobTimeline(ctx, j.ID, `{"timeline":{"entries":[]}}`)
	repo.UpdateJobProgress(ctx, j.ID, 100)

	clone, err := svc.CloneJob(ctx, j.ID, `{"timeline":{"entries":[]}}`)
	if err != nil {
		t.Fatalf("CloneJob: %v", err)
	}
	if clone.ID == j.ID {
		t.Fatal("clone reused the source id")
	}
	if clone.Status != StatusQueued || clone.Progress != 0 {
		t.Errorf("clone not enqueued fresh: %+v", clone)
	}
	if clone.TargetDuration != 20 || clone.Quality != "draft" {
		t.Errorf("clone dropped the source params: %+v", clone)
	}
	if clone.TimelineJSON == "" {
		t.Error("clone missing the carried timeline")
	}

	// The clone references the same staged media under the source's dir.
	srcFiles, _ := repo.ListMediaFiles(ctx, j.ID)
	cloneFiles, _ := repo.ListMediaFiles(ctx, clone.ID)
	if len(cloneFiles) != len(srcFiles) {
		t.Fatalf("clone has %d media files, want %d", len(cloneFiles), len(srcFiles))
	}
	if cloneFiles[0].Path != srcFiles[0].Path {
		t.Errorf("clone media path %q, want %q", cloneFiles[0].Path, srcFiles[0].Path)
	}
	if cloneFiles[0].ID == srcFiles[0].ID {
		t.Error("clone media row reused the source row id")
	}

	// The source row is untouched.
	src, _ := repo.GetJob(ctx, j.ID)
	if src.Status != StatusDone || src.Progress != 100 {
		t.Errorf("cloning mutated the source: %+v", src)
	}
}

func TestValidateHardDurationCap(t *testing.T) {
	p := Params{TargetDuration: 200}
	p.Normalize()

	err := p.Validate()
	if err == nil {
		t.Fatal("expected error beyond the hard cap")
	}
	if !strings.Contains(err.Error(), "120") {
		t.Errorf("error = %v, want the hard cap named", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"beach day.jpg", "beach_day.jpg"},
		{"../../etc/passwd", "passwd"},
		{"", "upload"},
		{"clip-01_final.mp4", "clip-01_final.mp4"},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestKindForMIME(t *testing.T) {
	tests := []struct {
		mime string
		want string
	}{
		{"image/jpeg", KindImage},
		{"image/webp", KindImage},
		{"video/quicktime", KindVideo},
		{"audio/wav", KindAudio},
		{"application/pdf", ""},
	}
	for _, tt := range tests {
		if got := KindForMIME(tt.mime); got != tt.want {
			t.Errorf("KindForMIME(%q) = %q, want %q", tt.mime, got, tt.want)
		}
	}
}
