package reaction

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mirror/internal/domain"
	"mirror/internal/events"
	"mirror/internal/frame"
	"mirror/internal/providers/replicate"
)

// memStore records every status a job passes through.
type memStore struct {
	mu      sync.Mutex
	jobs    map[string]*domain.Job
	history map[string][]domain.JobStatus
}

func newMemStore() *memStore {
	return &memStore{jobs: map[string]*domain.Job{}, history: map[string][]domain.JobStatus{}}
}

func (m *memStore) Create(ctx context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	cp.Status = domain.JobStatusQueued
	m.jobs[job.ID] = &cp
	m.history[job.ID] = []domain.JobStatus{domain.JobStatusQueued}
	return nil
}

func (m *memStore) Update(ctx context.Context, id string, u domain.JobUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	changed, err := job.Apply(u, time.Now())
	if err != nil {
		return err
	}
	if changed {
		m.history[id] = append(m.history[id], u.Status)
	}
	return nil
}

func (m *memStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *memStore) statuses(id string) []domain.JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.JobStatus(nil), m.history[id]...)
}

type invokeFunc func(ctx context.Context, model string, input map[string]any) (json.RawMessage, error)

type fakeModels struct {
	mu    sync.Mutex
	calls []string
	input []map[string]any
	fn    invokeFunc
}

func (f *fakeModels) Invoke(ctx context.Context, model string, input map[string]any) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, model)
	f.input = append(f.input, input)
	f.mu.Unlock()
	return f.fn(ctx, model, input)
}

func (f *fakeModels) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSpeaker struct{ url string }

func (f fakeSpeaker) SynthesizeURL(ctx context.Context, text, voice string) (string, error) {
	return f.url, nil
}

type fakeArtifacts struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeArtifacts) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	return "https://bucket.test/" + key, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.JobEvent
}

func (r *recordingPublisher) Publish(ctx context.Context, ev events.JobEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

func jpegFrame(t *testing.T) frame.Image {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4)), nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	img, err := frame.Parse("imageBase64", "data:image/jpeg;base64,"+base64.StdEncoding.EncodeToString(buf.Bytes()))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return img
}

func videoOK(ctx context.Context, model string, input map[string]any) (json.RawMessage, error) {
	return json.RawMessage(`["https://replicate.delivery/clip.mp4"]`), nil
}

func newTestProcessor(store *memStore, models *fakeModels, opts Options) *Processor {
	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = time.Millisecond
	}
	opts.Logger = zerolog.Nop()
	return NewProcessor(store, models, fakeSpeaker{url: "https://replicate.delivery/line.mp3"}, nil, nil, withAvatar(opts))
}

func withAvatar(opts Options) Options {
	if opts.AvatarModel == "" {
		opts.AvatarModel = "bytedance/omni-human"
	}
	return opts
}

func waitTerminal(t *testing.T, store *memStore, id string) *domain.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.Get(context.Background(), id)
		if err == nil && job.Status.Terminal() {
			return job
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", id)
	return nil
}

func assertPath(t *testing.T, store *memStore, id string, final domain.JobStatus) {
	t.Helper()
	want := []domain.JobStatus{domain.JobStatusQueued, domain.JobStatusRunning, final}
	got := store.statuses(id)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("status path = %v, want %v", got, want)
	}
}

func assertExactlyOne(t *testing.T, job *domain.Job) {
	t.Helper()
	if (job.VideoURL == "") == (job.Error == "") {
		t.Fatalf("terminal job must carry exactly one of result/error: %+v", job)
	}
}

func TestStartJobSeedanceSucceeds(t *testing.T) {
	store := newMemStore()
	models := &fakeModels{fn: videoOK}
	pub := &recordingPublisher{}
	p := NewProcessor(store, models, nil, nil, pub, Options{Logger: zerolog.Nop()})

	h, err := p.StartJob(context.Background(), StartRequest{Image: jpegFrame(t), Line: "Nice hat.\nReally.", Mood: "upbeat", Mode: "seedance"})
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	job := waitTerminal(t, store, h.JobID)
	if job.Status != domain.JobStatusSucceeded || job.VideoURL != "https://replicate.delivery/clip.mp4" {
		t.Fatalf("job = %+v", job)
	}
	assertPath(t, store, h.JobID, domain.JobStatusSucceeded)
	assertExactlyOne(t, job)

	input := models.input[0]
	if models.calls[0] != "bytedance/seedance-1-pro-fast" || input["mode"] != "i2v" || input["duration"] != 5 ||
		input["resolution"] != "720p" || input["aspect_ratio"] != "9:16" || input["seed"] != 42 {
		t.Fatalf("video input = %v", input)
	}
	prompt := input["prompt"].(string)
	if !strings.Contains(prompt, "teal/cyan") || !strings.Contains(prompt, `"Nice hat. Really."`) {
		t.Fatalf("prompt = %q", prompt)
	}
	if !strings.HasPrefix(input["image"].(string), "data:image/jpeg;base64,") {
		t.Fatalf("image input not inline")
	}

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if len(pub.events) != 1 || pub.events[0].Type != "reaction.job.succeeded" || pub.events[0].Retried {
		t.Fatalf("events = %+v", pub.events)
	}
}

func TestStartJobValidation(t *testing.T) {
	store := newMemStore()
	p := newTestProcessor(store, &fakeModels{fn: videoOK}, Options{})
	cases := []StartRequest{
		{Line: "hi"},
		{Image: jpegFrame(t), Line: "  "},
	}
	for _, req := range cases {
		if _, err := p.StartJob(context.Background(), req); !domain.IsValidation(err) {
			t.Fatalf("err = %v, want validation error", err)
		}
	}
	if len(store.jobs) != 0 {
		t.Fatalf("invalid requests created jobs")
	}
}

func TestCapacityErrorsRetryExactlyOnce(t *testing.T) {
	store := newMemStore()
	models := &fakeModels{fn: func(ctx context.Context, model string, input map[string]any) (json.RawMessage, error) {
		return nil, errors.New("replicate: Model is at capacity, queue is full")
	}}
	pub := &recordingPublisher{}
	p := NewProcessor(store, models, nil, nil, pub, Options{RetryBackoff: time.Millisecond, Logger: zerolog.Nop()})

	h, _ := p.StartJob(context.Background(), StartRequest{Image: jpegFrame(t), Line: "Nice hat."})
	job := waitTerminal(t, store, h.JobID)
	_ = p.Shutdown(context.Background())

	if models.count() != 2 {
		t.Fatalf("invocations = %d, want 2", models.count())
	}
	if job.Status != domain.JobStatusFailed || !strings.Contains(job.Error, "queue is full") {
		t.Fatalf("job = %+v", job)
	}
	assertPath(t, store, h.JobID, domain.JobStatusFailed)
	assertExactlyOne(t, job)
	if len(pub.events) != 1 || !pub.events[0].Retried {
		t.Fatalf("events = %+v", pub.events)
	}
}

func TestCapacityRetryCanSucceed(t *testing.T) {
	store := newMemStore()
	var attempts int
	var mu sync.Mutex
	models := &fakeModels{fn: func(ctx context.Context, model string, input map[string]any) (json.RawMessage, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return nil, errors.New("replicate: status 429: Too Many Requests")
		}
		return json.RawMessage(`"https://replicate.delivery/second.mp4"`), nil
	}}
	p := newTestProcessor(store, models, Options{})

	h, _ := p.StartJob(context.Background(), StartRequest{Image: jpegFrame(t), Line: "Nice hat."})
	job := waitTerminal(t, store, h.JobID)
	if job.Status != domain.JobStatusSucceeded || job.VideoURL != "https://replicate.delivery/second.mp4" {
		t.Fatalf("job = %+v", job)
	}
	assertPath(t, store, h.JobID, domain.JobStatusSucceeded)
}

func TestPermanentErrorsAreNotRetried(t *testing.T) {
	cases := map[string]invokeFunc{
		"model error": func(ctx context.Context, model string, input map[string]any) (json.RawMessage, error) {
			return nil, errors.New("replicate: status 422: invalid input image")
		},
		"unrecognized output": func(ctx context.Context, model string, input map[string]any) (json.RawMessage, error) {
			return json.RawMessage(`{"status":"ok"}`), nil
		},
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			store := newMemStore()
			models := &fakeModels{fn: fn}
			p := newTestProcessor(store, models, Options{})
			h, _ := p.StartJob(context.Background(), StartRequest{Image: jpegFrame(t), Line: "Nice hat."})
			job := waitTerminal(t, store, h.JobID)
			if models.count() != 1 {
				t.Fatalf("invocations = %d, want 1", models.count())
			}
			if job.Status != domain.JobStatusFailed || job.Error == "" {
				t.Fatalf("job = %+v", job)
			}
			assertExactlyOne(t, job)
		})
	}
}

func TestAvatarModeChainsSpeechAndVideo(t *testing.T) {
	store := newMemStore()
	models := &fakeModels{fn: func(ctx context.Context, model string, input map[string]any) (json.RawMessage, error) {
		return json.RawMessage(`{"output":{"video":"https://replicate.delivery/talk.mp4"}}`), nil
	}}
	artifacts := &fakeArtifacts{}
	p := NewProcessor(store, models, fakeSpeaker{url: "https://replicate.delivery/line.mp3"}, artifacts, nil,
		Options{AvatarModel: "bytedance/omni-human", Logger: zerolog.Nop()})

	h, _ := p.StartJob(context.Background(), StartRequest{Image: jpegFrame(t), Line: "Hello.", Mode: "avatar"})
	job := waitTerminal(t, store, h.JobID)
	if job.Status != domain.JobStatusSucceeded || job.VideoURL != "https://replicate.delivery/talk.mp4" {
		t.Fatalf("job = %+v", job)
	}
	if models.calls[0] != "bytedance/omni-human" {
		t.Fatalf("calls = %v", models.calls)
	}
	input := models.input[0]
	if input["audio"] != "https://replicate.delivery/line.mp3" {
		t.Fatalf("audio input = %v", input["audio"])
	}
	wantKey := "frames/" + h.JobID + ".jpg"
	if len(artifacts.keys) != 1 || artifacts.keys[0] != wantKey || input["image"] != "https://bucket.test/"+wantKey {
		t.Fatalf("artifact keys = %v image = %v", artifacts.keys, input["image"])
	}
}

func blockUntilDone(ctx context.Context, model string, input map[string]any) (json.RawMessage, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestStageTimeoutFailsJob(t *testing.T) {
	store := newMemStore()
	p := newTestProcessor(store, &fakeModels{fn: blockUntilDone}, Options{StageTimeout: 20 * time.Millisecond})

	h, _ := p.StartJob(context.Background(), StartRequest{Image: jpegFrame(t), Line: "Nice hat."})
	job := waitTerminal(t, store, h.JobID)
	if job.Status != domain.JobStatusFailed || !strings.Contains(job.Error, "timed out") {
		t.Fatalf("job = %+v", job)
	}
	assertPath(t, store, h.JobID, domain.JobStatusFailed)
}

func TestNewerCaptureSupersedesSession(t *testing.T) {
	store := newMemStore()
	release := make(chan struct{})
	var first sync.Once
	models := &fakeModels{fn: func(ctx context.Context, model string, input map[string]any) (json.RawMessage, error) {
		blocked := false
		first.Do(func() { blocked = true })
		if blocked {
			// The stale call finishes with a result after being superseded.
			<-ctx.Done()
			<-release
			return json.RawMessage(`"https://replicate.delivery/stale.mp4"`), nil
		}
		return json.RawMessage(`"https://replicate.delivery/fresh.mp4"`), nil
	}}
	p := newTestProcessor(store, models, Options{})

	old, _ := p.StartJob(context.Background(), StartRequest{Image: jpegFrame(t), Line: "one", Session: "mirror-1"})
	for models.count() == 0 {
		time.Sleep(time.Millisecond)
	}
	fresh, _ := p.StartJob(context.Background(), StartRequest{Image: jpegFrame(t), Line: "two", Session: "mirror-1"})
	close(release)

	stale := waitTerminal(t, store, old.JobID)
	if stale.Status != domain.JobStatusFailed || stale.Error != domain.ErrSuperseded.Error() {
		t.Fatalf("stale job = %+v", stale)
	}
	current := waitTerminal(t, store, fresh.JobID)
	if current.VideoURL != "https://replicate.delivery/fresh.mp4" {
		t.Fatalf("fresh job = %+v", current)
	}
}

func TestCancelAndShutdown(t *testing.T) {
	store := newMemStore()
	models := &fakeModels{fn: blockUntilDone}
	p := newTestProcessor(store, models, Options{})

	a, _ := p.StartJob(context.Background(), StartRequest{Image: jpegFrame(t), Line: "a"})
	b, _ := p.StartJob(context.Background(), StartRequest{Image: jpegFrame(t), Line: "b"})
	if !p.Cancel(a.JobID) {
		t.Fatalf("Cancel reported job not in flight")
	}
	if job := waitTerminal(t, store, a.JobID); job.Error != "canceled" {
		t.Fatalf("canceled job = %+v", job)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := p.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown err = %v", err)
	}
	job, _ := store.Get(context.Background(), b.JobID)
	if job.Status != domain.JobStatusFailed || job.Error != errShutdown.Error() {
		t.Fatalf("job after shutdown = %+v", job)
	}
	if p.InFlight() != 0 {
		t.Fatalf("in flight = %d", p.InFlight())
	}
	if _, err := p.StartJob(context.Background(), StartRequest{Image: jpegFrame(t), Line: "c"}); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("StartJob after shutdown err = %v", err)
	}
	if p.Cancel(b.JobID) {
		t.Fatalf("Cancel of finished job reported in flight")
	}
}

func TestIsCapacity(t *testing.T) {
	for _, msg := range []string{"Queue is full", "model AT CAPACITY", "429", "Rate limit reached", "high demand", "server overloaded", "Too Many Requests"} {
		if !IsCapacity(errors.New(msg)) {
			t.Errorf("IsCapacity(%q) = false", msg)
		}
	}
	for _, msg := range []string{"invalid input", "NSFW content detected", "stage timed out"} {
		if IsCapacity(errors.New(msg)) {
			t.Errorf("IsCapacity(%q) = true", msg)
		}
	}
	if IsCapacity(nil) {
		t.Errorf("IsCapacity(nil) = true")
	}

	_, _, err := replicate.DecodeURL(json.RawMessage(`{"file":"out_14290.bin","note":"capacity"}`))
	if IsCapacity(fmt.Errorf("video: %w", err)) {
		t.Errorf("unrecognized output classified as capacity: %v", err)
	}
	if IsCapacity(errors.New("prediction 714290 failed")) {
		t.Errorf("429 inside a longer number classified as capacity")
	}
	if !IsCapacity(fmt.Errorf("video: %w", &replicate.Error{StatusCode: 429, Message: "slow down"})) {
		t.Errorf("HTTP 429 not classified as capacity")
	}
}

func TestVideoPrompt(t *testing.T) {
	if Palette(domain.MoodSleepy) != "indigo/navy" || Palette(domain.MoodNeutral) != "lilac/gray" {
		t.Fatalf("palette mismatch")
	}
	long := strings.Repeat("a", 200) + "\r\n"
	if got := SanitizeLine(long); len([]rune(got)) != 120 {
		t.Fatalf("sanitized length = %d", len([]rune(got)))
	}
	if got := SanitizeLine("a\r\n\nb"); got != "a b" {
		t.Fatalf("SanitizeLine = %q", got)
	}
}
