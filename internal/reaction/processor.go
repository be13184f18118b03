// Package reaction runs reaction video jobs in the background.
package reaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mirror/internal/domain"
	"mirror/internal/events"
	"mirror/internal/frame"
	"mirror/internal/providers/replicate"
	"mirror/internal/storage"
)

var (
	// ErrShuttingDown rejects new jobs once Shutdown has begun.
	ErrShuttingDown = errors.New("reaction: processor is shutting down")
	errCanceled     = errors.New("canceled")
	errShutdown     = errors.New("canceled: server shutting down")
)

const writeTimeout = 5 * time.Second

// Speaker turns a line into a hosted audio URL.
type Speaker interface {
	SynthesizeURL(ctx context.Context, text, voice string) (string, error)
}

// Options tunes models and timing. Zero durations take the defaults.
type Options struct {
	VideoModel   string
	AvatarModel  string
	RetryBackoff time.Duration
	StageTimeout time.Duration
	EventPrefix  string
	Logger       zerolog.Logger
}

// StartRequest is one job submission. Session groups jobs from the same
// client; a newer job supersedes the older one.
type StartRequest struct {
	Image   frame.Image
	Line    string
	Mood    domain.Mood
	Mode    domain.Mode
	Session string
}

// Handle identifies a started job.
type Handle struct {
	JobID string
}

type task struct {
	cancel  context.CancelCauseFunc
	session string
}

// Processor owns the lifecycle of every job it starts: it is the only writer
// for those ids.
type Processor struct {
	store     domain.JobStore
	models    replicate.Invoker
	speaker   Speaker
	artifacts storage.Store
	events    events.Publisher

	videoModel   string
	avatarModel  string
	retryBackoff time.Duration
	stageTimeout time.Duration
	eventPrefix  string
	logger       zerolog.Logger

	mu       sync.Mutex
	tasks    map[string]*task
	sessions map[string]string
	closed   bool
	wg       sync.WaitGroup
}

// NewProcessor wires a processor. artifacts and publisher may be nil.
func NewProcessor(store domain.JobStore, models replicate.Invoker, speaker Speaker, artifacts storage.Store, publisher events.Publisher, opts Options) *Processor {
	if publisher == nil {
		publisher = events.Noop{}
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 5 * time.Second
	}
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = 3 * time.Minute
	}
	if opts.EventPrefix == "" {
		opts.EventPrefix = "reaction.job"
	}
	if opts.VideoModel == "" {
		opts.VideoModel = "bytedance/seedance-1-pro-fast"
	}
	return &Processor{
		store:        store,
		models:       models,
		speaker:      speaker,
		artifacts:    artifacts,
		events:       publisher,
		videoModel:   opts.VideoModel,
		avatarModel:  opts.AvatarModel,
		retryBackoff: opts.RetryBackoff,
		stageTimeout: opts.StageTimeout,
		eventPrefix:  opts.EventPrefix,
		logger:       opts.Logger,
		tasks:        make(map[string]*task),
		sessions:     make(map[string]string),
	}
}

// StartJob validates the request, records a queued job and returns without
// waiting for the pipeline.
func (p *Processor) StartJob(ctx context.Context, req StartRequest) (Handle, error) {
	if len(req.Image.Data) == 0 {
		return Handle{}, domain.Invalid("imageBase64", "required")
	}
	if strings.TrimSpace(req.Line) == "" {
		return Handle{}, domain.Invalid("line", "required")
	}
	req.Mode = domain.ParseMode(string(req.Mode))
	req.Mood = domain.ParseMood(string(req.Mood))
	req.Session = strings.TrimSpace(req.Session)

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return Handle{}, ErrShuttingDown
	}

	id := uuid.NewString()
	job := &domain.Job{ID: id, SessionKey: req.Session, Mode: req.Mode, Mood: req.Mood}
	if err := p.store.Create(ctx, job); err != nil {
		return Handle{}, err
	}

	taskCtx, cancel := context.WithCancelCause(context.Background())
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		cancel(errShutdown)
		_ = p.write(ctx, id, domain.Running())
		_ = p.write(ctx, id, domain.Failed(errShutdown.Error()))
		return Handle{}, ErrShuttingDown
	}
	if req.Session != "" {
		if prev, ok := p.sessions[req.Session]; ok {
			if t, ok := p.tasks[prev]; ok {
				t.cancel(domain.ErrSuperseded)
			}
		}
		p.sessions[req.Session] = id
	}
	p.tasks[id] = &task{cancel: cancel, session: req.Session}
	p.wg.Add(1)
	p.mu.Unlock()

	go p.run(taskCtx, id, req)

	p.logger.Info().Str("job_id", id).Str("mode", string(req.Mode)).Str("mood", string(req.Mood)).Msg("reaction job queued")
	return Handle{JobID: id}, nil
}

// Cancel stops a running job; it is recorded as failed. It reports whether
// the job was still in flight.
func (p *Processor) Cancel(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tasks[jobID]
	if ok {
		t.cancel(errCanceled)
	}
	return ok
}

// InFlight counts jobs whose pipeline has not finished.
func (p *Processor) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

// Shutdown stops accepting jobs and waits for running ones. When ctx ends
// first, the remaining jobs are canceled and recorded as failed.
func (p *Processor) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	p.mu.Lock()
	for _, t := range p.tasks {
		t.cancel(errShutdown)
	}
	p.mu.Unlock()
	<-done
	return ctx.Err()
}

func (p *Processor) run(ctx context.Context, id string, req StartRequest) {
	defer p.wg.Done()
	defer p.release(id)

	log := p.logger.With().Str("job_id", id).Str("mode", string(req.Mode)).Logger()
	image := p.hostImage(ctx, id, req.Image, log)
	p.process(ctx, id, req, image, false, log)
}

func (p *Processor) release(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tasks[id]
	if !ok {
		return
	}
	t.cancel(nil)
	delete(p.tasks, id)
	if t.session != "" && p.sessions[t.session] == id {
		delete(p.sessions, t.session)
	}
}

// process runs the pipeline once. A capacity failure on the first attempt
// re-enters process after the backoff with retried set; nothing retries twice.
func (p *Processor) process(ctx context.Context, id string, req StartRequest, image string, retried bool, log zerolog.Logger) {
	if err := p.write(ctx, id, domain.Running()); err != nil {
		log.Error().Err(err).Msg("reaction job could not start")
		return
	}

	url, err := p.pipeline(ctx, req, image)
	if ctx.Err() != nil {
		// A canceled task records its cause; a late pipeline result is dropped.
		p.finish(ctx, id, req, domain.Failed(context.Cause(ctx).Error()), retried, log)
		return
	}
	if err == nil {
		p.finish(ctx, id, req, domain.Succeeded(url), retried, log)
		return
	}

	if !retried && IsCapacity(err) {
		log.Warn().Err(err).Dur("backoff", p.retryBackoff).Msg("model at capacity, retrying once")
		if !p.sleep(ctx, p.retryBackoff) {
			p.finish(ctx, id, req, domain.Failed(context.Cause(ctx).Error()), retried, log)
			return
		}
		p.process(ctx, id, req, image, true, log)
		return
	}
	p.finish(ctx, id, req, domain.Failed(err.Error()), retried, log)
}

func (p *Processor) pipeline(ctx context.Context, req StartRequest, image string) (string, error) {
	switch req.Mode {
	case domain.ModeAvatar:
		if p.speaker == nil || p.avatarModel == "" {
			return "", fmt.Errorf("%w: avatar mode is not configured", domain.ErrMissingConfig)
		}
		audioURL, err := p.stage(ctx, "speech", func(sctx context.Context) (string, error) {
			return p.speaker.SynthesizeURL(sctx, req.Line, "")
		})
		if err != nil {
			return "", err
		}
		return p.stage(ctx, "avatar", func(sctx context.Context) (string, error) {
			return p.invokeURL(sctx, p.avatarModel, map[string]any{
				"image": image,
				"audio": audioURL,
			})
		})
	default:
		return p.stage(ctx, "video", func(sctx context.Context) (string, error) {
			return p.invokeURL(sctx, p.videoModel, map[string]any{
				"mode":         "i2v",
				"prompt":       VideoPrompt(req.Line, req.Mood),
				"image":        image,
				"duration":     5,
				"resolution":   "720p",
				"aspect_ratio": "9:16",
				"seed":         42,
			})
		})
	}
}

func (p *Processor) invokeURL(ctx context.Context, model string, input map[string]any) (string, error) {
	out, err := p.models.Invoke(ctx, model, input)
	if err != nil {
		return "", err
	}
	url, _, err := replicate.DecodeURL(out)
	return url, err
}

// stage bounds one external call so a hung upstream fails the job instead of
// leaving it running.
func (p *Processor) stage(ctx context.Context, name string, fn func(context.Context) (string, error)) (string, error) {
	sctx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	defer cancel()
	v, err := fn(sctx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(sctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%s stage timed out after %s", name, p.stageTimeout)
		}
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}

// hostImage uploads the frame when an artifact store is configured and falls
// back to the inline data URI otherwise.
func (p *Processor) hostImage(ctx context.Context, id string, img frame.Image, log zerolog.Logger) string {
	if p.artifacts == nil {
		return img.DataURI()
	}
	sctx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	defer cancel()
	url, err := p.artifacts.Put(sctx, "frames/"+id+"."+img.Ext(), img.Data, img.ContentType())
	if err != nil {
		log.Warn().Err(err).Msg("frame upload failed, sending inline image")
		return img.DataURI()
	}
	return url
}

func (p *Processor) finish(ctx context.Context, id string, req StartRequest, u domain.JobUpdate, retried bool, log zerolog.Logger) {
	if err := p.write(ctx, id, u); err != nil {
		log.Error().Err(err).Str("status", string(u.Status)).Msg("reaction job result not recorded")
		return
	}
	ev := log.Info()
	if u.Status == domain.JobStatusFailed {
		ev = log.Warn().Str("error", u.Error)
	}
	ev.Str("status", string(u.Status)).Bool("retried", retried).Msg("reaction job finished")

	job := domain.Job{ID: id, SessionKey: req.Session, Mode: req.Mode, Mood: req.Mood, Status: u.Status, VideoURL: u.VideoURL, Error: u.Error}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := p.events.Publish(pctx, events.NewJobEvent(p.eventPrefix, job, retried, time.Now())); err != nil {
		log.Warn().Err(err).Msg("job event not published")
	}
}

// write records a transition even when the task itself was canceled.
func (p *Processor) write(ctx context.Context, id string, u domain.JobUpdate) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	return p.store.Update(wctx, id, u)
}

func (p *Processor) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
