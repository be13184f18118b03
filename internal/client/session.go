package client

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// API is the backend surface a capture session drives.
type API interface {
	StatusSource
	Reflect(ctx context.Context, image, tone string, intensity int) (Reflection, error)
	StartReaction(ctx context.Context, req ReactionRequest) (string, error)
	Speak(ctx context.Context, text, voice string) ([]byte, error)
}

// State is what a mirror shows for the latest capture.
type State struct {
	Message      string
	Mood         string
	Audio        []byte
	JobID        string
	VideoPending bool
	VideoURL     string
	Error        string
	Outcome      Outcome
}

type SessionOptions struct {
	Tone      string
	Intensity int
	Mode      string
	Voice     string
	// SkipSpeech disables the standalone speech call for the caption.
	SkipSpeech bool
	// OnChange is called with a copy of the state after every change made by
	// the current capture.
	OnChange func(State)
	Logger   zerolog.Logger
}

// Session runs captures one after another. A new capture cancels the
// previous one, and only the newest capture may change State.
type Session struct {
	api    API
	poller *Poller
	opts   SessionOptions
	id     string

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	state  State
}

func NewSession(api API, poller *Poller, opts SessionOptions) *Session {
	if poller == nil {
		poller = NewPoller(api, opts.Logger)
	}
	return &Session{api: api, poller: poller, opts: opts, id: uuid.NewString()}
}

// ID is sent with every reaction request so the backend can supersede the
// previous job of this session.
func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Capture reflects on image, speaks the line, starts a reaction video and
// polls it to completion. image is a data URI.
func (s *Session) Capture(ctx context.Context, image string) (State, error) {
	ctx, gen := s.begin(ctx)
	defer s.end(gen)
	log := s.opts.Logger.With().Uint64("capture", gen).Logger()
	var own State
	update := func(fn func(*State)) { s.update(gen, &own, fn) }

	refl, err := s.api.Reflect(ctx, image, s.opts.Tone, s.opts.Intensity)
	if err != nil {
		update(func(st *State) { st.Error = err.Error() })
		return own, err
	}
	if refl.Error != "" {
		log.Warn().Str("reason", refl.Error).Msg("reflection fell back")
	}
	update(func(st *State) {
		st.Message = refl.Message
		st.Mood = refl.Mood
	})

	if !s.opts.SkipSpeech {
		audio, err := s.api.Speak(ctx, refl.Message, s.opts.Voice)
		if err != nil {
			log.Warn().Err(err).Msg("speech failed")
		} else {
			update(func(st *State) { st.Audio = audio })
		}
	}

	jobID, err := s.api.StartReaction(ctx, ReactionRequest{
		ImageBase64: image,
		Line:        refl.Message,
		Mood:        refl.Mood,
		Mode:        s.opts.Mode,
		SessionID:   s.id,
	})
	if err != nil {
		update(func(st *State) { st.Error = err.Error() })
		return own, err
	}
	update(func(st *State) {
		st.JobID = jobID
		st.VideoPending = true
	})

	res, err := s.poller.Poll(ctx, jobID, nil)
	update(func(st *State) {
		st.Outcome = res.Outcome
		switch res.Outcome {
		case OutcomeSucceeded:
			st.VideoPending = false
			st.VideoURL = res.VideoURL
		case OutcomeFailed:
			st.VideoPending = false
			st.Error = res.Error
		}
	})
	return own, err
}

func (s *Session) begin(parent context.Context) (context.Context, uint64) {
	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	s.cancel = cancel
	s.state = State{}
	gen := s.gen
	s.mu.Unlock()
	s.notify(gen)
	return ctx, gen
}

func (s *Session) end(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen && s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// update applies fn to the capture's own state, and publishes it only while
// gen is still the newest capture.
func (s *Session) update(gen uint64, own *State, fn func(*State)) {
	fn(own)
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.state = *own
	s.mu.Unlock()
	s.notify(gen)
}

func (s *Session) notify(gen uint64) {
	if s.opts.OnChange == nil {
		return
	}
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	st := s.state
	s.mu.Unlock()
	s.opts.OnChange(st)
}
