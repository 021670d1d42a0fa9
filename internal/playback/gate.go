package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Mode selects how overlapping results are voiced.
type Mode string

const (
	// ModeConcurrent voices every result independently.
	ModeConcurrent Mode = "concurrent"
	// ModeSingleFlight voices one result at a time; results arriving while
	// playback is in progress are dropped, never queued. The orchestrator is
	// paused for the duration so recognition and speech do not talk over
	// each other.
	ModeSingleFlight Mode = "single_flight"
)

// Pauser is the recognition control handle the gate throttles during
// single-flight playback. It is a borrowed reference, not an owned one.
type Pauser interface {
	Pause()
	Resume()
}

// Gate coordinates result arrival with speech synthesis and playback.
type Gate struct {
	mode   Mode
	synth  Synthesizer
	player Player
	pauser Pauser
	voice  string
	log    *slog.Logger

	// onDone, when set, observes every finished (or failed) playback.
	onDone func(text string, err error)

	mu         sync.Mutex
	inProgress bool

	wg sync.WaitGroup
}

// NewGate builds a playback gate. pauser may be nil when playback should not
// throttle recognition; onDone may be nil.
func NewGate(mode Mode, synth Synthesizer, player Player, pauser Pauser, voice string, log *slog.Logger, onDone func(string, error)) *Gate {
	return &Gate{
		mode:   mode,
		synth:  synth,
		player: player,
		pauser: pauser,
		voice:  voice,
		log:    log.With(slog.String("component", "playback-gate")),
		onDone: onDone,
	}
}

// OnResult voices a recognized label according to the gate mode. It never
// blocks: playback runs in the background. The return value reports whether
// the result was accepted (false means dropped under single-flight).
func (g *Gate) OnResult(ctx context.Context, label string) bool {
	switch g.mode {
	case ModeSingleFlight:
		g.mu.Lock()
		if g.inProgress {
			g.mu.Unlock()
			g.log.Debug("playback busy, dropping result", slog.String("label", label))
			return false
		}
		g.inProgress = true
		g.mu.Unlock()

		if g.pauser != nil {
			g.pauser.Pause()
		}

		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			defer func() {
				if g.pauser != nil {
					g.pauser.Resume()
				}
				g.mu.Lock()
				g.inProgress = false
				g.mu.Unlock()
			}()
			g.speak(ctx, label)
		}()
		return true

	default: // ModeConcurrent
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			g.speak(ctx, label)
		}()
		return true
	}
}

// InProgress reports whether a single-flight playback is running.
func (g *Gate) InProgress() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inProgress
}

// Wait blocks until all in-flight playbacks have settled.
func (g *Gate) Wait() {
	g.wg.Wait()
}

// speak synthesizes the label and plays the collected audio to completion.
func (g *Gate) speak(ctx context.Context, label string) {
	start := time.Now()
	err := g.speakErr(ctx, label)
	if err != nil {
		g.log.Warn("playback failed", slog.String("label", label), slog.String("error", err.Error()))
	} else {
		g.log.Debug("playback complete", slog.String("label", label), slog.Duration("took", time.Since(start)))
	}
	if g.onDone != nil {
		g.onDone(label, err)
	}
}

func (g *Gate) speakErr(ctx context.Context, label string) error {
	chunks, errs := g.synth.Synthesize(ctx, SynthRequest{Text: label, Voice: g.voice})

	var pcm []byte
	sampleRate := 0
	channels := 0
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			pcm = append(pcm, chunk.PCM...)
			sampleRate = chunk.SampleRate
			channels = chunk.Channels
		case err, ok := <-errs:
			if ok && err != nil {
				return fmt.Errorf("synthesize %q: %w", label, err)
			}
			errs = nil
		case <-ctx.Done():
			return ctx.Err()
		}
		if chunks == nil && errs == nil {
			break
		}
	}

	if len(pcm) == 0 {
		return nil
	}
	if err := g.player.Play(ctx, pcm, sampleRate, channels); err != nil {
		return fmt.Errorf("play %q: %w", label, err)
	}
	return nil
}
