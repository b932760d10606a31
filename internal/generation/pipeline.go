package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bodul/wordgrid/internal/grid"
	"github.com/bodul/wordgrid/internal/protocol"
)

var (
	// ErrAlreadyInProgress is returned while another generation is running.
	ErrAlreadyInProgress = errors.New("generation already in progress")
	// ErrNoWords is returned when the grid is empty.
	ErrNoWords = errors.New("no words to generate from")
	// ErrCooldown is returned when a generation finished too recently.
	ErrCooldown = errors.New("generation cooling down")
	// ErrDisabled is returned when no image generator is configured.
	ErrDisabled = errors.New("image generation not configured")
)

// Request is the input to an image generator. An empty BaseImagePath selects
// a fresh image; otherwise the current image is evolved.
type Request struct {
	Prompt        string
	BaseImagePath string
}

// ImageGenerator produces an image and returns the path it is served under.
type ImageGenerator interface {
	Generate(ctx context.Context, req Request) (imagePath string, err error)
}

// Publisher fans an encoded event out to every connected client.
type Publisher interface {
	Broadcast(msg []byte)
}

// GroupSealer starts a new group baseline after an image is delivered.
type GroupSealer interface {
	SealGroups()
}

// Config tunes the pipeline.
type Config struct {
	PromptWords int           // words taken from the end of the grid; 0 means all
	Cooldown    time.Duration // minimum delay between two finished generations
	Timeout     time.Duration // upper bound for one external call
}

// Pipeline runs generation requests against the store.
type Pipeline struct {
	store     grid.Store
	generator ImageGenerator
	publisher Publisher
	sealer    GroupSealer
	cfg       Config
	logger    *zap.Logger

	flight Flight
	wg     sync.WaitGroup

	mu           sync.Mutex
	lastFinished time.Time
	now          func() time.Time
}

// NewPipeline creates a pipeline. generator may be nil, in which case every
// request fails with ErrDisabled.
func NewPipeline(store grid.Store, generator ImageGenerator, publisher Publisher, sealer GroupSealer, cfg Config, logger *zap.Logger) *Pipeline {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Pipeline{
		store:     store,
		generator: generator,
		publisher: publisher,
		sealer:    sealer,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// State reports whether a generation is running.
func (p *Pipeline) State() State { return p.flight.State() }

// Request starts a generation. It returns as soon as the record is created;
// the external call runs in the background and its outcome is broadcast.
func (p *Pipeline) Request(ctx context.Context) (grid.GenerationRecord, error) {
	if p.generator == nil {
		return grid.GenerationRecord{}, ErrDisabled
	}

	count, err := p.store.CellCount(ctx)
	if err != nil {
		return grid.GenerationRecord{}, fmt.Errorf("count cells: %w", err)
	}
	if count == 0 {
		return grid.GenerationRecord{}, ErrNoWords
	}

	p.mu.Lock()
	cooling := p.cfg.Cooldown > 0 && !p.lastFinished.IsZero() && p.now().Sub(p.lastFinished) < p.cfg.Cooldown
	p.mu.Unlock()
	if cooling {
		return grid.GenerationRecord{}, ErrCooldown
	}

	release, ok := p.flight.TryAcquire()
	if !ok {
		return grid.GenerationRecord{}, ErrAlreadyInProgress
	}

	rec, st, err := p.begin(ctx, count)
	if err != nil {
		release()
		return grid.GenerationRecord{}, err
	}

	p.publisher.Broadcast(protocol.Encode(protocol.GenerationStarted{
		Type:      protocol.TypeGenerationStarted,
		WordCount: count,
	}))

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer release()
		p.run(rec, st.CurrentImage)
	}()
	return rec, nil
}

func (p *Pipeline) begin(ctx context.Context, count int) (grid.GenerationRecord, grid.AuthorityState, error) {
	prompt, err := p.store.PromptWindow(ctx, p.cfg.PromptWords)
	if err != nil {
		return grid.GenerationRecord{}, grid.AuthorityState{}, fmt.Errorf("read prompt: %w", err)
	}
	st, err := p.store.State(ctx)
	if err != nil {
		return grid.GenerationRecord{}, grid.AuthorityState{}, fmt.Errorf("read state: %w", err)
	}
	rec, err := p.store.CreateGeneration(ctx, grid.GenerationRecord{
		PromptSnapshot: prompt,
		WordCount:      count,
		Status:         grid.StatusGenerating,
	})
	if err != nil {
		return grid.GenerationRecord{}, grid.AuthorityState{}, fmt.Errorf("record generation: %w", err)
	}
	return rec, st, nil
}

// run performs the external call. It never returns with the record still in
// the generating state.
func (p *Pipeline) run(rec grid.GenerationRecord, baseImage string) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Timeout)
	defer cancel()

	log := p.logger.With(zap.Int64("generation", rec.ID), zap.Int("words", rec.WordCount))
	mode := "fresh"
	if baseImage != "" {
		mode = "evolve"
	}
	log.Info("generation started", zap.String("mode", mode))

	imagePath, err := p.generate(ctx, Request{Prompt: rec.PromptSnapshot, BaseImagePath: baseImage})

	p.mu.Lock()
	p.lastFinished = p.now()
	p.mu.Unlock()

	// The request context may be gone; bookkeeping uses its own.
	bg := context.Background()
	if err != nil {
		log.Warn("generation failed", zap.Error(err))
		if ferr := p.store.FinishGeneration(bg, rec.ID, grid.StatusFailed, "", err.Error()); ferr != nil {
			log.Error("record generation failure", zap.Error(ferr))
		}
		p.publisher.Broadcast(protocol.Encode(protocol.GenerationFailed{
			Type:  protocol.TypeGenerationFailed,
			Error: "Image generation failed: " + err.Error(),
		}))
		return
	}

	if err := p.store.SetCurrentImage(bg, imagePath); err != nil {
		log.Error("store current image", zap.Error(err))
	}
	if err := p.store.FinishGeneration(bg, rec.ID, grid.StatusComplete, imagePath, ""); err != nil {
		log.Error("record generation success", zap.Error(err))
	}
	if p.sealer != nil {
		p.sealer.SealGroups()
	}
	log.Info("generation complete", zap.String("image", imagePath))
	p.publisher.Broadcast(protocol.Encode(protocol.GenerationComplete{
		Type:      protocol.TypeGenerationComplete,
		ImagePath: imagePath,
		WordCount: rec.WordCount,
	}))
}

// generate calls the external generator, turning a panic into an error.
func (p *Pipeline) generate(ctx context.Context, req Request) (path string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("generator panic: %v", r)
		}
	}()
	path, err = p.generator.Generate(ctx, req)
	if err == nil && path == "" {
		err = errors.New("generator returned no image")
	}
	return path, err
}

// Wait blocks until every running generation has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}
