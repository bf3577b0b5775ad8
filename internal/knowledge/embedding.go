// Package knowledge decides which world-book entries the model gets to see:
// it wraps the embedding provider behind a lazily-initialized service and
// evaluates entry activation against the recent conversation.
package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// ErrInitFailed is returned by Embed once initialization has failed. Embed
// never retries on its own; an explicit Init may.
var ErrInitFailed = errors.New("embedding service initialization failed")

// Provider turns text into a vector. Implementations may be slow; every
// call takes a context.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelID() string
}

// ProviderFactory builds the provider on first use. Construction is the
// expensive step (client setup, readiness probe), so it is deferred until
// something actually needs an embedding.
type ProviderFactory func(ctx context.Context) (Provider, error)

// state is the embedding service lifecycle. One tagged value instead of a
// bag of booleans.
type state int

const (
	stateUninitialized state = iota
	stateLoading
	stateReady
	stateFailed
)

// EmbeddingService is the process-wide embedding singleton. Init is
// idempotent and safe to call concurrently: callers arriving during loading
// wait for and share the one in-flight outcome.
type EmbeddingService struct {
	factory ProviderFactory
	logger  *slog.Logger

	mu       sync.Mutex
	st       state
	provider Provider
	initErr  error
	// done is closed when an in-flight Init settles.
	done chan struct{}
}

// NewEmbeddingService returns an uninitialized service.
func NewEmbeddingService(factory ProviderFactory, logger *slog.Logger) *EmbeddingService {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmbeddingService{factory: factory, logger: logger}
}

// Init brings the service to ready. From failed it retries; from ready it
// is a no-op; during loading it waits for the in-flight attempt.
func (s *EmbeddingService) Init(ctx context.Context) error {
	s.mu.Lock()
	switch s.st {
	case stateReady:
		s.mu.Unlock()
		return nil
	case stateLoading:
		done := s.done
		s.mu.Unlock()
		select {
		case <-done:
			return s.initState()
		case <-ctx.Done():
			// Abandoning the wait leaves the in-flight attempt to
			// settle the state on its own.
			return ctx.Err()
		}
	default:
		s.st = stateLoading
		s.initErr = nil
		s.done = make(chan struct{})
		s.mu.Unlock()
	}

	provider, err := s.factory(ctx)

	s.mu.Lock()
	if err != nil {
		s.st = stateFailed
		s.initErr = err
		s.logger.Warn("embedding provider init failed", "error", err)
	} else {
		s.st = stateReady
		s.provider = provider
		s.logger.Info("embedding provider ready", "model", provider.ModelID())
	}
	close(s.done)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInitFailed, err)
	}
	return nil
}

func (s *EmbeddingService) initState() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st == stateReady {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrInitFailed, s.initErr)
}

// Embed converts text to a unit-normalized vector, initializing lazily.
// Once the service is failed, Embed fails fast without retrying.
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	st := s.st
	provider := s.provider
	s.mu.Unlock()

	switch st {
	case stateFailed:
		return nil, s.initState()
	case stateReady:
	default:
		if err := s.Init(ctx); err != nil {
			return nil, err
		}
		s.mu.Lock()
		provider = s.provider
		s.mu.Unlock()
	}

	vec, err := provider.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed text: %w", err)
	}
	normalizeVector(vec)
	return vec, nil
}

// EmbedEntry returns the embedding for a world-book entry, reusing the
// stored vector when the content hash is unchanged. The returned bool
// reports whether a recomputation happened.
func (s *EmbeddingService) EmbedEntry(ctx context.Context, name, content, storedHash string, storedVec []float32) ([]float32, string, bool, error) {
	hash := EntryHash(name, content)
	if hash == storedHash && len(storedVec) > 0 {
		return storedVec, hash, false, nil
	}
	vec, err := s.Embed(ctx, name+"\n"+content)
	if err != nil {
		return nil, "", false, err
	}
	return vec, hash, true, nil
}

// EntryHash identifies the text an entry embedding was computed from.
func EntryHash(name, content string) string {
	sum := sha256.Sum256([]byte(name + "\x00" + content))
	return hex.EncodeToString(sum[:])
}

// Cosine computes similarity between two unit-normalized vectors, which
// reduces to a dot product. Mismatched or empty vectors score zero.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func normalizeVector(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
