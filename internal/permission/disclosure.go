package permission

import (
	"context"
	"fmt"
	"sync"

	"github.com/askwhyharsh/geotrack/internal/storage"
	"github.com/askwhyharsh/geotrack/pkg/logger"
)

// DisclosureStore remembers whether the background-location disclosure was
// already shown to a subject.
type DisclosureStore interface {
	Shown(ctx context.Context, subject string) (bool, error)
	MarkShown(ctx context.Context, subject string) error
}

type DisclosureResult struct {
	ForegroundGranted bool
	BackgroundGranted bool
}

// DisclosureFlow asks for foreground location, shows the prominent
// disclosure once and only then asks for background location.
type DisclosureFlow struct {
	prompter Prompter
	store    DisclosureStore
	logger   logger.Logger
}

func NewDisclosureFlow(prompter Prompter, store DisclosureStore, log logger.Logger) *DisclosureFlow {
	return &DisclosureFlow{prompter: prompter, store: store, logger: log}
}

// Run executes the flow. show displays the disclosure and reports whether the
// user accepted it.
func (f *DisclosureFlow) Run(ctx context.Context, subject string, show func(ctx context.Context) bool) DisclosureResult {
	fg, err := f.prompter.Request(ctx, FineLocation, CoarseLocation)
	if err != nil {
		f.logger.Warn("foreground permission request failed", "error", err)
		return DisclosureResult{}
	}
	if !fg[FineLocation] && !fg[CoarseLocation] {
		return DisclosureResult{}
	}

	shown, err := f.store.Shown(ctx, subject)
	if err != nil {
		f.logger.Debug("disclosure lookup failed", "subject", subject, "error", err)
	}

	if !shown {
		if !show(ctx) {
			return DisclosureResult{ForegroundGranted: true}
		}
		if err := f.store.MarkShown(ctx, subject); err != nil {
			f.logger.Warn("failed to mark disclosure shown", "subject", subject, "error", err)
		}
	}

	bg, err := f.prompter.Request(ctx, BackgroundLocation)
	if err != nil {
		f.logger.Warn("background permission request failed", "error", err)
		return DisclosureResult{ForegroundGranted: true}
	}

	return DisclosureResult{ForegroundGranted: true, BackgroundGranted: bg[BackgroundLocation]}
}

type MemoryDisclosureStore struct {
	mu    sync.Mutex
	shown map[string]bool
}

func NewMemoryDisclosureStore() *MemoryDisclosureStore {
	return &MemoryDisclosureStore{shown: make(map[string]bool)}
}

func (s *MemoryDisclosureStore) Shown(ctx context.Context, subject string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shown[subject], nil
}

func (s *MemoryDisclosureStore) MarkShown(ctx context.Context, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shown[subject] = true
	return nil
}

type RedisDisclosureStore struct {
	redis storage.RedisClient
}

func NewRedisDisclosureStore(redis storage.RedisClient) *RedisDisclosureStore {
	return &RedisDisclosureStore{redis: redis}
}

func (s *RedisDisclosureStore) Shown(ctx context.Context, subject string) (bool, error) {
	n, err := s.redis.Exists(ctx, disclosureKey(subject))
	if err != nil {
		return false, fmt.Errorf("failed to check disclosure: %w", err)
	}
	return n > 0, nil
}

func (s *RedisDisclosureStore) MarkShown(ctx context.Context, subject string) error {
	// no expiry, the disclosure is shown once per subject
	if err := s.redis.Set(ctx, disclosureKey(subject), "true", 0); err != nil {
		return fmt.Errorf("failed to mark disclosure: %w", err)
	}
	return nil
}

func disclosureKey(subject string) string {
	return fmt.Sprintf("permission:disclosure:%s", subject)
}
