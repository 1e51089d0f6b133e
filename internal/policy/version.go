package policy

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"adaptive-trader/internal/pattern"
)

// Version is one immutable snapshot of recognizer + policy parameters.
// Never mutate a published Version: decisions read it lock-free.
type Version struct {
	Number    uint64         `json:"number"`
	CreatedAt time.Time      `json:"created_at"`
	Accuracy  float64        `json:"accuracy"`
	Pattern   pattern.Params `json:"pattern"`
	Policy    Params         `json:"policy"`
}

// Book holds the active policy version behind a single atomic pointer.
// Swaps are one pointer update visible to all subsequent decisions;
// in-flight decisions keep the version they started with. The previous
// version is retained for rollback only.
type Book struct {
	active   atomic.Pointer[Version]
	mu       sync.Mutex
	previous *Version
}

// NewBook seeds the book with an initial version.
func NewBook(initial Version) *Book {
	b := &Book{}
	b.active.Store(&initial)
	return b
}

// Active returns the currently serving version.
func (b *Book) Active() *Version {
	return b.active.Load()
}

// Publish atomically promotes a candidate. Version numbers must strictly
// increase; anything else is a bug in the retrain path.
func (b *Book) Publish(candidate Version) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := b.active.Load()
	if candidate.Number != current.Number+1 {
		return fmt.Errorf("policy version %d does not follow active %d", candidate.Number, current.Number)
	}
	b.previous = current
	b.active.Store(&candidate)
	return nil
}

// Rollback restores the previous version, if one is retained. The restored
// snapshot is republished under a fresh number so versions keep increasing.
func (b *Book) Rollback() (*Version, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.previous == nil {
		return nil, fmt.Errorf("no previous policy version retained")
	}
	current := b.active.Load()
	restored := *b.previous
	restored.Number = current.Number + 1
	restored.CreatedAt = time.Now()
	b.previous = current
	b.active.Store(&restored)
	return &restored, nil
}
