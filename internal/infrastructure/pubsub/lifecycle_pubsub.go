package pubsub

import (
	"context"
	"fmt"
	"sync"

	"shop-lifecycle-layer/internal/domain"

	"github.com/rs/zerolog"
)

// LifecycleEventChannel represents a subscription channel.
type LifecycleEventChannel struct {
	ID     string
	Filter *LifecycleEventFilter
	Events chan *domain.LifecycleEvent
	Done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// LifecycleEventFilter filters lifecycle events.
type LifecycleEventFilter struct {
	Kinds []string // Filter by event kinds
	Shop  string   // Filter by shop domain
}

// LifecyclePubSub broadcasts shop lifecycle events to in-process
// subscribers.
type LifecyclePubSub struct {
	mu       sync.RWMutex
	channels map[string]*LifecycleEventChannel
	logger   zerolog.Logger
	nextID   int64
	idMu     sync.Mutex
}

// NewLifecyclePubSub creates a new lifecycle pub/sub system.
func NewLifecyclePubSub(logger zerolog.Logger) *LifecyclePubSub {
	return &LifecyclePubSub{
		channels: make(map[string]*LifecycleEventChannel),
		logger:   logger,
	}
}

// Subscribe creates a new subscription channel.
func (ps *LifecyclePubSub) Subscribe(ctx context.Context, filter *LifecycleEventFilter) *LifecycleEventChannel {
	ps.idMu.Lock()
	ps.nextID++
	id := fmt.Sprintf("channel-%d", ps.nextID)
	ps.idMu.Unlock()

	subCtx, cancel := context.WithCancel(ctx)

	channel := &LifecycleEventChannel{
		ID:     id,
		Filter: filter,
		Events: make(chan *domain.LifecycleEvent, 10),
		Done:   make(chan struct{}),
		ctx:    subCtx,
		cancel: cancel,
	}

	ps.mu.Lock()
	ps.channels[id] = channel
	ps.mu.Unlock()

	ps.logger.Info().
		Str("channelId", id).
		Msg("Lifecycle subscription created")

	go func() {
		<-subCtx.Done()
		ps.Unsubscribe(id)
	}()

	return channel
}

// Unsubscribe removes a subscription channel.
func (ps *LifecyclePubSub) Unsubscribe(channelID string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	channel, exists := ps.channels[channelID]
	if !exists {
		return
	}

	close(channel.Events)
	close(channel.Done)
	channel.cancel()
	delete(ps.channels, channelID)

	ps.logger.Info().
		Str("channelId", channelID).
		Msg("Lifecycle subscription removed")
}

// Publish broadcasts a lifecycle event to all matching subscribers without
// blocking; events for full buffers are dropped.
func (ps *LifecyclePubSub) Publish(event *domain.LifecycleEvent) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	for _, channel := range ps.channels {
		if !matchesFilter(event, channel.Filter) {
			continue
		}
		select {
		case channel.Events <- event:
		case <-channel.ctx.Done():
			// Channel is closed, skip
		default:
			ps.logger.Warn().
				Str("channelId", channel.ID).
				Msg("Channel buffer full, dropping event")
		}
	}
}

func matchesFilter(event *domain.LifecycleEvent, filter *LifecycleEventFilter) bool {
	if filter == nil {
		return true
	}

	if len(filter.Kinds) > 0 {
		kindMatch := false
		for _, kind := range filter.Kinds {
			if event.Kind == kind {
				kindMatch = true
				break
			}
		}
		if !kindMatch {
			return false
		}
	}

	if filter.Shop != "" && event.ShopDomain != filter.Shop {
		return false
	}

	return true
}
