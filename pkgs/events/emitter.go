package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// DefaultBufferSize is the default size of the event buffer
	DefaultBufferSize = 1000

	// DefaultMaxWorkers is the default number of concurrent event processors
	DefaultMaxWorkers = 10

	// DefaultEventTimeout is the maximum time to wait for event processing
	DefaultEventTimeout = 5 * time.Second
)

// EmitterConfig contains configuration for the event emitter
type EmitterConfig struct {
	BufferSize     int           // Size of the event buffer channel
	MaxWorkers     int           // Maximum concurrent event processors
	EventTimeout   time.Duration // Timeout for event processing
	DropOnOverflow bool          // Drop events if buffer is full
	InstanceID     string        // Identifies this API replica in events
}

// DefaultConfig returns a default configuration
func DefaultConfig() *EmitterConfig {
	return &EmitterConfig{
		BufferSize:     DefaultBufferSize,
		MaxWorkers:     DefaultMaxWorkers,
		EventTimeout:   DefaultEventTimeout,
		DropOnOverflow: true,
	}
}

// Emitter is a thread-safe event emitter with async processing
type Emitter struct {
	config *EmitterConfig

	eventChan chan *Event

	subscribers map[string]*Subscriber
	subMutex    sync.RWMutex

	workerPool chan struct{}
	wg         sync.WaitGroup

	eventsEmitted    uint64
	eventsDropped    uint64
	eventsProcessed  uint64
	processingErrors uint64

	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
}

// NewEmitter creates a new event emitter with the given configuration
func NewEmitter(config *EmitterConfig) *Emitter {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBufferSize
	}
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = DefaultMaxWorkers
	}
	if config.EventTimeout <= 0 {
		config.EventTimeout = DefaultEventTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	emitter := &Emitter{
		config:      config,
		eventChan:   make(chan *Event, config.BufferSize),
		subscribers: make(map[string]*Subscriber),
		workerPool:  make(chan struct{}, config.MaxWorkers),
		ctx:         ctx,
		cancel:      cancel,
	}

	for i := 0; i < config.MaxWorkers; i++ {
		emitter.workerPool <- struct{}{}
	}

	return emitter
}

// Start begins processing events
func (e *Emitter) Start() error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("emitter already running")
	}

	log.Info("Starting event emitter")

	e.wg.Add(1)
	go e.processEvents()

	return nil
}

// Stop gracefully shuts down the emitter. The event channel is left open
// so a racing Emit never sends on a closed channel.
func (e *Emitter) Stop() error {
	if !e.running.CompareAndSwap(true, false) {
		return fmt.Errorf("emitter not running")
	}

	log.Info("Stopping event emitter")
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("Event emitter stopped gracefully")
	case <-time.After(10 * time.Second):
		log.Warn("Event emitter shutdown timeout, some events may be lost")
	}

	return nil
}

// Emit sends an event asynchronously
func (e *Emitter) Emit(event *Event) error {
	if !e.running.Load() {
		return fmt.Errorf("emitter not running")
	}

	if event.InstanceID == "" {
		event.InstanceID = e.config.InstanceID
	}

	atomic.AddUint64(&e.eventsEmitted, 1)

	select {
	case e.eventChan <- event:
		return nil
	default:
		if e.config.DropOnOverflow {
			atomic.AddUint64(&e.eventsDropped, 1)
			log.WithFields(log.Fields{
				"event_type": event.Type,
				"event_id":   event.ID,
				"project_id": event.ProjectID,
			}).Warn("Event dropped due to buffer overflow")
			return fmt.Errorf("event buffer full, event dropped")
		}

		select {
		case e.eventChan <- event:
			return nil
		case <-e.ctx.Done():
			return fmt.Errorf("emitter shutting down")
		}
	}
}

// Subscribe adds a new subscriber for events
func (e *Emitter) Subscribe(subscriber *Subscriber) error {
	if subscriber == nil || subscriber.ID == "" || subscriber.Handler == nil {
		return fmt.Errorf("invalid subscriber")
	}

	e.subMutex.Lock()
	defer e.subMutex.Unlock()

	if _, exists := e.subscribers[subscriber.ID]; exists {
		return fmt.Errorf("subscriber %s already exists", subscriber.ID)
	}

	e.subscribers[subscriber.ID] = subscriber
	log.WithField("subscriber_id", subscriber.ID).Debug("Subscriber added")

	return nil
}

// processEvents is the main event processing loop
func (e *Emitter) processEvents() {
	defer e.wg.Done()

	for {
		select {
		case event := <-e.eventChan:
			select {
			case token := <-e.workerPool:
				e.wg.Add(1)
				go func() {
					defer func() {
						e.workerPool <- token
						e.wg.Done()
					}()
					e.handleEvent(event)
				}()
			case <-e.ctx.Done():
				e.handleEvent(event)
				e.drainEvents()
				return
			}

		case <-e.ctx.Done():
			e.drainEvents()
			return
		}
	}
}

// handleEvent processes a single event
func (e *Emitter) handleEvent(event *Event) {
	atomic.AddUint64(&e.eventsProcessed, 1)

	e.subMutex.RLock()
	subscribers := make([]*Subscriber, 0, len(e.subscribers))
	for _, sub := range e.subscribers {
		if !sub.wants(event) {
			continue
		}
		subscribers = append(subscribers, sub)
	}
	e.subMutex.RUnlock()

	for _, sub := range subscribers {
		done := make(chan struct{})
		go func(s *Subscriber) {
			defer close(done)
			defer func() {
				if r := recover(); r != nil {
					atomic.AddUint64(&e.processingErrors, 1)
					log.WithFields(log.Fields{
						"subscriber_id": s.ID,
						"event_type":    event.Type,
						"error":         r,
					}).Error("Panic in event handler")
				}
			}()

			s.Handler(event)
		}(sub)

		select {
		case <-done:
		case <-time.After(e.config.EventTimeout):
			atomic.AddUint64(&e.processingErrors, 1)
			log.WithFields(log.Fields{
				"subscriber_id": sub.ID,
				"event_type":    event.Type,
				"event_id":      event.ID,
			}).Warn("Event handler timeout")
		}
	}
}

func (s *Subscriber) wants(event *Event) bool {
	if len(s.Types) > 0 {
		interested := false
		for _, eventType := range s.Types {
			if eventType == event.Type {
				interested = true
				break
			}
		}
		if !interested {
			return false
		}
	}
	return s.Filter == nil || s.Filter(event)
}

// drainEvents processes remaining events during shutdown
func (e *Emitter) drainEvents() {
	timeout := time.After(5 * time.Second)

	for {
		select {
		case event := <-e.eventChan:
			e.handleEvent(event)
		case <-timeout:
			if remaining := len(e.eventChan); remaining > 0 {
				log.Warnf("Shutdown timeout, dropping %d events", remaining)
			}
			return
		default:
			return
		}
	}
}

// GetMetrics returns current emitter metrics
func (e *Emitter) GetMetrics() map[string]interface{} {
	e.subMutex.RLock()
	subscribers := len(e.subscribers)
	e.subMutex.RUnlock()

	return map[string]interface{}{
		"events_emitted":    atomic.LoadUint64(&e.eventsEmitted),
		"events_dropped":    atomic.LoadUint64(&e.eventsDropped),
		"events_processed":  atomic.LoadUint64(&e.eventsProcessed),
		"processing_errors": atomic.LoadUint64(&e.processingErrors),
		"buffer_usage":      len(e.eventChan),
		"buffer_capacity":   cap(e.eventChan),
		"subscribers":       subscribers,
		"running":           e.running.Load(),
	}
}

// Helper methods for common event types

// EmitSubmission emits a submission lifecycle event
func (e *Emitter) EmitSubmission(eventType EventType, payload *SubmissionEventPayload, reason string) error {
	severity := SeverityInfo
	switch eventType {
	case EventSubmissionFlagged:
		severity = SeverityWarning
	case EventScoreFailed:
		severity = SeverityError
	}

	event, err := NewEvent(eventType, severity, "orchestrator", payload)
	if err != nil {
		return err
	}
	event.ProjectID = payload.ProjectID
	event.Error = reason

	return e.Emit(event)
}

// EmitMint emits a mint event; operator is empty for pipeline mints
func (e *Emitter) EmitMint(eventType EventType, payload *MintEventPayload, operator string, mintErr error) error {
	severity := SeverityInfo
	if mintErr != nil {
		severity = SeverityError
	}

	event, err := NewEvent(eventType, severity, "ledger", payload)
	if err != nil {
		return err
	}
	event.ProjectID = payload.ProjectID
	event.Operator = operator
	if mintErr != nil {
		event.Error = mintErr.Error()
	}

	return e.Emit(event)
}
