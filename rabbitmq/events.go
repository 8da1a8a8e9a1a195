package rabbitmq

import (
	"context"
	"sync"
	"time"

	"invasion-viewer/metrics"
	"invasion-viewer/models"

	"github.com/apex/log"
)

// publishedEvents are the session events other services care about.
var publishedEvents = map[models.EventType]bool{
	models.EventRegionCommitted: true,
	models.EventLayersWarning:   true,
	models.EventSimulationDone:  true,
}

const eventPublishTimeout = 10 * time.Second

type eventSender interface {
	PublishEvent(ctx context.Context, eventType string, message interface{}) error
}

// EventPublisher forwards selected session events to RabbitMQ from a single
// background worker, so sessions never wait on the broker.
type EventPublisher struct {
	sender eventSender
	queue  chan models.Event
	wg     sync.WaitGroup
}

func NewEventPublisher(sender eventSender) *EventPublisher {
	return &EventPublisher{
		sender: sender,
		queue:  make(chan models.Event, 256),
	}
}

// Start runs the worker until ctx is done, then drains what is queued.
func (e *EventPublisher) Start(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-ctx.Done():
				for {
					select {
					case event := <-e.queue:
						e.publish(event)
					default:
						return
					}
				}
			case event := <-e.queue:
				e.publish(event)
			}
		}
	}()
}

// Wait blocks until the worker has stopped.
func (e *EventPublisher) Wait() {
	e.wg.Wait()
}

func (e *EventPublisher) Notify(event models.Event) {
	if !publishedEvents[event.Type] {
		return
	}
	select {
	case e.queue <- event:
	default:
		metrics.EventPublishErrors.Inc()
		log.Warnf("Event publish queue full, dropping %s for session %s", event.Type, event.SessionID)
	}
}

func (e *EventPublisher) publish(event models.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), eventPublishTimeout)
	defer cancel()
	if err := e.sender.PublishEvent(ctx, string(event.Type), event); err != nil {
		metrics.EventPublishErrors.Inc()
		log.Errorf("Failed to publish %s event for region %s: %v", event.Type, event.RegionID, err)
		return
	}
	log.Debugf("Published %s event for region %s", event.Type, event.RegionID)
}
