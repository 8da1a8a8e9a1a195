package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"invasion-viewer/models"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
)

type fakeSender struct {
	mu    sync.Mutex
	types []string
	fail  bool
}

func (f *fakeSender) PublishEvent(ctx context.Context, eventType string, message interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broker down")
	}
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("publish without deadline")
	}
	f.types = append(f.types, eventType)
	return nil
}

func TestEventPublisherFiltersEvents(t *testing.T) {
	fake := &fakeSender{}
	pub := NewEventPublisher(fake)
	ctx, cancel := context.WithCancel(context.Background())
	pub.Start(ctx)

	pub.Notify(models.Event{Type: models.EventDraftUpdated, SessionID: "s1"})
	pub.Notify(models.Event{Type: models.EventRegionCommitted, SessionID: "s1", RegionID: "r1"})
	pub.Notify(models.Event{Type: models.EventSpeciesUpdated, SessionID: "s1", RegionID: "r1"})
	pub.Notify(models.Event{Type: models.EventSimulationDone, SessionID: "s1", RegionID: "r1"})

	cancel()
	pub.Wait()

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, []string{
		string(models.EventRegionCommitted),
		string(models.EventSimulationDone),
	}, fake.types)
}

func TestEventPublisherSurvivesBrokerErrors(t *testing.T) {
	fake := &fakeSender{fail: true}
	pub := NewEventPublisher(fake)
	ctx, cancel := context.WithCancel(context.Background())
	pub.Start(ctx)

	pub.Notify(models.Event{Type: models.EventLayersWarning, SessionID: "s1", RegionID: "r1"})
	cancel()
	pub.Wait()

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Empty(t, fake.types)
}

func TestEventKey(t *testing.T) {
	tests := []struct {
		name      string
		base      string
		eventType string
		expected  string
	}{
		{name: "with base", base: "viewer.events", eventType: "region.committed", expected: "viewer.events.region.committed"},
		{name: "trailing dot", base: "viewer.events.", eventType: "simulation.completed", expected: "viewer.events.simulation.completed"},
		{name: "no base", base: "", eventType: "layers.warning", expected: "layers.warning"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, eventKey(tt.base, tt.eventType))
		})
	}
}

func TestConnectionLost(t *testing.T) {
	assert.True(t, connectionLost(amqp.ErrClosed))
	assert.True(t, connectionLost(fmt.Errorf("publish: %w", amqp.ErrClosed)))
	assert.True(t, connectionLost(&amqp.Error{Code: amqp.ChannelError, Reason: "channel closed"}))
	assert.False(t, connectionLost(&amqp.Error{Code: amqp.AccessRefused, Reason: "no access"}))
	assert.False(t, connectionLost(errors.New("exchange not found")))
}
