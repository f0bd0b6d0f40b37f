package leave_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cristian75IT/kronos-hrms-sub005/leave"
)

// =============================================================================
// EVENT BUS
// =============================================================================

func TestBus_PublishDoesNotBlockOnStuckSubscriber(t *testing.T) {
	// GIVEN: one subscriber with a full one-event buffer that never drains,
	//        and one that keeps up
	// WHEN: more events are published than the stuck buffer holds
	// THEN: Publish returns, the draining subscriber gets every event, and
	//       the stuck one can still be cancelled

	bus := leave.NewBus()
	stuck, cancelStuck := bus.Subscribe(1)
	live, cancelLive := bus.Subscribe(8)
	defer cancelLive()

	for i := 0; i < 5; i++ {
		bus.Publish(leave.Event{Type: leave.EventSubmitted, RequestID: "lr-1"})
	}

	assert.Equal(t, 5, len(live), "draining subscriber sees every event")
	assert.Equal(t, 1, len(stuck), "full buffer keeps only what fit")

	cancelStuck()

	bus.Publish(leave.Event{Type: leave.EventApproved, RequestID: "lr-1"})
	assert.Equal(t, 6, len(live))

	got := <-live
	assert.Equal(t, leave.EventSubmitted, got.Type)
}

func TestBus_CancelClosesChannel(t *testing.T) {
	bus := leave.NewBus()
	ch, cancel := bus.Subscribe(1)
	cancel()

	_, open := <-ch
	assert.False(t, open)

	// Publishing after cancel reaches nobody and must not panic.
	bus.Publish(leave.Event{Type: leave.EventRejected, RequestID: "lr-2"})
}
