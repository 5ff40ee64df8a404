package changefeed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/metrica/pkg/schema"
)

func TestMemoryFeedPublishSubscribe(t *testing.T) {
	f := NewMemoryFeed()
	ctx := context.Background()

	ch, cancel, err := f.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer cancel()

	event := schema.ChangeEvent{
		Table:             "Sensors",
		EntityID:          "dev-1",
		Operation:         schema.ChangeUpdate,
		ChangedProperties: []string{"Temperature"},
	}
	require.NoError(t, f.Publish(ctx, event))

	select {
	case got := <-ch:
		assert.Equal(t, event, got)
	case <-time.After(time.Second):
		t.Fatal("expected event, got none")
	}
}

func TestMemoryFeedTableFilter(t *testing.T) {
	f := NewMemoryFeed()
	ctx := context.Background()

	ch, cancel, err := f.Subscribe(ctx, Filter{Tables: []string{"Sensors"}})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, f.Publish(ctx, schema.ChangeEvent{Table: "Orders", Operation: schema.ChangeInsert}))
	require.NoError(t, f.Publish(ctx, schema.ChangeEvent{Table: "Sensors", Operation: schema.ChangeInsert}))

	got := <-ch
	assert.Equal(t, "Sensors", got.Table)
	assert.Empty(t, ch)
}

func TestMemoryFeedCancelStopsDelivery(t *testing.T) {
	f := NewMemoryFeed()
	ctx := context.Background()

	ch, cancel, err := f.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	cancel()

	require.NoError(t, f.Publish(ctx, schema.ChangeEvent{Table: "Sensors", Operation: schema.ChangeInsert}))
	assert.Empty(t, ch)
}

func TestMemoryFeedDropsWhenSubscriberIsFull(t *testing.T) {
	f := NewMemoryFeed()
	ctx := context.Background()

	ch, cancel, err := f.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer cancel()

	// Publish past the buffer; extra events are dropped, never blocking.
	for i := 0; i < defaultChannelBuffer+10; i++ {
		require.NoError(t, f.Publish(ctx, schema.ChangeEvent{Table: "Sensors", Operation: schema.ChangeInsert}))
	}
	assert.Len(t, ch, defaultChannelBuffer)
}
