package eventbus_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zhouzirui/supportdesk/backend/internal/eventbus"
)

func TestPublishIsolatesPanickingHandler(t *testing.T) {
	bus := eventbus.New[int]("test", nil)

	var got []int
	bus.Subscribe(func(int) { panic("boom") })
	bus.Subscribe(func(v int) { got = append(got, v) })

	assert.NotPanics(t, func() { bus.Publish(7) })
	assert.Equal(t, []int{7}, got)
}

func TestUnsubscribe(t *testing.T) {
	bus := eventbus.New[string]("test", nil)

	calls := 0
	unsubscribe := bus.Subscribe(func(string) { calls++ })
	bus.Publish("a")
	unsubscribe()
	unsubscribe()
	bus.Publish("b")

	assert.Equal(t, 1, calls)
	assert.Zero(t, bus.Len())
}
