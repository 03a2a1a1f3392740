package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventEnvelope(t *testing.T) {
	e := New(TypePaymentSettled, "agent-1", map[string]interface{}{"amount": "40"})

	assert.Equal(t, "1.0", e.SpecVersion)
	assert.Equal(t, Source, e.Source)
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Time.IsZero())

	payload, err := e.JSON()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, TypePaymentSettled, decoded["type"])
	assert.Equal(t, "agent-1", decoded["subject"])
}

func TestSubscribeByType(t *testing.T) {
	bus := NewBus()
	settled := bus.Subscribe(TypePaymentSettled)
	defer bus.Unsubscribe(settled)

	bus.Emit(TypePaymentRejected, "agent-1", nil)
	bus.Emit(TypePaymentSettled, "agent-1", map[string]interface{}{"amount": "1"})

	select {
	case e := <-settled:
		assert.Equal(t, TypePaymentSettled, e.Type)
	default:
		t.Fatal("expected a settled event")
	}
	select {
	case e := <-settled:
		t.Fatalf("unexpected extra event %s", e.Type)
	default:
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := NewBus()
	all := bus.Subscribe()
	defer bus.Unsubscribe(all)

	bus.Emit(TypeGlobalWhitelistChanged, "payee-1", nil)
	bus.Emit(TypeAllowanceChanged, "agent-1", nil)

	assert.Len(t, all, 2)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TypePaymentSettled)
	require.Equal(t, 1, bus.SubscriberCount())

	bus.Unsubscribe(ch)
	assert.Equal(t, 0, bus.SubscriberCount())

	_, open := <-ch
	assert.False(t, open)
}

func TestPublishDropsWhenSubscriberLags(t *testing.T) {
	bus := NewBus()
	bus.bufferSize = 1
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	// Second publish overflows the buffer and must not block.
	bus.Emit(TypePaymentSettled, "a", nil)
	bus.Emit(TypePaymentSettled, "b", nil)

	assert.Len(t, ch, 1)
}

func TestNopEmitter(t *testing.T) {
	assert.NotPanics(t, func() {
		NopEmitter{}.Emit(TypePaymentSettled, "agent-1", nil)
	})
}
