package protobuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/AshkanYarmoradi/ordermesh"
)

// =============================================================================
// Test Types
// =============================================================================

type orderPlaced struct{}

func (orderPlaced) EventType() string { return "CartOrderPlacedV1" }

type itemAdded struct {
	TenantID string `json:"tenant_id"`
	ItemID   string `json:"item_id"`
	Quantity uint32 `json:"quantity"`
}

func (itemAdded) EventType() string { return "CartItemAddedV1" }

func newTestSerializer() *Serializer {
	return NewSerializer(ordermesh.NewEventRegistry(orderPlaced{}, itemAdded{}))
}

func TestSerializer(t *testing.T) {
	s := newTestSerializer()

	t.Run("roundtrip", func(t *testing.T) {
		in := itemAdded{TenantID: "t1", ItemID: "i1", Quantity: 3}

		data, err := s.Serialize(in)
		require.NoError(t, err)
		out, err := s.Deserialize(data, "CartItemAddedV1")

		require.NoError(t, err)
		assert.Equal(t, in, out)
	})

	t.Run("wire format is a protobuf Struct", func(t *testing.T) {
		data, err := s.Serialize(itemAdded{TenantID: "t1", ItemID: "i1", Quantity: 3})
		require.NoError(t, err)

		var msg structpb.Struct
		require.NoError(t, proto.Unmarshal(data, &msg))
		assert.Equal(t, "t1", msg.Fields["tenant_id"].GetStringValue())
		assert.Equal(t, float64(3), msg.Fields["quantity"].GetNumberValue())
	})

	t.Run("empty payload encodes to empty bytes", func(t *testing.T) {
		data, err := s.Serialize(orderPlaced{})
		require.NoError(t, err)
		assert.Empty(t, data)

		out, err := s.Deserialize(data, "CartOrderPlacedV1")
		require.NoError(t, err)
		assert.Equal(t, orderPlaced{}, out)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := s.Serialize(nil)
		assert.ErrorIs(t, err, ErrNilPayload)

		_, err = s.Deserialize([]byte{}, "Unknown")
		assert.ErrorIs(t, err, ordermesh.ErrEventTypeNotRegistered)

		_, err = s.Deserialize([]byte{0xff, 0xff}, "CartItemAddedV1")
		assert.ErrorIs(t, err, ordermesh.ErrSerializationFailed)
	})
}

func TestStructHelpers(t *testing.T) {
	t.Run("roundtrip", func(t *testing.T) {
		in := itemAdded{TenantID: "t1", ItemID: "i1", Quantity: 2}

		msg, err := ToStruct(in)
		require.NoError(t, err)

		var out itemAdded
		require.NoError(t, FromStruct(msg, &out))
		assert.Equal(t, in, out)
	})

	t.Run("non-object values are rejected", func(t *testing.T) {
		_, err := ToStruct([]string{"a"})
		assert.ErrorIs(t, err, ErrNotObject)

		_, err = ToStruct(nil)
		assert.ErrorIs(t, err, ErrNotObject)
	})
}
