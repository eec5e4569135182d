package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseOperation(t *testing.T) {
	op, err := ParseOperation("update")
	assert.NoError(t, err)
	assert.Equal(t, OpUpdate, op)

	_, err = ParseOperation("upsert")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestQueuedMutation_Validate(t *testing.T) {
	valid := QueuedMutation{EntityType: "task", EntityID: "t-1", Operation: OpCreate}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name string
		m    QueuedMutation
	}{
		{"missing type", QueuedMutation{EntityID: "t-1", Operation: OpCreate}},
		{"missing id", QueuedMutation{EntityType: "task", Operation: OpCreate}},
		{"bad operation", QueuedMutation{EntityType: "task", EntityID: "t-1", Operation: "merge"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.m.Validate(), ErrInvalidInput)
		})
	}
}

func TestQueuedMutation_EntityKey(t *testing.T) {
	m := QueuedMutation{EntityType: "booking", EntityID: "b-9"}
	assert.Equal(t, "booking/b-9", m.EntityKey())
}
