package interrupt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConsumeIsOneShot(t *testing.T) {
	s := New()
	assert.False(t, s.Consume())

	s.Trigger()
	assert.True(t, s.Consume())
	assert.False(t, s.Consume(), "a single trigger cancels at most once")
}

func TestRepeatedTriggersCoalesce(t *testing.T) {
	s := New()
	s.Trigger()
	s.Trigger()
	s.Trigger()
	assert.True(t, s.Consume())
	assert.False(t, s.Consume())
}
