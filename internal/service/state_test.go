package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	forward := []State{StateCreated, StatePrepared, StateSent, StateDecoded, StateRecorded, StateDone}
	for i := 0; i < len(forward)-1; i++ {
		assert.True(t, CanTransition(forward[i], forward[i+1]), "%s -> %s", forward[i], forward[i+1])
		assert.True(t, CanTransition(forward[i], StateFailed), "%s -> failed", forward[i])
	}

	assert.False(t, CanTransition(StateCreated, StateSent), "states cannot be skipped")
	assert.False(t, CanTransition(StateDecoded, StatePrepared), "no backward edges")
	assert.False(t, CanTransition(StateDone, StateFailed))
	assert.False(t, CanTransition(StateFailed, StateCreated))
}

func TestMachine(t *testing.T) {
	m := newMachine()
	require.NoError(t, m.to(StatePrepared))
	require.Error(t, m.to(StateDecoded))
	m.fail()
	m.fail()
	assert.Equal(t, []State{StateCreated, StatePrepared, StateFailed}, m.history)
}

func TestMachine_AdvanceRejectsIllegalEdge(t *testing.T) {
	m := newMachine()
	m.advance(StatePrepared)
	assert.Panics(t, func() { m.advance(StateDecoded) })
	assert.Equal(t, StatePrepared, m.state)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "recorded", StateRecorded.String())
	assert.Equal(t, "state(42)", State(42).String())
}

func TestUUIDv7Generator_Unique(t *testing.T) {
	gen := UUIDv7Generator{}
	const n = 500

	var mu sync.Mutex
	seen := make(map[string]bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := gen.Generate()
			mu.Lock()
			defer mu.Unlock()
			seen[id] = true
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n)
	for id := range seen {
		assert.Len(t, id, 36)
		break
	}
}

func TestFixedGenerator(t *testing.T) {
	gen := NewFixedGenerator("a", "b")
	assert.Equal(t, "a", gen.Generate())
	assert.Equal(t, "b", gen.Generate())
	assert.Panics(t, func() { gen.Generate() })
}
