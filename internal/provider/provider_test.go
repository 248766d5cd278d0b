package provider

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"429", StatusError(429, "slow down"), true},
		{"503", StatusError(503, ""), true},
		{"408", StatusError(408, ""), true},
		{"400", StatusError(400, "bad schema"), false},
		{"401", StatusError(401, ""), false},
		{"network", NetworkError(errors.New("connection reset")), true},
		{"canceled", NetworkError(context.Canceled), false},
		{"wrapped", fmt.Errorf("send: %w", StatusError(502, "")), true},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestTransportError_Message(t *testing.T) {
	assert.Equal(t, "provider status 429: slow down", StatusError(429, "slow down").Error())
	assert.Equal(t, "provider status 500", StatusError(500, "").Error())
	assert.Contains(t, NetworkError(errors.New("reset")).Error(), "reset")
}

func chunks(items ...Chunk) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		for _, c := range items {
			if !yield(c, nil) {
				return
			}
		}
	}
}

func TestCollect(t *testing.T) {
	resp, err := Collect(chunks(
		Chunk{Delta: `{"messages":`},
		Chunk{Delta: `[]}`},
		Chunk{Done: true, Response: &Response{ID: "resp_1", Status: "completed"}},
	))
	require.NoError(t, err)
	assert.Equal(t, "resp_1", resp.ID)
	assert.Equal(t, `{"messages":[]}`, resp.OutputText)
	assert.False(t, resp.Incomplete)
}

func TestCollect_EndsWithoutDone(t *testing.T) {
	resp, err := Collect(chunks(Chunk{Delta: `{"messages":`}))
	require.NoError(t, err)
	assert.True(t, resp.Incomplete)
	assert.Equal(t, `{"messages":`, resp.OutputText)
}

func TestCollect_Error(t *testing.T) {
	boom := errors.New("stream reset")
	seq := func(yield func(Chunk, error) bool) {
		if !yield(Chunk{Delta: "x"}, nil) {
			return
		}
		yield(Chunk{}, boom)
	}
	_, err := Collect(seq)
	assert.ErrorIs(t, err, boom)
}
