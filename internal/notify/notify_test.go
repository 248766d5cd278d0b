package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackfruitco/simworks-sub000/internal/identity"
)

var testEvent = Event{
	Kind:          KindResponseReady,
	Service:       identity.Must(identity.DomainService, "chat", "patient", "initial"),
	Namespace:     "chat",
	CorrelationID: "c-1",
	DomainRef:     "chat_messages:7",
	OccurredAt:    time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC),
}

func TestEncode(t *testing.T) {
	b, err := Encode(testEvent)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "response.ready", got["kind"])
	assert.Equal(t, "services.chat.patient.initial", got["service"])
	assert.Equal(t, "chat_messages:7", got["domain_ref"])
	assert.NotContains(t, got, "payload")
	assert.NotContains(t, got, "error")
}

func TestMulti_AttemptsAllAndJoinsErrors(t *testing.T) {
	var rec Recorder
	errA := errors.New("redis down")
	errB := errors.New("kafka down")

	m := Multi{
		Func(func(context.Context, Event) error { return errA }),
		&rec,
		nil,
		Func(func(context.Context, Event) error { return errB }),
	}
	err := m.Notify(context.Background(), testEvent)

	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Equal(t, []Kind{KindResponseReady}, rec.Kinds())
}

func TestMulti_Empty(t *testing.T) {
	assert.NoError(t, Multi{}.Notify(context.Background(), testEvent))
	assert.NoError(t, Nop.Notify(context.Background(), testEvent))
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	l := Log{Logger: slog.New(slog.NewTextHandler(&buf, nil)), Level: slog.LevelInfo}

	require.NoError(t, l.Notify(context.Background(), testEvent))

	out := buf.String()
	assert.Contains(t, out, "event=response.ready")
	assert.Contains(t, out, "correlation_id=c-1")
	assert.Contains(t, out, "domain_ref=chat_messages:7")
}

func TestRecorder_ResetAndCopy(t *testing.T) {
	var rec Recorder
	require.NoError(t, rec.Notify(context.Background(), testEvent))

	events := rec.Events()
	events[0].CorrelationID = "mutated"
	assert.Equal(t, "c-1", rec.Events()[0].CorrelationID)

	rec.Reset()
	assert.Empty(t, rec.Events())
}
