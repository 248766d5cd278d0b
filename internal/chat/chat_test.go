package chat

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/jackfruitco/simworks-sub000/internal/codec"
	"github.com/jackfruitco/simworks-sub000/internal/drain"
	"github.com/jackfruitco/simworks-sub000/internal/notify"
	"github.com/jackfruitco/simworks-sub000/internal/outbox"
	"github.com/jackfruitco/simworks-sub000/internal/persist"
	"github.com/jackfruitco/simworks-sub000/internal/provider"
	"github.com/jackfruitco/simworks-sub000/internal/schema"
	"github.com/jackfruitco/simworks-sub000/internal/service"
	"github.com/jackfruitco/simworks-sub000/internal/store"
	"github.com/jackfruitco/simworks-sub000/internal/testutil"
)

type harness struct {
	store     *store.Store
	msgs      *Messages
	reg       service.Registries
	handlers  *persist.Registry
	accessors *persist.Accessors
	recorder  *notify.Recorder
	provider  *testutil.ScriptedProvider
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newHarness(t *testing.T, steps ...testutil.Step) *harness {
	t.Helper()
	h := &harness{
		store:     testutil.NewStore(t, SQLiteDDL),
		reg:       service.NewRegistries(),
		handlers:  persist.NewRegistry(),
		accessors: persist.NewAccessors(),
		recorder:  &notify.Recorder{},
		provider:  testutil.NewScriptedProvider(steps...),
	}
	require.NoError(t, h.reg.Codecs.Register(codec.DefaultIdentity("openai"), codec.NewJSON(codec.DefaultIdentity("openai"))))

	msgs, err := Install(Deps{
		Registries: h.reg,
		Handlers:   h.handlers,
		Accessors:  h.accessors,
		Store:      h.store,
		Provider:   "openai",
		Model:      "gpt-test",
		Profile:    schema.OpenAI,
	})
	require.NoError(t, err)
	h.msgs = msgs
	h.reg.Freeze()
	h.handlers.Freeze()
	return h
}

func (h *harness) engine() *service.Engine {
	return service.New(h.reg, h.store,
		service.WithProvider("openai", h.provider),
		service.WithNotifier(h.recorder),
		service.WithLogger(quiet()),
	)
}

func (h *harness) worker() *drain.Worker {
	return drain.New(h.store, h.handlers, drain.Config{BatchSize: 10, MaxAttempts: 3},
		drain.WithNotifier(h.recorder), drain.WithLogger(quiet()))
}

func TestPatientInitial_EndToEnd(t *testing.T) {
	h := newHarness(t, testutil.Reply("resp_1", `{"messages":[{"text":"I have had a headache for three days."}]}`))
	ctx := context.Background()

	out, err := h.engine().Execute(ctx, service.Invocation{
		Service:  PatientInitialService,
		Messages: []provider.Message{{Role: provider.RoleUser, Content: "Begin."}},
		Owner:    "simulation:42",
	})
	require.NoError(t, err)
	assert.Equal(t, outbox.StatusSucceeded, out.Status)

	reqs := h.provider.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "gpt-test", reqs[0].Model)
	assert.Contains(t, reqs[0].Instructions, "standardized patient")
	require.NotNil(t, reqs[0].Text)

	rep, err := h.worker().RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Persisted)

	rows, err := h.msgs.ListByCorrelation(ctx, out.CorrelationID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "I have had a headache for three days.", rows[0].Text)
	assert.Equal(t, "simulation:42", rows[0].OwnerRef)

	chunks, err := h.store.ListChunks(ctx, out.CorrelationID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, outbox.DomainRef{Table: Table, RowID: rows[0].ID}, chunks[0].Ref)
	assert.Equal(t, PatientInitialHandler, chunks[0].Handler)

	rec, err := h.store.GetCall(ctx, out.CorrelationID)
	require.NoError(t, err)
	assert.True(t, rec.DomainPersisted)

	assert.Equal(t, []notify.Kind{
		notify.KindRequestSent,
		notify.KindResponseReceived,
		notify.KindResponseReady,
	}, h.recorder.Kinds())
	ready := h.recorder.Events()[2]
	assert.Equal(t, chunks[0].Ref.String(), ready.DomainRef)

	loaded, err := h.accessors.Load(ctx, chunks[0].Ref)
	require.NoError(t, err)
	assert.Equal(t, rows[0], loaded)
}

func TestPatientInitial_HandlerIsIdempotent(t *testing.T) {
	h := newHarness(t, testutil.Reply("resp_1", `{"messages":[{"text":"one"},{"text":"two"}]}`))
	ctx := context.Background()

	out, err := h.engine().Execute(ctx, service.Invocation{Service: PatientInitialService})
	require.NoError(t, err)
	rec, err := h.store.GetCall(ctx, out.CorrelationID)
	require.NoError(t, err)

	handler := h.handlers.Resolve(Namespace, PatientInitialSchema)
	require.NotNil(t, handler)

	// Every invocation, concurrent or not, returns the first reference.
	refs := make([]outbox.DomainRef, 6)
	var g errgroup.Group
	for i := range refs {
		g.Go(func() error {
			ref, err := handler.Persist(ctx, rec)
			refs[i] = ref
			return err
		})
	}
	require.NoError(t, g.Wait())
	for _, ref := range refs[1:] {
		assert.Equal(t, refs[0], ref)
	}

	rows, err := h.msgs.ListByCorrelation(ctx, out.CorrelationID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, rows[0].ID, refs[0].RowID)
	assert.Equal(t, []int{0, 1}, []int{rows[0].Ordinal, rows[1].Ordinal})
}

func TestPatientInitial_SchemaMismatchIsNotPersisted(t *testing.T) {
	h := newHarness(t, testutil.Reply("resp_1", `{"messages":[{"body":"wrong field"}]}`))
	ctx := context.Background()

	out, err := h.engine().Execute(ctx, service.Invocation{Service: PatientInitialService})
	require.Error(t, err)
	assert.Equal(t, outbox.StatusFailed, out.Status)

	rep, err := h.worker().RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Claimed)
}

func TestPersistOutput_RejectsEmptyOutput(t *testing.T) {
	h := newHarness(t)
	_, err := h.msgs.PersistOutput(context.Background(), outbox.CallRecord{CorrelationID: "c-1"}, PatientInitialOutput{})
	assert.ErrorContains(t, err, "no messages")
}

func TestInstall_RejectsFrozenRegistries(t *testing.T) {
	h := newHarness(t)
	_, err := Install(Deps{
		Registries: h.reg,
		Handlers:   h.handlers,
		Accessors:  persist.NewAccessors(),
		Store:      h.store,
		Provider:   "openai",
		Profile:    schema.OpenAI,
	})
	assert.Error(t, err)
}
