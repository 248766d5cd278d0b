package cli

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackfruitco/simworks-sub000/internal/app"
	"github.com/jackfruitco/simworks-sub000/internal/provider"
	"github.com/jackfruitco/simworks-sub000/internal/testutil"
)

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *CLIError       `json:"error"`
}

func decode[T any](t *testing.T, stdout string) (envelope, T) {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal([]byte(stdout), &env), stdout)
	var data T
	if len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, &data))
	}
	return env, data
}

func dbFlag(t *testing.T) []string {
	t.Helper()
	return []string{"--db", filepath.Join(t.TempDir(), "cli.db")}
}

func withProvider(steps ...testutil.Step) []app.Option {
	return []app.Option{app.WithProvider(testutil.NewScriptedProvider(steps...))}
}

func TestValidate_ValidCatalog(t *testing.T) {
	stdout, _, err := execute(t, nil, "validate", catalogDir)
	require.NoError(t, err)
	assert.Contains(t, stdout, "✓ Catalog valid for openai: 2 service(s), 1 prompt(s), 1 schema(s)")
}

func TestValidate_JSON(t *testing.T) {
	stdout, _, err := execute(t, nil, "--format", "json", "validate", "--provider", "neutral", catalogDir)
	require.NoError(t, err)

	env, res := decode[ValidationResult](t, stdout)
	assert.Equal(t, "ok", env.Status)
	assert.True(t, res.Valid)
	assert.Equal(t, "neutral", res.Profile)
	assert.Equal(t, 2, res.Files)
}

func TestValidate_InvalidCatalog(t *testing.T) {
	stdout, _, err := execute(t, nil, "--format", "json", "validate", filepath.Join("..", "catalog", "testdata", "invalid"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	env, res := decode[ValidationResult](t, stdout)
	assert.Equal(t, "error", env.Status)
	assert.False(t, res.Valid)
	require.NotEmpty(t, res.Errors)
	for _, e := range res.Errors {
		assert.NotEmpty(t, e.Code)
		assert.NotEmpty(t, e.Message)
	}
}

func TestValidate_MissingDirectory(t *testing.T) {
	_, _, err := execute(t, nil, "validate", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSchema_ChatEnvelope(t *testing.T) {
	stdout, _, err := execute(t, nil, "schema", "chat.patient.initial")
	require.NoError(t, err)

	var doc struct {
		Format struct {
			Type   string          `json:"type"`
			Name   string          `json:"name"`
			Schema json.RawMessage `json:"schema"`
			Strict bool            `json:"strict"`
		} `json:"format"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &doc))
	assert.Equal(t, "json_schema", doc.Format.Type)
	assert.Equal(t, "PatientInitialOutput", doc.Format.Name)
	assert.True(t, doc.Format.Strict)
	assert.Contains(t, string(doc.Format.Schema), `"messages"`)
}

func TestSchema_FromCatalog(t *testing.T) {
	stdout, _, err := execute(t, nil, "--format", "json", "--catalog", catalogDir, "schema", "schemas.chat.patient.followup")
	require.NoError(t, err)

	_, res := decode[SchemaResult](t, stdout)
	assert.Equal(t, "schemas.chat.patient.followup", res.Identity)
	assert.Equal(t, "openai", res.Profile)
	assert.Contains(t, string(res.Envelope), `"FollowupOutput"`)
}

func TestSchema_Unknown(t *testing.T) {
	_, _, err := execute(t, nil, "schema", "chat.patient.nothing")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCall_RecordsThenDrainPersists(t *testing.T) {
	db := dbFlag(t)
	opts := withProvider(testutil.Reply("resp_1", `{"messages":[{"text":"It started an hour ago."}]}`))

	stdout, _, err := execute(t, opts, append(db, "--format", "json", "call", "chat.patient.initial", "-m", "Begin.", "--owner", "simulation:42")...)
	require.NoError(t, err)
	env, call := decode[CallResult](t, stdout)
	assert.Equal(t, "ok", env.Status)
	assert.Equal(t, "succeeded", call.Status)
	assert.Equal(t, 1, call.Attempts)
	assert.Equal(t, "resp_1", call.ResponseID)
	assert.JSONEq(t, `{"messages":[{"text":"It started an hour ago."}]}`, string(call.Result))
	require.NotEmpty(t, call.CorrelationID)

	stdout, _, err = execute(t, nil, append(db, "--format", "json", "drain", "--once")...)
	require.NoError(t, err)
	_, rep := decode[DrainResult](t, stdout)
	assert.Equal(t, DrainResult{Workers: 1, Claimed: 1, Persisted: 1}, rep)

	stdout, _, err = execute(t, nil, append(db, "--format", "json", "records", "show", call.CorrelationID)...)
	require.NoError(t, err)
	_, view := decode[RecordView](t, stdout)
	assert.True(t, view.Persisted)
	assert.Equal(t, 1, view.PersistAttempts)
	assert.Equal(t, "simulation:42", view.Owner)
	require.Len(t, view.Chunks, 1)
	assert.True(t, strings.HasPrefix(view.Chunks[0], "schemas.chat.patient.initial -> chat_messages:"), view.Chunks[0])

	stdout, _, err = execute(t, nil, append(db, "records")...)
	require.NoError(t, err)
	assert.Contains(t, stdout, "CORRELATION ID")
	assert.Contains(t, stdout, call.CorrelationID)
	assert.Contains(t, stdout, "persisted")
}

func TestCall_TextOutputAndStreaming(t *testing.T) {
	step := testutil.Reply("resp_1", `{"messages":[{"text":"Hi."}]}`)
	step.Deltas = []string{`{"messages":`, `[{"text":"Hi."}]}`}

	stdout, stderr, err := execute(t, withProvider(step), append(dbFlag(t), "call", "chat.patient.initial", "--stream")...)
	require.NoError(t, err)
	assert.Contains(t, stdout, "succeeded")
	assert.Contains(t, stdout, `{"messages":[{"text":"Hi."}]}`)
	assert.Contains(t, stderr, `{"messages":[{"text":"Hi."}]}`)
}

func TestCall_FailedCallIsRecorded(t *testing.T) {
	db := dbFlag(t)
	stdout, _, err := execute(t, withProvider(testutil.Fail(provider.StatusError(400, "bad request"))),
		append(db, "--format", "json", "call", "chat.patient.initial")...)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	env, call := decode[CallResult](t, stdout)
	assert.Equal(t, "error", env.Status)
	assert.Equal(t, ErrCodeCallFailed, env.Error.Code)
	assert.Equal(t, "failed", call.Status)
	assert.Contains(t, call.Error, "400")

	stdout, _, err = execute(t, nil, append(db, "--format", "json", "records", "--status", "failed")...)
	require.NoError(t, err)
	_, list := decode[RecordList](t, stdout)
	require.Len(t, list, 1)
	assert.Equal(t, call.CorrelationID, list[0].CorrelationID)
}

func TestCall_UnknownServiceIsCommandError(t *testing.T) {
	_, _, err := execute(t, withProvider(), append(dbFlag(t), "call", "chat.patient.unknown")...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCall_WithoutProviderIsCommandError(t *testing.T) {
	stdout, _, err := execute(t, nil, append(dbFlag(t), "call", "chat.patient.initial")...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stdout, ErrCodeConfig)
}

func TestCall_BadVar(t *testing.T) {
	_, _, err := execute(t, nil, "call", "chat.patient.initial", "--var", "novalue")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "want key=value")
}

func TestRecords_SkippedThenRequeued(t *testing.T) {
	db := append(dbFlag(t), "--catalog", catalogDir, "--format", "json")
	opts := withProvider(testutil.Reply("resp_1", `{"reply":"Better now.","mood":"calm"}`))

	stdout, _, err := execute(t, opts, append(db, "call", "chat.patient.followup", "--owner", "simulation:1", "--var", "last_message=How are you?")...)
	require.NoError(t, err)
	_, call := decode[CallResult](t, stdout)
	require.Equal(t, "succeeded", call.Status)

	// No handler is registered for the catalog schema.
	stdout, _, err = execute(t, nil, append(db, "drain", "--once")...)
	require.NoError(t, err)
	_, rep := decode[DrainResult](t, stdout)
	assert.Equal(t, 1, rep.Skipped)

	stdout, _, err = execute(t, nil, append(db, "records", "show", call.CorrelationID)...)
	require.NoError(t, err)
	_, view := decode[RecordView](t, stdout)
	assert.Equal(t, "skipped", view.PersistOutcome)
	assert.False(t, view.Persisted)

	stdout, _, err = execute(t, nil, append(db, "records", "requeue", call.CorrelationID)...)
	require.NoError(t, err)
	_, view = decode[RecordView](t, stdout)
	assert.Empty(t, view.PersistOutcome)
	assert.Zero(t, view.PersistAttempts)
}

func TestRecords_ShowUnknown(t *testing.T) {
	_, _, err := execute(t, nil, append(dbFlag(t), "records", "show", "missing")...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRecords_InvalidStatus(t *testing.T) {
	_, _, err := execute(t, nil, append(dbFlag(t), "records", "--status", "done")...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRecords_Empty(t *testing.T) {
	stdout, _, err := execute(t, nil, append(dbFlag(t), "records")...)
	require.NoError(t, err)
	assert.Equal(t, "no records\n", stdout)
}

func TestMetricsRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "simworks_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	srv := httptest.NewServer(metricsRouter(reg))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	buf := new(strings.Builder)
	_, _ = io.Copy(buf, resp.Body)
	assert.Contains(t, buf.String(), "simworks_test_total 1")
}
