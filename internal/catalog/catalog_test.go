package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackfruitco/simworks-sub000/internal/identity"
	"github.com/jackfruitco/simworks-sub000/internal/schema"
	"github.com/jackfruitco/simworks-sub000/internal/service"
)

func TestLoad_ValidCatalog(t *testing.T) {
	cat, errs := Load(filepath.Join("testdata", "catalog"), LoadModeCollectAll)
	require.Empty(t, errs)
	require.NotNil(t, cat)

	assert.Equal(t, 2, cat.FileCount)
	require.Len(t, cat.Services, 2)
	require.Len(t, cat.Prompts, 1)
	require.Len(t, cat.Schemas, 1)

	followup := identity.Must(identity.DomainService, "chat", "patient", "followup")
	svc := findService(t, cat, followup)
	assert.Equal(t, "openai", svc.Provider)
	assert.Equal(t, "gpt-4o-mini", svc.Model)
	assert.True(t, svc.RequireSchema)
	assert.Equal(t, "simulation", svc.OwnerKind)

	summary := findService(t, cat, identity.Must(identity.DomainService, "chat", "patient", "summary"))
	assert.Equal(t, followup.In(identity.DomainSchema), summary.Schema)
	assert.Empty(t, summary.Provider)

	assert.Contains(t, cat.Prompts[0].Instructions, "{{.last_message}}")

	sc := cat.Schemas[0]
	assert.Equal(t, "FollowupOutput", sc.Source.Name)
	assert.JSONEq(t, `{
		"type": "object",
		"additionalProperties": false,
		"properties": {
			"reply": {"type": "string"},
			"mood": {"type": "string", "enum": ["calm", "anxious", "irritated"]}
		},
		"required": ["reply", "mood"]
	}`, string(sc.Source.Doc))
}

func TestLoad_KeepsAuthoredFieldOrder(t *testing.T) {
	cat, errs := Load(filepath.Join("testdata", "catalog"), LoadModeFailFast)
	require.Empty(t, errs)
	doc := string(cat.Schemas[0].Source.Doc)
	assert.Less(t, strings.Index(doc, `"reply"`), strings.Index(doc, `"mood"`))
}

func TestLoad_DirectoryErrors(t *testing.T) {
	tests := []struct {
		name string
		dir  func(t *testing.T) string
		code string
	}{
		{"missing", func(*testing.T) string { return "/nonexistent/catalog" }, ErrCodeNotFound},
		{"empty", func(t *testing.T) string { return t.TempDir() }, ErrCodeNoFiles},
		{"file", func(t *testing.T) string {
			p := filepath.Join(t.TempDir(), "x.cue")
			require.NoError(t, os.WriteFile(p, []byte("package x\n"), 0o644))
			return p
		}, ErrCodeNotFound},
		{"syntax", func(t *testing.T) string {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.cue"), []byte("package x\nservices: {\n"), 0o644))
			return dir
		}, ErrCodeLoadFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat, errs := Load(tt.dir(t), LoadModeFailFast)
			assert.Nil(t, cat)
			require.Len(t, errs, 1)
			assert.Equal(t, tt.code, Code(errs[0]))
		})
	}
}

func TestLoad_EmptyCatalog(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.cue"), []byte("package x\nother: 1\n"), 0o644))
	cat, errs := Load(dir, LoadModeFailFast)
	require.NotNil(t, cat)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrCodeEmpty, Code(errs[0]))
}

func TestLoad_EntryErrors(t *testing.T) {
	dir := filepath.Join("testdata", "invalid")

	_, errs := Load(dir, LoadModeFailFast)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrCodeIdentity, Code(errs[0]))

	cat, errs := Load(dir, LoadModeCollectAll)
	require.Len(t, errs, 2)
	assert.Equal(t, ErrCodeIdentity, Code(errs[0]))
	assert.Equal(t, ErrCodeMissingField, Code(errs[1]))
	assert.Contains(t, errs[1].Error(), "instructions is required")

	// The union schema loads; it only fails once validated.
	require.Len(t, cat.Schemas, 1)
	results := cat.CompileSchemas(schema.OpenAI)
	require.Len(t, results, 1)
	assert.Equal(t, schema.CodeRootUnion, Code(results[0].Err))
	assert.Contains(t, results[0].Err.Error(), "schemas.chat.patient.union")
}

func TestLoad_NonConcreteDocument(t *testing.T) {
	dir := t.TempDir()
	src := `package x
schemas: "chat.patient.open": {
	name: "Open"
	document: {type: string}
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.cue"), []byte(src), 0o644))
	_, errs := Load(dir, LoadModeFailFast)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrCodeNotConcrete, Code(errs[0]))
}

func TestRegister(t *testing.T) {
	cat, errs := Load(filepath.Join("testdata", "catalog"), LoadModeFailFast)
	require.Empty(t, errs)

	reg := service.NewRegistries()
	require.NoError(t, cat.Register(reg, Defaults{Provider: "openai", Model: "gpt-default"}, schema.OpenAI))

	summary, err := reg.Services.Get(identity.Must(identity.DomainService, "chat", "patient", "summary"))
	require.NoError(t, err)
	assert.Equal(t, "openai", summary.Provider)
	assert.Equal(t, "gpt-default", summary.Model)

	followup, err := reg.Services.Get(identity.Must(identity.DomainService, "chat", "patient", "followup"))
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", followup.Model)

	prompt, err := reg.Prompts.Get(identity.Must(identity.DomainPrompt, "chat", "patient", "followup"))
	require.NoError(t, err)
	text, err := prompt.Render(map[string]any{"last_message": "How long has it hurt?"})
	require.NoError(t, err)
	assert.Contains(t, text, "How long has it hurt?")

	sc, err := reg.Schemas.Get(identity.Must(identity.DomainSchema, "chat", "patient", "followup"))
	require.NoError(t, err)
	_, err = sc.ValidateJSON([]byte(`{"reply":"Since Monday.","mood":"calm"}`))
	assert.NoError(t, err)

	// Registering the same catalog twice collides.
	assert.Error(t, cat.Register(reg, Defaults{}, schema.OpenAI))
}

func findService(t *testing.T, cat *Catalog, id identity.Identity) ServiceSpec {
	t.Helper()
	for _, s := range cat.Services {
		if s.ID == id {
			return s
		}
	}
	t.Fatalf("service %s not in catalog", id)
	return ServiceSpec{}
}
