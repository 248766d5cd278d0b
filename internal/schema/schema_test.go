package schema

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackfruitco/simworks-sub000/internal/identity"
)

const nestedUnionDoc = `{
  "type": "object",
  "properties": {
    "finding": {
      "anyOf": [
        {
          "type": "object",
          "properties": {
            "kind": {"type": "string", "const": "vital"},
            "value": {"type": "number"}
          },
          "required": ["kind", "value"],
          "additionalProperties": false
        },
        {
          "type": "object",
          "properties": {
            "kind": {"type": "string", "const": "symptom"},
            "text": {"type": "string", "description": "free text <as reported>"}
          },
          "required": ["kind", "text"],
          "additionalProperties": false
        }
      ],
      "discriminator": {
        "propertyName": "kind",
        "mapping": {
          "vital": "#/properties/finding/anyOf/0",
          "symptom": "#/properties/finding/anyOf/1"
        }
      }
    }
  },
  "required": ["finding"],
  "additionalProperties": false
}`

const rootUnionDoc = `{
  "anyOf": [
    {"type": "object", "properties": {"kind": {"const": "vital"}}, "required": ["kind"], "additionalProperties": false},
    {"type": "object", "properties": {"kind": {"const": "symptom"}}, "required": ["kind"], "additionalProperties": false}
  ],
  "discriminator": {"propertyName": "kind"}
}`

func newGolden(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func mustSource(t *testing.T, name, doc string) Source {
	t.Helper()
	src, err := FromJSON(name, []byte(doc))
	require.NoError(t, err)
	return src
}

func TestValidate_RootUnionRejected(t *testing.T) {
	_, err := Validate(mustSource(t, "Assessment", rootUnionDoc), Neutral)
	require.Error(t, err)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, CodeRootUnion, ve.Code)
	assert.Contains(t, ve.Message, "anyOf")
	assert.Contains(t, ve.Suggestion, "container field")
}

func TestValidate_NestedUnionAcceptedAndPreserved(t *testing.T) {
	src := mustSource(t, "Assessment", nestedUnionDoc)
	v, err := Validate(src, OpenAI)
	require.NoError(t, err)

	env, err := Adapt(v)
	require.NoError(t, err)

	disc := []byte(`"discriminator":{"propertyName":"kind","mapping":{"vital":"#/properties/finding/anyOf/0","symptom":"#/properties/finding/anyOf/1"}}`)
	assert.True(t, bytes.Contains(env.Bytes(), disc), "discriminator metadata must survive byte for byte")
	assert.True(t, bytes.Contains(env.Bytes(), src.Doc), "schema must be embedded verbatim")
	assert.Contains(t, string(env.Bytes()), "<as reported>", "no HTML escaping")

	newGolden(t).Assert(t, "nested_union_envelope", env.Bytes())
}

func TestAdapt_DoesNotMutateInput(t *testing.T) {
	src := mustSource(t, "Assessment", nestedUnionDoc)
	before := bytes.Clone(src.Doc)

	v, err := Validate(src, OpenAI)
	require.NoError(t, err)
	_, err = Adapt(v)
	require.NoError(t, err)

	assert.Equal(t, before, []byte(v.Source.Doc))
}

func TestAdapt_FormatShape(t *testing.T) {
	v, err := Validate(mustSource(t, "Assessment", nestedUnionDoc), OpenAI)
	require.NoError(t, err)
	env, err := Adapt(v)
	require.NoError(t, err)

	var format map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(env.Format(), &format))
	assert.JSONEq(t, `"json_schema"`, string(format["type"]))
	assert.JSONEq(t, `"Assessment"`, string(format["name"]))
	assert.JSONEq(t, `true`, string(format["strict"]))
}

func TestValidate_Rules(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		profile Profile
		code    string
	}{
		{"array root", `{"type":"array","items":{"type":"string"}}`, Neutral, CodeRootNotObject},
		{"scalar document", `"object"`, Neutral, CodeRootNotObject},
		{"oneOf root", `{"oneOf":[{"type":"object"}]}`, Neutral, CodeRootUnion},
		{"malformed json", `{"type":`, Neutral, CodeMalformed},
		{
			"variant missing discriminator",
			`{"type":"object","properties":{"f":{"oneOf":[{"type":"object","properties":{"kind":{"const":"a"}}},{"type":"object","properties":{"other":{"type":"string"}}}],"discriminator":{"propertyName":"kind"}}}}`,
			Neutral, CodeDiscriminator,
		},
		{"open object under openai", `{"type":"object","properties":{"a":{"type":"string"}},"required":["a"]}`, OpenAI, CodeOpenObject},
		{"optional property under openai", `{"type":"object","properties":{"a":{"type":"string"}},"additionalProperties":false}`, OpenAI, CodePropertyNotRequired},
		{
			"too deep",
			`{"type":"object","properties":{"a":{"type":"object","properties":{"b":{"type":"object","properties":{}}}}}}`,
			Profile{Name: "tiny", MaxDepth: 2}, CodeTooDeep,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := FromJSON("Test", []byte(tt.doc))
			if err != nil {
				var ve *ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, tt.code, ve.Code)
				return
			}
			_, err = Validate(src, tt.profile)
			require.Error(t, err)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.code, ve.Code, ve.Error())
		})
	}
}

func TestValidate_DiscriminatorFollowsLocalRefs(t *testing.T) {
	doc := `{
	  "type":"object",
	  "properties":{"f":{"oneOf":[{"$ref":"#/$defs/A"},{"$ref":"#/$defs/B"}],"discriminator":{"propertyName":"kind"}}},
	  "$defs":{
	    "A":{"type":"object","properties":{"kind":{"const":"a"}}},
	    "B":{"type":"object","properties":{"kind":{"const":"b"}}}
	  }
	}`
	_, err := Validate(mustSource(t, "Refs", doc), Neutral)
	assert.NoError(t, err)
}

func TestValidate_InvalidName(t *testing.T) {
	_, err := Validate(mustSource(t, "has space", `{"type":"object"}`), Neutral)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, CodeInvalidName, ve.Code)
}

type patientMessage struct {
	Text string `json:"text"`
}

type patientOutput struct {
	Messages []patientMessage `json:"messages"`
}

func TestFromType_ProducesStrictCompatibleSchema(t *testing.T) {
	src, err := FromType[patientOutput]("PatientInitialOutput")
	require.NoError(t, err)

	id := identity.Must(identity.DomainSchema, "chat", "patient", "initial")
	c, err := NewComponent(id, src, OpenAI)
	require.NoError(t, err)
	assert.Equal(t, "PatientInitialOutput", c.Name())
	assert.False(t, c.Envelope().IsZero())

	_, err = c.ValidateJSON([]byte(`{"messages":[{"text":"hello"}]}`))
	assert.NoError(t, err)

	_, err = c.ValidateJSON([]byte(`{"messages":[{"body":"hello"}]}`))
	assert.True(t, IsInstanceMismatch(err), "got %v", err)
}

func TestComponent_ValidateJSON(t *testing.T) {
	id := identity.Must(identity.DomainSchema, "chat", "assessment", "finding")
	c, err := NewComponent(id, mustSource(t, "Assessment", nestedUnionDoc), OpenAI)
	require.NoError(t, err)

	inst, err := c.ValidateJSON([]byte(`{"finding":{"kind":"vital","value":98.6}}`))
	require.NoError(t, err)
	assert.NotNil(t, inst)

	_, err = c.ValidateJSON([]byte(`{"finding":{"kind":"vital"}}`))
	assert.True(t, IsInstanceMismatch(err))

	_, err = c.ValidateJSON([]byte(`{"finding":`))
	require.Error(t, err)
	assert.False(t, IsValidationError(err), "syntax errors are not schema mismatches")
}

func TestNewComponent_RejectsAtRegistration(t *testing.T) {
	id := identity.Must(identity.DomainSchema, "chat", "assessment", "root")
	_, err := NewComponent(id, mustSource(t, "Assessment", rootUnionDoc), OpenAI)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.Contains(t, err.Error(), id.String())
}

func TestProfileFor(t *testing.T) {
	assert.Equal(t, OpenAI, ProfileFor("openai"))
	assert.Equal(t, Neutral, ProfileFor("local"))
}
