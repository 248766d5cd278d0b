package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackfruitco/simworks-sub000/internal/codec"
	"github.com/jackfruitco/simworks-sub000/internal/identity"
)

func TestResolve_SchemaPrecedence(t *testing.T) {
	override := identity.Must(identity.DomainSchema, "chat", "override", "v1")
	classDefault := identity.Must(identity.DomainSchema, "chat", "class", "v1")

	tests := []struct {
		name         string
		override     identity.Identity
		classDefault identity.Identity
		registry     bool
		want         identity.Identity
	}{
		{"override wins", override, classDefault, true, override},
		{"class default next", identity.Identity{}, classDefault, true, classDefault},
		{"identity match next", identity.Identity{}, identity.Identity{}, true, chatSchema},
		{"none last", identity.Identity{}, identity.Identity{}, false, identity.Identity{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistries()
			def := &Definition{Identity: chatService, Provider: "openai", DefaultSchema: tt.classDefault}
			require.NoError(t, reg.Services.Register(chatService, def))
			require.NoError(t, reg.Codecs.Register(codec.DefaultIdentity("openai"), codec.NewJSON(codec.DefaultIdentity("openai"))))
			require.NoError(t, reg.Schemas.Register(override, messagesComponent(t, override)))
			require.NoError(t, reg.Schemas.Register(classDefault, messagesComponent(t, classDefault)))
			if tt.registry {
				require.NoError(t, reg.Schemas.Register(chatSchema, messagesComponent(t, chatSchema)))
			}
			reg.Freeze()

			plan, err := reg.Resolve(Invocation{
				Service:   chatService,
				Overrides: Overrides{Prompt: "x", Schema: tt.override},
			})
			require.NoError(t, err)
			if tt.want.IsZero() {
				assert.Nil(t, plan.Schema)
				return
			}
			require.NotNil(t, plan.Schema)
			assert.Equal(t, tt.want, plan.Schema.Identity())
		})
	}
}

func TestResolve_CodecPrecedence(t *testing.T) {
	override := identity.Must(identity.DomainCodec, "chat", "override", "v1")
	classDefault := identity.Must(identity.DomainCodec, "chat", "class", "v1")
	matched := chatService.In(identity.DomainCodec)
	providerDefault := codec.DefaultIdentity("openai")

	register := func(t *testing.T, reg Registries, ids ...identity.Identity) {
		for _, id := range ids {
			require.NoError(t, reg.Codecs.Register(id, codec.NewJSON(id)))
		}
	}

	tests := []struct {
		name         string
		override     identity.Identity
		classDefault identity.Identity
		registered   []identity.Identity
		want         identity.Identity
	}{
		{"override", override, classDefault, []identity.Identity{override, classDefault, matched, providerDefault}, override},
		{"class default", identity.Identity{}, classDefault, []identity.Identity{classDefault, matched, providerDefault}, classDefault},
		{"identity match", identity.Identity{}, identity.Identity{}, []identity.Identity{matched, providerDefault}, matched},
		{"provider default", identity.Identity{}, identity.Identity{}, []identity.Identity{providerDefault}, providerDefault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistries()
			require.NoError(t, reg.Services.Register(chatService, &Definition{Identity: chatService, Provider: "openai", DefaultCodec: tt.classDefault}))
			register(t, reg, tt.registered...)
			reg.Freeze()

			plan, err := reg.Resolve(Invocation{Service: chatService, Overrides: Overrides{Prompt: "x", Codec: tt.override}})
			require.NoError(t, err)
			assert.Equal(t, tt.want, plan.Codec.Identity())
		})
	}

	t.Run("unresolved is a config error", func(t *testing.T) {
		reg := NewRegistries()
		require.NoError(t, reg.Services.Register(chatService, &Definition{Identity: chatService, Provider: "openai"}))
		_, err := reg.Resolve(Invocation{Service: chatService, Overrides: Overrides{Prompt: "x"}})
		var ce *ConfigError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "codec", ce.Dependency)
	})
}

func TestResolve_PromptPrecedence(t *testing.T) {
	intro := identity.Must(identity.DomainPrompt, "chat", "parts", "intro")
	rules := identity.Must(identity.DomainPrompt, "chat", "parts", "rules")

	reg := NewRegistries()
	require.NoError(t, reg.Services.Register(chatService, &Definition{Identity: chatService, Provider: "openai"}))
	require.NoError(t, reg.Codecs.Register(codec.DefaultIdentity("openai"), codec.NewJSON(codec.DefaultIdentity("openai"))))
	require.NoError(t, reg.Prompts.Register(chatService.In(identity.DomainPrompt), MustPrompt(chatService.In(identity.DomainPrompt), "matched")))
	require.NoError(t, reg.Prompts.Register(intro, MustPrompt(intro, "Hello {{.name}}.")))
	require.NoError(t, reg.Prompts.Register(rules, MustPrompt(rules, "Stay in character.")))
	reg.Freeze()

	vars := map[string]any{"name": "Dr. Lee"}

	plan, err := reg.Resolve(Invocation{Service: chatService, Vars: vars, Overrides: Overrides{Prompt: "explicit", Plan: []identity.Identity{intro}}})
	require.NoError(t, err)
	assert.Equal(t, "explicit", plan.Instructions)
	assert.Equal(t, "override", plan.PromptSource)

	plan, err = reg.Resolve(Invocation{Service: chatService, Vars: vars, Overrides: Overrides{Plan: []identity.Identity{intro, rules}}})
	require.NoError(t, err)
	assert.Equal(t, "Hello Dr. Lee.\n\nStay in character.", plan.Instructions)
	assert.Equal(t, "plan", plan.PromptSource)

	plan, err = reg.Resolve(Invocation{Service: chatService, Vars: vars})
	require.NoError(t, err)
	assert.Equal(t, "matched", plan.Instructions)
	assert.Equal(t, "prompts.chat.patient.initial", plan.PromptSource)

	_, err = reg.Resolve(Invocation{Service: chatService, Overrides: Overrides{Plan: []identity.Identity{intro}}})
	assert.True(t, IsConfigError(err), "missing template variable must be a config error")
}

func TestResolve_RequireSchema(t *testing.T) {
	reg := NewRegistries()
	require.NoError(t, reg.Services.Register(chatService, &Definition{Identity: chatService, Provider: "openai", RequireSchema: true}))
	require.NoError(t, reg.Codecs.Register(codec.DefaultIdentity("openai"), codec.NewJSON(codec.DefaultIdentity("openai"))))
	reg.Freeze()

	_, err := reg.Resolve(Invocation{Service: chatService, Overrides: Overrides{Prompt: "x"}})
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "schema", ce.Dependency)
}

func TestResolve_UnknownService(t *testing.T) {
	reg := NewRegistries()
	reg.Freeze()
	_, err := reg.Resolve(Invocation{Service: chatService})
	assert.True(t, IsConfigError(err))
}
