package chat

import (
	"fmt"

	"github.com/jackfruitco/simworks-sub000/internal/outbox"
	"github.com/jackfruitco/simworks-sub000/internal/persist"
	"github.com/jackfruitco/simworks-sub000/internal/schema"
	"github.com/jackfruitco/simworks-sub000/internal/service"
	"github.com/jackfruitco/simworks-sub000/internal/store"
)

// Deps are the registries and storage the chat domain registers into.
type Deps struct {
	Registries service.Registries
	Handlers   *persist.Registry
	Accessors  *persist.Accessors
	Store      *store.Store

	// Provider and Model are applied to the service definition.
	Provider string
	Model    string
	Profile  schema.Profile
}

// NewPatientInitialHandler returns the handler that stores a
// PatientInitialOutput as chat_messages rows, once per call record.
func NewPatientInitialHandler(chunks outbox.ChunkStore, msgs *Messages) persist.Handler {
	return &persist.Typed[PatientInitialOutput]{
		ID:     PatientInitialHandler,
		Chunks: chunks,
		Create: msgs.PersistOutput,
	}
}

// Install registers the chat components. The registries must still be open.
func Install(d Deps) (*Messages, error) {
	src, err := PatientInitialSource()
	if err != nil {
		return nil, err
	}
	sc, err := schema.NewComponent(PatientInitialSchema, src, d.Profile)
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}
	prompt, err := service.NewPrompt(PatientInitialPrompt, patientInitialInstructions)
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}
	def := &service.Definition{
		Identity:      PatientInitialService,
		Provider:      d.Provider,
		Model:         d.Model,
		RequireSchema: true,
		OwnerKind:     "simulation",
	}

	msgs := NewMessages(d.Store)
	steps := []func() error{
		func() error { return d.Registries.Schemas.Register(PatientInitialSchema, sc) },
		func() error { return d.Registries.Prompts.Register(PatientInitialPrompt, prompt) },
		func() error { return d.Registries.Services.Register(PatientInitialService, def) },
		func() error {
			return d.Handlers.Register(Namespace, PatientInitialSchema, NewPatientInitialHandler(d.Store, msgs))
		},
		func() error { return d.Accessors.Register(Table, msgs.Accessor) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, fmt.Errorf("chat: %w", err)
		}
	}
	return msgs, nil
}
