// Package chat is the example domain: a simulated patient's opening
// messages. It registers one service, its prompt and output contract, and
// the persistence handler that turns a recorded result into chat_messages
// rows.
package chat

import (
	"github.com/jackfruitco/simworks-sub000/internal/identity"
	"github.com/jackfruitco/simworks-sub000/internal/schema"
)

// Namespace is the chat domain's identity namespace.
const Namespace = "chat"

// Component identities. All four share the tail chat.patient.initial, so
// resolution by identity finds the prompt and schema without explicit
// wiring.
var (
	PatientInitialService = identity.Must(identity.DomainService, Namespace, "patient", "initial")
	PatientInitialPrompt  = PatientInitialService.In(identity.DomainPrompt)
	PatientInitialSchema  = PatientInitialService.In(identity.DomainSchema)
	PatientInitialHandler = PatientInitialService.In(identity.DomainHandler)
)

// Message is one chat message produced by the provider.
type Message struct {
	Text string `json:"text" jsonschema:"the message as the patient would type it"`
}

// PatientInitialOutput is the structured-output contract of the
// patient-initial service.
type PatientInitialOutput struct {
	Messages []Message `json:"messages" jsonschema:"the patient's opening messages, in order"`
}

// PatientInitialSource is the schema source derived from PatientInitialOutput.
func PatientInitialSource() (schema.Source, error) {
	return schema.FromType[PatientInitialOutput]("PatientInitialOutput")
}

const patientInitialInstructions = `You are a standardized patient in a clinical training simulation.
Open the conversation the way a real patient would: describe why you came
in, in your own words, without medical vocabulary. Do not reveal a
diagnosis.`
