// Package catalog loads service, prompt and schema declarations from CUE.
//
// A catalog directory holds one CUE package with up to three top-level
// structs, each keyed by the component's namespace.group.name tail:
//
//	services: "chat.patient.followup": {
//		provider:      "openai"
//		model:         "gpt-4o-mini"
//		requireSchema: true
//	}
//	prompts: "chat.patient.followup": instructions: "..."
//	schemas: "chat.patient.followup": {
//		name: "FollowupOutput"
//		document: {type: "object", ...}
//	}
//
// Schema documents are exported as JSON in authored field order.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/jackfruitco/simworks-sub000/internal/identity"
	"github.com/jackfruitco/simworks-sub000/internal/schema"
)

// LoadMode controls how errors are handled during loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// Error codes.
const (
	ErrCodeGeneric     = "E001"
	ErrCodeScanError   = "E002"
	ErrCodeNoFiles     = "E003"
	ErrCodeLoadFailed  = "E004"
	ErrCodeNotFound    = "E005"
	ErrCodeBuildFailed = "E006"

	ErrCodeIdentity     = "E301" // label is not a valid namespace.group.name
	ErrCodeMissingField = "E302" // required field absent
	ErrCodeFieldType    = "E303" // field has the wrong kind
	ErrCodeNotConcrete  = "E304" // schema document is not concrete
	ErrCodeEmpty        = "E305" // no services, prompts or schemas
)

// LoadError is an error tied to a position in the catalog.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ServiceSpec is a declared service.
type ServiceSpec struct {
	ID            identity.Identity
	Provider      string
	Model         string
	Codec         identity.Identity
	Schema        identity.Identity
	RequireSchema bool
	OwnerKind     string
	Pos           token.Pos
}

// PromptSpec is a declared prompt.
type PromptSpec struct {
	ID           identity.Identity
	Instructions string
	Pos          token.Pos
}

// SchemaSpec is a declared schema. Source is not yet validated.
type SchemaSpec struct {
	ID     identity.Identity
	Source schema.Source
	Pos    token.Pos
}

// Catalog is the result of loading a directory.
type Catalog struct {
	Services  []ServiceSpec
	Prompts   []PromptSpec
	Schemas   []SchemaSpec
	FileCount int
	Value     cue.Value
}

// Load reads the CUE package in dir. In LoadModeFailFast the first entry
// error is returned; in LoadModeCollectAll every entry is visited. A nil
// catalog means the directory itself could not be loaded.
func Load(dir string, mode LoadMode) (*Catalog, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("catalog directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing catalog directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(files) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}
	value := cuecontext.New().BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{fromCUE(ErrCodeBuildFailed, err)}
	}

	cat := &Catalog{Value: value, FileCount: len(files)}
	l := &loader{mode: mode}

	l.each(value, "services", identity.DomainService, func(id identity.Identity, v cue.Value) error {
		spec, err := parseService(id, v)
		if err == nil {
			cat.Services = append(cat.Services, spec)
		}
		return err
	})
	l.each(value, "prompts", identity.DomainPrompt, func(id identity.Identity, v cue.Value) error {
		spec, err := parsePrompt(id, v)
		if err == nil {
			cat.Prompts = append(cat.Prompts, spec)
		}
		return err
	})
	l.each(value, "schemas", identity.DomainSchema, func(id identity.Identity, v cue.Value) error {
		spec, err := parseSchema(id, v)
		if err == nil {
			cat.Schemas = append(cat.Schemas, spec)
		}
		return err
	})

	if len(cat.Services)+len(cat.Prompts)+len(cat.Schemas) == 0 && len(l.errs) == 0 {
		l.errs = append(l.errs, &LoadError{Code: ErrCodeEmpty, Message: "no services, prompts or schemas found in catalog"})
	}
	return cat, l.errs
}

type loader struct {
	mode LoadMode
	errs []error
}

func (l *loader) stop() bool {
	return l.mode == LoadModeFailFast && len(l.errs) > 0
}

// each visits every field of the top-level struct section.
func (l *loader) each(root cue.Value, section, domain string, fn func(identity.Identity, cue.Value) error) {
	if l.stop() {
		return
	}
	v := root.LookupPath(cue.ParsePath(section))
	if !v.Exists() {
		return
	}
	iter, err := v.Fields()
	if err != nil {
		l.errs = append(l.errs, &LoadError{Code: ErrCodeFieldType, Message: fmt.Sprintf("%s must be a struct: %v", section, err), Pos: v.Pos()})
		return
	}
	for iter.Next() {
		label := iter.Label()
		id, err := identity.ParseIn(domain, label)
		if err != nil {
			err = &LoadError{Code: ErrCodeIdentity, Message: fmt.Sprintf("%s.%q: %v", section, label, err), Pos: iter.Value().Pos()}
		} else {
			err = fn(id, iter.Value())
		}
		if err != nil {
			l.errs = append(l.errs, err)
			if l.stop() {
				return
			}
		}
	}
}

func parseService(id identity.Identity, v cue.Value) (ServiceSpec, error) {
	spec := ServiceSpec{ID: id, Pos: v.Pos()}
	var err error
	if spec.Provider, err = optionalString(v, "provider"); err != nil {
		return spec, err
	}
	if spec.Model, err = optionalString(v, "model"); err != nil {
		return spec, err
	}
	if spec.OwnerKind, err = optionalString(v, "ownerKind"); err != nil {
		return spec, err
	}
	if spec.Codec, err = optionalIdentity(v, "codec", identity.DomainCodec); err != nil {
		return spec, err
	}
	if spec.Schema, err = optionalIdentity(v, "schema", identity.DomainSchema); err != nil {
		return spec, err
	}
	if f := v.LookupPath(cue.ParsePath("requireSchema")); f.Exists() {
		b, err := f.Bool()
		if err != nil {
			return spec, &LoadError{Code: ErrCodeFieldType, Message: fmt.Sprintf("%s: requireSchema must be a bool", id), Pos: f.Pos()}
		}
		spec.RequireSchema = b
	}
	return spec, nil
}

func parsePrompt(id identity.Identity, v cue.Value) (PromptSpec, error) {
	text, err := requiredString(v, "instructions")
	return PromptSpec{ID: id, Instructions: text, Pos: v.Pos()}, err
}

func parseSchema(id identity.Identity, v cue.Value) (SchemaSpec, error) {
	spec := SchemaSpec{ID: id, Pos: v.Pos()}
	name, err := requiredString(v, "name")
	if err != nil {
		return spec, err
	}
	doc := v.LookupPath(cue.ParsePath("document"))
	if !doc.Exists() {
		return spec, &LoadError{Code: ErrCodeMissingField, Message: fmt.Sprintf("%s: document is required", id), Pos: v.Pos()}
	}
	if err := doc.Validate(cue.Concrete(true)); err != nil {
		return spec, fromCUE(ErrCodeNotConcrete, err)
	}
	raw, err := doc.MarshalJSON()
	if err != nil {
		return spec, fromCUE(ErrCodeNotConcrete, err)
	}
	spec.Source, err = schema.FromJSON(name, raw)
	return spec, err
}

func requiredString(v cue.Value, field string) (string, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return "", &LoadError{Code: ErrCodeMissingField, Message: fmt.Sprintf("%s is required", field), Pos: v.Pos()}
	}
	s, err := f.String()
	if err != nil {
		return "", &LoadError{Code: ErrCodeFieldType, Message: fmt.Sprintf("%s must be a string", field), Pos: f.Pos()}
	}
	return s, nil
}

func optionalString(v cue.Value, field string) (string, error) {
	if !v.LookupPath(cue.ParsePath(field)).Exists() {
		return "", nil
	}
	return requiredString(v, field)
}

func optionalIdentity(v cue.Value, field, domain string) (identity.Identity, error) {
	s, err := optionalString(v, field)
	if err != nil || s == "" {
		return identity.Identity{}, err
	}
	id, err := identity.ParseIn(domain, s)
	if err != nil {
		return identity.Identity{}, &LoadError{Code: ErrCodeIdentity, Message: fmt.Sprintf("%s: %v", field, err), Pos: v.LookupPath(cue.ParsePath(field)).Pos()}
	}
	return id, nil
}

// fromCUE keeps the position of the first CUE error.
func fromCUE(code string, err error) *LoadError {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &LoadError{Code: code, Message: err.Error()}
	}
	first := errs[0]
	le := &LoadError{Code: code, Message: first.Error()}
	if pos := cueerrors.Positions(first); len(pos) > 0 {
		le.Pos = pos[0]
	}
	return le
}

// FindCUEFiles walks dir and returns every .cue file.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// Code returns the catalog or schema error code carried by err, or
// ErrCodeGeneric.
func Code(err error) string {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Code
	}
	var ve *schema.ValidationError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return ErrCodeGeneric
}
