package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Profile is a provider overlay applied on top of the neutral rules.
type Profile struct {
	// Name identifies the provider ("openai").
	Name string

	// RequireClosedObjects rejects object schemas without
	// "additionalProperties": false.
	RequireClosedObjects bool

	// RequireAllProperties rejects object schemas whose "required" list does
	// not name every declared property.
	RequireAllProperties bool

	// MaxDepth bounds object nesting. Zero means unbounded.
	MaxDepth int

	// Strict is sent as the envelope's "strict" flag.
	Strict bool
}

// Built-in profiles.
var (
	// Neutral applies only the provider-agnostic rules.
	Neutral = Profile{Name: "neutral"}

	// OpenAI matches the structured-output constraints of the Responses API.
	OpenAI = Profile{
		Name:                 "openai",
		RequireClosedObjects: true,
		RequireAllProperties: true,
		MaxDepth:             10,
		Strict:               true,
	}
)

// ProfileFor returns the built-in profile for a provider name, falling back
// to Neutral for unknown providers.
func ProfileFor(provider string) Profile {
	if provider == OpenAI.Name {
		return OpenAI
	}
	return Neutral
}

// Validated is a Source that passed Validate under Profile.
type Validated struct {
	Source  Source
	Profile Profile
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Validate checks src against the neutral rules and profile p.
func Validate(src Source, p Profile) (*Validated, error) {
	if !namePattern.MatchString(src.Name) {
		return nil, &ValidationError{
			Code:    CodeInvalidName,
			Message: fmt.Sprintf("schema name %q must be 1-64 characters of [A-Za-z0-9_-]", src.Name),
		}
	}

	dec := json.NewDecoder(bytes.NewReader(src.Doc))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, &ValidationError{Code: CodeMalformed, Message: fmt.Sprintf("schema %s is not valid JSON: %v", src.Name, err)}
	}
	root, ok := tree.(map[string]any)
	if !ok {
		return nil, &ValidationError{
			Code:       CodeRootNotObject,
			Message:    "schema root must be a JSON object describing an object",
			Suggestion: `declare {"type":"object","properties":{...}} at the root`,
		}
	}

	for _, kw := range []string{"oneOf", "anyOf"} {
		if _, ok := root[kw]; ok {
			return nil, &ValidationError{
				Code:       CodeRootUnion,
				Path:       "",
				Message:    fmt.Sprintf("root schema is a %s union; providers reject unions at the root", kw),
				Suggestion: fmt.Sprintf(`wrap the union in a container field, e.g. {"type":"object","properties":{"item":{"%s":[...]}},"required":["item"]}`, kw),
			}
		}
	}
	if !hasType(root, "object") {
		return nil, &ValidationError{
			Code:       CodeRootNotObject,
			Message:    fmt.Sprintf("root schema type is %s, want object", describeType(root)),
			Suggestion: "wrap the value in a container object field",
		}
	}

	w := &walker{root: root, profile: p}
	if err := w.walk(root, "", 1); err != nil {
		return nil, err
	}
	return &Validated{Source: src, Profile: p}, nil
}

type walker struct {
	root    map[string]any
	profile Profile
}

// walk visits every subschema. depth counts object levels from the root.
func (w *walker) walk(node map[string]any, path string, depth int) error {
	if hasType(node, "object") || node["properties"] != nil {
		if w.profile.MaxDepth > 0 && depth > w.profile.MaxDepth {
			return &ValidationError{
				Code:    CodeTooDeep,
				Path:    path,
				Message: fmt.Sprintf("object nesting depth %d exceeds %s limit of %d", depth, w.profile.Name, w.profile.MaxDepth),
			}
		}
		if err := w.checkObject(node, path); err != nil {
			return err
		}
	}
	if err := w.checkDiscriminator(node, path); err != nil {
		return err
	}

	childDepth := depth
	if hasType(node, "object") || node["properties"] != nil {
		childDepth = depth + 1
	}

	if props, ok := node["properties"].(map[string]any); ok {
		for _, name := range sortedKeys(props) {
			if child, ok := props[name].(map[string]any); ok {
				if err := w.walk(child, path+"/properties/"+escapePointer(name), childDepth); err != nil {
					return err
				}
			}
		}
	}
	for _, kw := range []string{"items", "additionalProperties", "not", "contains"} {
		if child, ok := node[kw].(map[string]any); ok {
			if err := w.walk(child, path+"/"+kw, childDepth); err != nil {
				return err
			}
		}
	}
	for _, kw := range []string{"oneOf", "anyOf", "allOf", "prefixItems"} {
		if list, ok := node[kw].([]any); ok {
			for i, item := range list {
				if child, ok := item.(map[string]any); ok {
					if err := w.walk(child, fmt.Sprintf("%s/%s/%d", path, kw, i), depth); err != nil {
						return err
					}
				}
			}
		}
	}
	for _, kw := range []string{"$defs", "definitions"} {
		if defs, ok := node[kw].(map[string]any); ok {
			for _, name := range sortedKeys(defs) {
				if child, ok := defs[name].(map[string]any); ok {
					if err := w.walk(child, path+"/"+kw+"/"+escapePointer(name), depth); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

func (w *walker) checkObject(node map[string]any, path string) error {
	if w.profile.RequireClosedObjects {
		if ap, ok := node["additionalProperties"].(bool); !ok || ap {
			return &ValidationError{
				Code:       CodeOpenObject,
				Path:       path,
				Message:    fmt.Sprintf("%s requires closed objects", w.profile.Name),
				Suggestion: `add "additionalProperties": false`,
			}
		}
	}
	if w.profile.RequireAllProperties {
		props, _ := node["properties"].(map[string]any)
		required := stringList(node["required"])
		for _, name := range sortedKeys(props) {
			if !slices.Contains(required, name) {
				return &ValidationError{
					Code:       CodePropertyNotRequired,
					Path:       path + "/properties/" + escapePointer(name),
					Message:    fmt.Sprintf("%s strict mode requires every property to be listed in \"required\"", w.profile.Name),
					Suggestion: fmt.Sprintf(`add %q to "required" and make the field nullable if it is optional`, name),
				}
			}
		}
	}
	return nil
}

// checkDiscriminator requires every variant of a discriminated union to
// declare the discriminator property.
func (w *walker) checkDiscriminator(node map[string]any, path string) error {
	disc, ok := node["discriminator"].(map[string]any)
	if !ok {
		return nil
	}
	prop, _ := disc["propertyName"].(string)
	if prop == "" {
		return &ValidationError{Code: CodeDiscriminator, Path: path + "/discriminator", Message: "discriminator.propertyName is missing"}
	}

	var variants []any
	var kw string
	for _, candidate := range []string{"oneOf", "anyOf"} {
		if list, ok := node[candidate].([]any); ok {
			variants, kw = list, candidate
			break
		}
	}
	if variants == nil {
		return &ValidationError{Code: CodeDiscriminator, Path: path, Message: "discriminator declared without oneOf/anyOf variants"}
	}

	for i, v := range variants {
		variant, ok := v.(map[string]any)
		if !ok {
			continue
		}
		variant = w.resolve(variant)
		props, _ := variant["properties"].(map[string]any)
		if _, ok := props[prop]; !ok {
			return &ValidationError{
				Code:       CodeDiscriminator,
				Path:       fmt.Sprintf("%s/%s/%d", path, kw, i),
				Message:    fmt.Sprintf("union variant does not declare discriminator property %q", prop),
				Suggestion: fmt.Sprintf(`add a %q property (usually a "const") to each variant`, prop),
			}
		}
	}
	return nil
}

// resolve follows a local "$ref". Unresolvable references are returned as is.
func (w *walker) resolve(node map[string]any) map[string]any {
	ref, ok := node["$ref"].(string)
	if !ok || !strings.HasPrefix(ref, "#/") {
		return node
	}
	var cur any = w.root
	for _, tok := range strings.Split(strings.TrimPrefix(ref, "#/"), "/") {
		m, ok := cur.(map[string]any)
		if !ok {
			return node
		}
		tok = strings.ReplaceAll(strings.ReplaceAll(tok, "~1", "/"), "~0", "~")
		cur = m[tok]
	}
	if m, ok := cur.(map[string]any); ok {
		return m
	}
	return node
}

// hasType reports whether node's "type" is want or a list containing want.
func hasType(node map[string]any, want string) bool {
	switch t := node["type"].(type) {
	case string:
		return t == want
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && s == want {
				return true
			}
		}
	}
	return false
}

func describeType(node map[string]any) string {
	switch t := node["type"].(type) {
	case nil:
		if _, ok := node["$ref"]; ok {
			return "a $ref"
		}
		return "unspecified"
	case string:
		return fmt.Sprintf("%q", t)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

func stringList(v any) []string {
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func escapePointer(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "~", "~0"), "/", "~1")
}
