package codec

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/jackfruitco/simworks-sub000/internal/identity"
	"github.com/jackfruitco/simworks-sub000/internal/payload"
	"github.com/jackfruitco/simworks-sub000/internal/provider"
	"github.com/jackfruitco/simworks-sub000/internal/schema"
)

// JSON is the structured-output codec for providers that accept a
// json_schema text format. It is stateless; one value can be registered
// under any number of identities.
type JSON struct {
	id identity.Identity
}

// NewJSON returns a JSON codec registered as id.
func NewJSON(id identity.Identity) *JSON {
	return &JSON{id: id}
}

// DefaultIdentity is the provider-default codec identity
// ("codecs.core.<provider>.default").
func DefaultIdentity(providerName string) identity.Identity {
	return identity.Identity{
		Domain:    identity.DomainCodec,
		Namespace: identity.CoreNamespace,
		Group:     providerName,
		Name:      "default",
	}
}

func (c *JSON) Identity() identity.Identity { return c.id }

func (c *JSON) Encode(req *provider.Request, sc *schema.Component) error {
	if sc == nil {
		return nil
	}
	env := sc.Envelope()
	if env.IsZero() {
		return fmt.Errorf("encode: schema %s has no envelope", sc.Identity())
	}
	req.Text = &provider.TextFormat{Format: env.Format()}
	return nil
}

func (c *JSON) Decode(resp *provider.Response, sc *schema.Component) (*Result, error) {
	if sc == nil {
		return nil, nil
	}
	if resp == nil {
		return nil, &DecodeError{Kind: KindMissing, Schema: sc.Identity(), Err: errors.New("nil response")}
	}
	if resp.Incomplete {
		reason := resp.IncompleteReason
		if reason == "" {
			reason = "unknown"
		}
		return nil, &DecodeError{Kind: KindMalformed, Schema: sc.Identity(), Err: fmt.Errorf("response incomplete: %s", reason)}
	}

	candidate, source := []byte(resp.Structured), "structured"
	if len(bytes.TrimSpace(candidate)) == 0 {
		candidate, source = []byte(stripFences(resp.OutputText)), "text"
	}
	if len(bytes.TrimSpace(candidate)) == 0 {
		return nil, &DecodeError{Kind: KindMissing, Schema: sc.Identity(), Err: errors.New("response has no structured output")}
	}

	inst, err := sc.ValidateJSON(candidate)
	if err != nil {
		kind := KindMalformed
		if schema.IsInstanceMismatch(err) {
			kind = KindMismatch
		}
		return nil, &DecodeError{Kind: kind, Schema: sc.Identity(), Err: err}
	}

	v, err := payload.FromAny(inst)
	if err != nil {
		return nil, &DecodeError{Kind: KindMalformed, Schema: sc.Identity(), Err: err}
	}
	obj, ok := v.(payload.Object)
	if !ok {
		return nil, &DecodeError{Kind: KindMismatch, Schema: sc.Identity(), Err: errors.New("structured output is not an object")}
	}
	canonical, err := payload.MarshalCanonical(obj)
	if err != nil {
		return nil, &DecodeError{Kind: KindMalformed, Schema: sc.Identity(), Err: err}
	}
	return &Result{Value: obj, Canonical: canonical, Source: source}, nil
}

// stripFences removes a surrounding Markdown code fence, which some models
// add around JSON even when asked not to.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		return ""
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}
