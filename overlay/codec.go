package overlay

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// wireLayer is the flat encoding of a Layer: the payload fields sit under
// "payload" and "kind" selects the variant.
type wireLayer struct {
	ID      string          `yaml:"id" json:"id"`
	Name    string          `yaml:"name,omitempty" json:"name,omitempty"`
	Kind    Kind            `yaml:"kind" json:"kind"`
	ZIndex  int             `yaml:"z_index" json:"z_index"`
	Enabled bool            `yaml:"enabled" json:"enabled"`
	Payload yaml.Node       `yaml:"payload,omitempty" json:"-"`
	Raw     json.RawMessage `yaml:"-" json:"payload,omitempty"`
}

func newPayload(k Kind) (Payload, error) {
	switch k {
	case KindLogo:
		return &Logo{}, nil
	case KindImage:
		return &Image{}, nil
	case KindChroma:
		return &Chroma{}, nil
	case KindLowerThird:
		return &LowerThirdSlot{}, nil
	}
	return nil, fmt.Errorf("%w: unknown layer kind %q", ErrBadPayload, k)
}

// deref turns the pointer used for decoding back into the value variant.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *Logo:
		return *v
	case *Image:
		return *v
	case *Chroma:
		return *v
	case *LowerThirdSlot:
		return *v
	}
	return p
}

func (l Layer) MarshalJSON() ([]byte, error) {
	w := wireLayer{ID: l.ID, Name: l.Name, Kind: l.Kind(), ZIndex: l.ZIndex, Enabled: l.Enabled}
	if l.Payload != nil {
		raw, err := json.Marshal(l.Payload)
		if err != nil {
			return nil, err
		}
		w.Raw = raw
	}
	return json.Marshal(w)
}

func (l *Layer) UnmarshalJSON(b []byte) error {
	var w wireLayer
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	p, err := newPayload(w.Kind)
	if err != nil {
		return err
	}
	if len(w.Raw) > 0 {
		if err := json.Unmarshal(w.Raw, p); err != nil {
			return fmt.Errorf("layer %q payload: %w", w.ID, err)
		}
	}
	*l = Layer{ID: w.ID, Name: w.Name, ZIndex: w.ZIndex, Enabled: w.Enabled, Payload: deref(p)}
	return nil
}

func (l Layer) MarshalYAML() (any, error) {
	w := wireLayer{ID: l.ID, Name: l.Name, Kind: l.Kind(), ZIndex: l.ZIndex, Enabled: l.Enabled}
	if l.Payload != nil {
		if err := w.Payload.Encode(l.Payload); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func (l *Layer) UnmarshalYAML(n *yaml.Node) error {
	var w wireLayer
	if err := n.Decode(&w); err != nil {
		return err
	}
	p, err := newPayload(w.Kind)
	if err != nil {
		return err
	}
	if !w.Payload.IsZero() {
		if err := w.Payload.Decode(p); err != nil {
			return fmt.Errorf("layer %q payload: %w", w.ID, err)
		}
	}
	*l = Layer{ID: w.ID, Name: w.Name, ZIndex: w.ZIndex, Enabled: w.Enabled, Payload: deref(p)}
	return nil
}
