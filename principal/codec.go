package principal

import (
	"encoding/json"
	"fmt"
)

// envelope is the stored form: {"kind":"oidc","data":{...}}
type envelope struct {
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// Encode serializes p with its kind tag.
func Encode(p Principal) (json.RawMessage, error) {
	if p == nil {
		return nil, fmt.Errorf("[principal Encode] nil principal")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("[principal Encode] %w", err)
	}
	return json.Marshal(envelope{Kind: p.Kind(), Data: data})
}

// Decode is the inverse of Encode.
func Decode(raw []byte) (Principal, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("[principal Decode] %w", err)
	}

	switch env.Kind {
	case KindDemo:
		var d Demo
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, fmt.Errorf("[principal Decode] demo: %w", err)
		}
		if d.Sub != DemoSubject {
			return nil, fmt.Errorf("[principal Decode] demo principal with subject %q", d.Sub)
		}
		return &d, nil
	case KindOIDC:
		var p OIDC
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("[principal Decode] oidc: %w", err)
		}
		if p.Sub == "" || p.Sub == DemoSubject {
			return nil, fmt.Errorf("[principal Decode] invalid oidc subject %q", p.Sub)
		}
		return &p, nil
	default:
		return nil, fmt.Errorf("[principal Decode] unknown kind %q", env.Kind)
	}
}
