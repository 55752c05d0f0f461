package credentials

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/goliatone/go-collab/core"
)

// State is the persisted snapshot of a Credentials manager.
type State struct {
	Supertoken *Token            `json:"supertoken,omitempty"`
	Children   map[string]*Token `json:"children,omitempty"`
}

// TokenCodec serializes State as JSON, sealing it with the secret provider
// when one is configured.
type TokenCodec struct {
	Secrets core.SecretProvider
}

func (c TokenCodec) Encode(ctx context.Context, state State) ([]byte, error) {
	encoded, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("credentials: encode state: %w", err)
	}
	if c.Secrets == nil {
		return encoded, nil
	}
	sealed, err := c.Secrets.Encrypt(ctx, encoded)
	if err != nil {
		return nil, fmt.Errorf("credentials: encrypt state: %w", err)
	}
	return sealed, nil
}

func (c TokenCodec) Decode(ctx context.Context, payload []byte) (State, error) {
	if len(payload) == 0 {
		return State{}, fmt.Errorf("credentials: state payload is empty")
	}
	if c.Secrets != nil {
		opened, err := c.Secrets.Decrypt(ctx, payload)
		if err != nil {
			return State{}, fmt.Errorf("credentials: decrypt state: %w", err)
		}
		payload = opened
	}
	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return State{}, fmt.Errorf("credentials: decode state: %w", err)
	}
	if state.Children == nil {
		state.Children = map[string]*Token{}
	}
	return state, nil
}
