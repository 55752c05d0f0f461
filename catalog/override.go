package catalog

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadOverrideFile reads a discovery payload from a YAML or JSON file and
// installs it as the override tier.
func (c *Catalog) LoadOverrideFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("catalog: override file path is required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("catalog: read override file: %w", err)
	}
	payload, err := ParseDiscoveryPayload(raw)
	if err != nil {
		return err
	}
	return c.Update(TierOverride, payload)
}

// ParseDiscoveryPayload decodes YAML, and therefore JSON, payloads.
func ParseDiscoveryPayload(raw []byte) (DiscoveryPayload, error) {
	var payload DiscoveryPayload
	if err := yaml.Unmarshal(raw, &payload); err != nil {
		return DiscoveryPayload{}, fmt.Errorf("catalog: decode discovery payload: %w", err)
	}
	if len(payload.ServiceLinks) == 0 {
		return DiscoveryPayload{}, fmt.Errorf("catalog: discovery payload has no service links")
	}
	return payload, nil
}
