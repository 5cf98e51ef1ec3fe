package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

// Load reads and merges Policy from global and project paths in
// precedence order: defaults, then global, then project (highest). A
// missing file at either path is not an error; malformed JSON is.
func Load(globalPath, projectPath string) (*Policy, error) {
	p := Default()

	if globalPath != "" {
		if err := mergeFile(p, globalPath); err != nil {
			return nil, fmt.Errorf("loading global policy: %w", err)
		}
	}
	if projectPath != "" {
		if err := mergeFile(p, projectPath); err != nil {
			return nil, fmt.Errorf("loading project policy: %w", err)
		}
	}

	return p, nil
}

// LoadDefault loads from the conventional paths: the XDG per-user config
// directory for the global policy, and a repo-local override.
//
//	global:  $XDG_CONFIG_HOME/queueworker/policy.json
//	project: <repo>/.tasks.policy.json
func LoadDefault(repo string) (*Policy, error) {
	globalPath, err := xdg.ConfigFile(filepath.Join("queueworker", "policy.json"))
	if err != nil {
		return nil, fmt.Errorf("resolving global policy path: %w", err)
	}

	projectPath := filepath.Join(repo, ".tasks.policy.json")

	return Load(globalPath, projectPath)
}

// mergeFile reads path as a JSON object and overlays the top-level groups
// it contains onto base (see mergeInto).
func mergeFile(base *Policy, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var overlay Policy
	if err := json.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	mergeInto(base, &overlay, data)
	return nil
}

// mergeInto overlays overlay onto base field group by field group: each
// group ("queue", "retry", "circuit_breaker", "git") present in raw
// replaces base's group wholesale, zero values included; groups absent
// from raw are left untouched. Presence is determined by re-decoding into
// a generic map. Within a present group, a key the file omits is set to
// its zero value rather than kept from base.
func mergeInto(base, overlay *Policy, raw []byte) {
	var present map[string]json.RawMessage
	if err := json.Unmarshal(raw, &present); err != nil {
		return
	}

	if _, ok := present["queue"]; ok {
		base.Queue = overlay.Queue
	}
	if _, ok := present["retry"]; ok {
		base.Retry = overlay.Retry
	}
	if _, ok := present["circuit_breaker"]; ok {
		base.CircuitBreaker = overlay.CircuitBreaker
	}
	if _, ok := present["git"]; ok {
		base.Git = overlay.Git
	}
}
