package machine

import (
	"encoding/json"

	batsimerrors "github.com/oar-team/batsim-go/pkg/errors"
)

// platformHost mirrors one entry of a platform file's "hosts" array.
type platformHost struct {
	ID      int              `json:"id"`
	Name    string           `json:"name"`
	Role    string           `json:"role,omitempty"`
	PStates []platformPState `json:"pstates,omitempty"`
}

// platformPState declares one power state: computation states carry only
// an id, sleep states additionally name their two virtual transition
// pstates.
type platformPState struct {
	ID    int    `json:"id"`
	Type  string `json:"type"` // "computation" | "sleep"
	OnVPS int    `json:"on_vps,omitempty"`
	OffVPS int   `json:"off_vps,omitempty"`
}

type platformFile struct {
	Hosts []platformHost `json:"hosts"`
}

// LoadPlatform parses a platform description's bytes into a Registry.
// roleOverrides maps host names to roles assigned on the command line,
// taking precedence over the file's own role field. Hosts default to the
// compute_node role; a single computation pstate 0 is implied when no
// pstates are declared.
func LoadPlatform(data []byte, roleOverrides map[string]Role) (*Registry, error) {
	var pf platformFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, batsimerrors.NewConfigurationError(batsimerrors.ErrorCodeUnreadableInput,
			"platform: invalid JSON: %v", err)
	}
	if len(pf.Hosts) == 0 {
		return nil, batsimerrors.NewConfigurationError(batsimerrors.ErrorCodeUnreadableInput,
			"platform declares no hosts")
	}

	reg := NewRegistry()
	for _, h := range pf.Hosts {
		role := Role(h.Role)
		if override, ok := roleOverrides[h.Name]; ok {
			role = override
		}
		if role == "" {
			role = RoleComputeNode
		}
		switch role {
		case RoleMaster, RoleStorage, RoleComputeNode:
		default:
			return nil, batsimerrors.NewConfigurationError(batsimerrors.ErrorCodeInvalidCLI,
				"host %q: unknown role %q", h.Name, role)
		}

		m := New(h.ID, h.Name, role)
		for _, ps := range h.PStates {
			switch ps.Type {
			case "computation", "":
				m.PStates[ps.ID] = PStateTypeComputation
			case "sleep":
				if ps.OnVPS == ps.OffVPS {
					return nil, batsimerrors.NewConfigurationError(batsimerrors.ErrorCodeUnreadableInput,
						"host %q: sleep pstate %d must reference two distinct virtual pstates", h.Name, ps.ID)
				}
				m.PStates[ps.ID] = PStateTypeSleep
				m.PStates[ps.OnVPS] = PStateTypeTransitionVirtual
				m.PStates[ps.OffVPS] = PStateTypeTransitionVirtual
				m.SleepPStates[ps.ID] = SleepPState{
					SleepPState:     ps.ID,
					SwitchOffPState: ps.OffVPS,
					SwitchOnPState:  ps.OnVPS,
				}
			default:
				return nil, batsimerrors.NewConfigurationError(batsimerrors.ErrorCodeUnreadableInput,
					"host %q: unknown pstate type %q", h.Name, ps.Type)
			}
		}
		if err := reg.Add(m); err != nil {
			return nil, err
		}
	}
	if err := reg.Finalize(); err != nil {
		return nil, err
	}
	return reg, nil
}
