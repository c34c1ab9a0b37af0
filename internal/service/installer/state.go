package installer

import (
	"fmt"
	"strings"
)

// State is a step of the installation state machine.
type State uint8

const (
	// StateIdle is the state before anything ran.
	StateIdle State = iota
	// StateResolving locates the boot image on the device.
	StateResolving
	// StateProvisioning prepares the workspace.
	StateProvisioning
	// StateTransforming rewrites a firmware archive.
	StateTransforming
	// StateCopying copies a raw image into the workspace.
	StateCopying
	// StatePatching runs the patch script.
	StatePatching
	// StateSigning re-signs the patched image.
	StateSigning
	// StateCommitting writes the result to its destination.
	StateCommitting
	// StateFlashing writes the result to the device.
	StateFlashing
	// StatePostSlotSwitch prepares the device to boot the other slot.
	StatePostSlotSwitch
	// StateEnvFix repairs the installed environment.
	StateEnvFix
	// StateUninstalling runs the uninstaller.
	StateUninstalling
	// StateDone is reached when every step succeeded.
	StateDone
	// StateFailed is reached from any step that failed.
	StateFailed
)

//nolint:gochecknoglobals // Lookup table for String and ParseState.
var stateNames = [...]string{
	StateIdle:           "idle",
	StateResolving:      "resolving",
	StateProvisioning:   "provisioning",
	StateTransforming:   "transforming",
	StateCopying:        "copying",
	StatePatching:       "patching",
	StateSigning:        "signing",
	StateCommitting:     "committing",
	StateFlashing:       "flashing",
	StatePostSlotSwitch: "post-slot-switch",
	StateEnvFix:         "env-fix",
	StateUninstalling:   "uninstalling",
	StateDone:           "done",
	StateFailed:         "failed",
}

// String implements fmt.Stringer.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}

	return fmt.Sprintf("state(%d)", s)
}

// Terminal reports whether no further transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// ParseState converts a state name back to a State.
func ParseState(name string) (State, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range stateNames {
		if n == name {
			return State(i), true
		}
	}

	return StateIdle, false
}

// Operation is a user-facing installation sequence.
type Operation uint8

const (
	// OpPatchFile patches a user-supplied image or firmware archive.
	OpPatchFile Operation = iota
	// OpDirect installs to the boot image of the current slot.
	OpDirect
	// OpSecondSlot installs to the inactive slot and switches to it.
	OpSecondSlot
	// OpFixEnv only repairs the installed environment.
	OpFixEnv
	// OpUninstall runs the uninstaller.
	OpUninstall
)

//nolint:gochecknoglobals // Lookup table for String and ParseOperation.
var operationNames = [...]string{
	OpPatchFile:  "patch",
	OpDirect:     "install",
	OpSecondSlot: "install-alt",
	OpFixEnv:     "fix-env",
	OpUninstall:  "uninstall",
}

// String implements fmt.Stringer.
func (o Operation) String() string {
	if int(o) < len(operationNames) {
		return operationNames[o]
	}

	return fmt.Sprintf("operation(%d)", o)
}

// ParseOperation converts an operation name such as "install-alt" to an Operation.
func ParseOperation(name string) (Operation, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range operationNames {
		if n == name {
			return Operation(i), nil
		}
	}

	return OpPatchFile, fmt.Errorf("%w: %q", ErrUnknownOperation, name)
}
