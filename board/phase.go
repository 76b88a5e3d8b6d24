package board

// Phase describes where the target sits in its firmware boot lifecycle.
type Phase uint8

const (
	PhaseUnknown Phase = iota
	PhaseBootloaderPrompt
	PhaseOSLoginPrompt
	PhaseOSShell
	PhaseProgrammingFuse
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseUnknown:
		return "unknown"
	case PhaseBootloaderPrompt:
		return "bootloader-prompt"
	case PhaseOSLoginPrompt:
		return "os-login-prompt"
	case PhaseOSShell:
		return "os-shell"
	case PhaseProgrammingFuse:
		return "programming-fuse"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// Terminal reports whether the phase ends the run.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}
