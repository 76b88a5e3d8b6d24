// Package board drives one target through its firmware boot states over a
// serial console: classify the environment, interrupt autoboot, log in,
// read the unit identity, and program the hardware address into fuses with
// read-back verification.
package board

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrWindowMissed reports that the autoboot countdown expired before the
	// interrupt keystroke landed. Not fatal: power-cycle and try again.
	ErrWindowMissed = errors.New("board: autoboot window missed")
	// ErrVerify reports a fuse read-back mismatch after all retries.
	ErrVerify = errors.New("board: fuse verification failed")
	// ErrWrongPhase reports an operation invoked from a phase it cannot run in.
	ErrWrongPhase = errors.New("board: wrong phase")
)

// Console prompt patterns for the supported firmware environments.
var (
	patAutobootBanner   = regexp.MustCompile(`Hit any key to stop autoboot|Loading Environment from MMC\.\.\. OK`)
	patBootloaderPrompt = regexp.MustCompile(`=> `)
	patLoginPrompt      = regexp.MustCompile(`login: ?`)
	patPasswordPrompt   = regexp.MustCompile(`[Pp]assword: ?`)
	patShellPrompt      = regexp.MustCompile(`[#$] `)
	patClassify         = regexp.MustCompile(`=> |login: ?|[#$] `)
	// The newline is part of the match: the identity line must be complete
	// on the wire before it is accepted, or a read falling mid-line would
	// yield a truncated identity.
	patHexIdentity = regexp.MustCompile(`(?m)^[0-9A-Fa-f]{16,}[ \t]*\r?\n`)
)

// transition maps (current phase, matched console pattern) to the next
// phase. The table keeps the prompt-driven flow auditable in one place;
// advance applies the first row whose pattern matches.
type transition struct {
	from    Phase
	pattern *regexp.Regexp
	to      Phase
}

var transitions = []transition{
	{PhaseUnknown, patBootloaderPrompt, PhaseBootloaderPrompt},
	{PhaseUnknown, patShellPrompt, PhaseOSShell},
	{PhaseUnknown, patLoginPrompt, PhaseOSLoginPrompt},
	{PhaseOSLoginPrompt, patShellPrompt, PhaseOSShell},
}

const (
	defaultClassifyWindow = 15 * time.Second
	defaultAutobootWindow = 30 * time.Second
	defaultPromptTimeout  = 10 * time.Second
	defaultCommandTimeout = 15 * time.Second
	defaultLoginTimeout   = 20 * time.Second
	defaultPromptRetries  = 3
	defaultFuseRetries    = 3

	// interruptKey is the keystroke that halts autoboot. Any byte works;
	// space avoids being interpreted as a bootloader command prefix.
	interruptKey = ' '
)

// Machine is the control-plane state machine for one target board. It never
// touches power: missing the autoboot window surfaces ErrWindowMissed so the
// caller can cycle power through its own collaborator and retry.
type Machine struct {
	console Console

	user            string
	password        string
	identityCommand string

	classifyWindow time.Duration
	autobootWindow time.Duration
	promptTimeout  time.Duration
	commandTimeout time.Duration
	promptRetries  int
	fuseRetries    int

	phase      Phase
	lastOutput string
}

// Option configures a Machine.
type Option func(*Machine)

// WithCredentials sets the OS login used when the target boots to a login
// prompt.
func WithCredentials(user, password string) Option {
	return func(m *Machine) {
		m.user = user
		m.password = password
	}
}

// WithIdentityCommand overrides the shell command that prints the unit
// identity.
func WithIdentityCommand(cmd string) Option {
	return func(m *Machine) {
		m.identityCommand = cmd
	}
}

// WithFuseRetries bounds the write+verify cycles before the machine fails.
func WithFuseRetries(n int) Option {
	return func(m *Machine) {
		m.fuseRetries = n
	}
}

// WithTimeouts overrides the expect windows. Zero values keep defaults.
func WithTimeouts(classify, autoboot, prompt, command time.Duration) Option {
	return func(m *Machine) {
		if classify > 0 {
			m.classifyWindow = classify
		}
		if autoboot > 0 {
			m.autobootWindow = autoboot
		}
		if prompt > 0 {
			m.promptTimeout = prompt
		}
		if command > 0 {
			m.commandTimeout = command
		}
	}
}

// New creates a state machine over an established console.
func New(console Console, opts ...Option) *Machine {
	m := &Machine{
		console:         console,
		user:            "root",
		identityCommand: "ecc_toolkit get_serial",
		classifyWindow:  defaultClassifyWindow,
		autobootWindow:  defaultAutobootWindow,
		promptTimeout:   defaultPromptTimeout,
		commandTimeout:  defaultCommandTimeout,
		promptRetries:   defaultPromptRetries,
		fuseRetries:     defaultFuseRetries,
		phase:           PhaseUnknown,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Phase returns the current lifecycle phase.
func (m *Machine) Phase() Phase {
	return m.phase
}

// LastOutput returns the most recent console output the machine observed.
// When the phase is Failed this is the diagnostic to surface.
func (m *Machine) LastOutput() string {
	return m.lastOutput
}

// advance applies the transition table to a matched console pattern.
func (m *Machine) advance(matched string) bool {
	for _, tr := range transitions {
		if tr.from == m.phase && tr.pattern.MatchString(matched) {
			m.phase = tr.to
			return true
		}
	}
	return false
}

func (m *Machine) expect(ctx context.Context, pattern *regexp.Regexp, timeout time.Duration) (string, error) {
	matched, err := m.console.Expect(ctx, pattern, timeout)
	if err != nil {
		m.lastOutput = m.console.Pending()
		return "", err
	}
	m.lastOutput = matched
	return matched, nil
}

// Classify detects which firmware environment the target is in by racing
// the known prompt patterns within a bounded window. A newline is sent
// first to coax a fresh prompt out of a quiet console.
func (m *Machine) Classify(ctx context.Context) (Phase, error) {
	var lastErr error
	for attempt := 1; attempt <= m.promptRetries; attempt++ {
		m.phase = PhaseUnknown
		m.console.Flush()
		if err := m.console.Send(""); err != nil {
			return PhaseUnknown, err
		}

		matched, err := m.expect(ctx, patClassify, m.classifyWindow)
		if err != nil {
			lastErr = err
			slog.Debug("Classification attempt got no prompt.", "attempt", attempt, "err", err)
			continue
		}
		if m.advance(matched) {
			slog.Debug("Classified firmware environment.", "phase", m.phase.String())
			return m.phase, nil
		}
		lastErr = fmt.Errorf("unrecognized prompt %q", matched)
	}
	return PhaseUnknown, fmt.Errorf("classify environment after %d attempts: %w", m.promptRetries, lastErr)
}

// EnsureShell drives the target to an OS shell, logging in if the target
// sits at a login prompt. From the bootloader prompt it fails with
// ErrWrongPhase: the caller must boot the OS (power-cycle) first.
func (m *Machine) EnsureShell(ctx context.Context) error {
	if m.phase == PhaseOSShell {
		return nil
	}
	if _, err := m.Classify(ctx); err != nil {
		return err
	}

	switch m.phase {
	case PhaseOSShell:
		return nil
	case PhaseOSLoginPrompt:
		return m.login(ctx)
	case PhaseBootloaderPrompt:
		return fmt.Errorf("target is at the bootloader prompt, boot the OS first: %w", ErrWrongPhase)
	default:
		return fmt.Errorf("cannot reach shell from phase %s: %w", m.phase, ErrWrongPhase)
	}
}

func (m *Machine) login(ctx context.Context) error {
	if err := m.console.Send(m.user); err != nil {
		return err
	}
	if _, err := m.expect(ctx, patPasswordPrompt, m.promptTimeout); err != nil {
		return fmt.Errorf("login as %s: %w", m.user, err)
	}
	if err := m.console.Send(m.password); err != nil {
		return err
	}
	matched, err := m.expect(ctx, patShellPrompt, defaultLoginTimeout)
	if err != nil {
		return fmt.Errorf("login as %s: no shell prompt: %w", m.user, err)
	}
	m.advance(matched)
	slog.Info("Logged in to target OS.", "user", m.user)
	return nil
}

// UnitID reads the unit's factory identity from the OS shell.
func (m *Machine) UnitID(ctx context.Context) (string, error) {
	if m.phase != PhaseOSShell {
		return "", fmt.Errorf("unit identity requires an OS shell, have %s: %w", m.phase, ErrWrongPhase)
	}

	m.console.Flush()
	if err := m.console.Send(m.identityCommand); err != nil {
		return "", err
	}
	matched, err := m.expect(ctx, patHexIdentity, m.commandTimeout)
	if err != nil {
		return "", fmt.Errorf("read unit identity: %w", err)
	}
	return strings.ToUpper(strings.TrimSpace(matched)), nil
}

// EnterBootloader interrupts a fresh boot and lands at the bootloader
// prompt. Call immediately after power-on: the interrupt keystroke must be
// sent while the autoboot countdown is still running. A missed window is
// ErrWindowMissed, not a fatal failure.
func (m *Machine) EnterBootloader(ctx context.Context) error {
	m.phase = PhaseUnknown
	m.console.Flush()

	if _, err := m.expect(ctx, patAutobootBanner, m.autobootWindow); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("no autoboot banner: %w", ErrWindowMissed)
	}
	if err := m.console.SendByte(interruptKey); err != nil {
		return err
	}

	matched, err := m.expect(ctx, patBootloaderPrompt, m.promptTimeout)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		// The countdown expired before the keystroke landed and the OS is
		// booting instead.
		return fmt.Errorf("no bootloader prompt after interrupt: %w", ErrWindowMissed)
	}
	m.advance(matched)
	slog.Info("Interrupted autoboot, at bootloader prompt.")
	return nil
}

// ProgramFuse writes addr into the fuse registers and verifies it by read
// back, retrying the whole write+verify cycle up to the fuse retry bound.
// Success is terminal (Done); exhausting retries is terminal (Failed) and
// the last observed console output is kept for diagnostics.
func (m *Machine) ProgramFuse(ctx context.Context, addr string) error {
	if m.phase != PhaseBootloaderPrompt {
		return fmt.Errorf("fuse programming requires the bootloader prompt, have %s: %w", m.phase, ErrWrongPhase)
	}

	low, high, err := fuseWords(addr)
	if err != nil {
		return err
	}

	m.phase = PhaseProgrammingFuse
	var lastErr error
	for attempt := 1; attempt <= m.fuseRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			m.phase = PhaseFailed
			return err
		}

		got, err := m.programOnce(ctx, low, high)
		if err != nil {
			lastErr = err
			slog.Warn("Fuse write+verify cycle failed.", "attempt", attempt, "err", err)
			continue
		}
		if got == addr {
			m.phase = PhaseDone
			slog.Info("Fuse programming verified.", "addr", addr, "attempt", attempt)
			return nil
		}
		lastErr = fmt.Errorf("read back %s, want %s", got, addr)
		slog.Warn("Fuse read-back mismatch.", "attempt", attempt, "want", addr, "got", got)
	}

	m.phase = PhaseFailed
	return fmt.Errorf("program fuse %s after %d attempts: %v: %w", addr, m.fuseRetries, lastErr, ErrVerify)
}

// programOnce runs one write+read-back cycle and returns the address the
// fuses now hold.
func (m *Machine) programOnce(ctx context.Context, low, high uint32) (string, error) {
	writes := []string{
		fmt.Sprintf("fuse prog -y %d %d 0x%08x", fuseBank, fuseWordLow, low),
		fmt.Sprintf("fuse prog -y %d %d 0x%04x", fuseBank, fuseWordHigh, high),
	}
	for _, cmd := range writes {
		m.console.Flush()
		if err := m.console.Send(cmd); err != nil {
			return "", err
		}
		if _, err := m.expect(ctx, patBootloaderPrompt, m.commandTimeout); err != nil {
			return "", fmt.Errorf("%s: %w", cmd, err)
		}
	}

	gotLow, err := m.readFuseWord(ctx, fuseWordLow)
	if err != nil {
		return "", err
	}
	gotHigh, err := m.readFuseWord(ctx, fuseWordHigh)
	if err != nil {
		return "", err
	}
	return addrFromWords(gotLow, gotHigh), nil
}

func (m *Machine) readFuseWord(ctx context.Context, word int) (uint32, error) {
	m.console.Flush()
	cmd := fmt.Sprintf("fuse read %d %d", fuseBank, word)
	if err := m.console.Send(cmd); err != nil {
		return 0, err
	}
	matched, err := m.expect(ctx, fuseWordPattern, m.commandTimeout)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", cmd, err)
	}
	return parseFuseWord(matched)
}
