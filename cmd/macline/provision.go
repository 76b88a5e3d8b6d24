package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"macline/board"
	"macline/cmd/macline/ledgercmd"
	"macline/cmd/macline/ui"
	"macline/config"
	"macline/internal/timecheck"
	"macline/ledger"
	"macline/station"
	"macline/uart"

	"github.com/spf13/cobra"
)

// The serial session is the console the state machine drives.
var _ board.Console = (*uart.Session)(nil)

// provisionCmd returns the "macline provision" command: run the full
// sequence for the unit currently attached to the station's serial device.
func provisionCmd(cfgPath *string) *cobra.Command {
	var device string
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Assign and burn a hardware address into the attached unit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if device != "" {
				cfg.Device = device
			}

			store, closeStore, err := ledgercmd.OpenStore(cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			session, err := uart.Open(cfg.Device, cfg.Baud)
			if err != nil {
				return fmt.Errorf("open serial device %s: %w", cfg.Device, err)
			}
			defer session.Close()

			boardOpts := []board.Option{
				board.WithCredentials(cfg.Login.User, cfg.Login.Password),
				board.WithFuseRetries(cfg.Retries.Fuse),
			}
			if cfg.IdentityCommand != "" {
				boardOpts = append(boardOpts, board.WithIdentityCommand(cfg.IdentityCommand))
			}
			machine := board.New(session, boardOpts...)

			threshold, err := cfg.NTP.ThresholdDuration()
			if err != nil {
				return err
			}
			checker := timecheck.New(
				timecheck.WithPool(cfg.NTP.Pool),
				timecheck.WithThreshold(threshold),
			)

			st := station.New(machine, newPower(cfg.PowerCommand), ledger.New(store),
				station.WithBootRetries(cfg.Retries.Boot),
				station.WithConflictRetries(cfg.Retries.Conflict),
				station.WithClockCheck(checker.Check),
			)

			unit, err := st.Provision(cmd.Context())
			if err != nil {
				return err
			}

			if unit.Reused {
				fmt.Println(ui.WarnMsg("unit already provisioned, address reused"))
			} else {
				fmt.Println(ui.SuccessMsg("unit provisioned"))
			}
			fmt.Print(ui.KeyValues("  ",
				ui.KV("Unit", unit.UnitID),
				ui.KV("Address", ui.Bold(unit.Addr)),
				ui.KV("Station", cfg.Station),
			))
			return nil
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "Serial device path (overrides config)")
	return cmd
}

// execPower cycles board power by running a configured command.
type execPower struct {
	command string
}

func (p execPower) PowerCycle(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", p.command)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("power command %q: %w", p.command, err)
	}
	// Give the supply a moment to discharge before the caller starts
	// watching for the boot banner.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Second):
		return nil
	}
}

// manualPower asks the operator to cycle power by hand. One long-lived
// goroutine owns the input stream: a wait abandoned on ctx cancellation
// does not strand a reader per call, and an Enter pressed during the
// abandoned wait satisfies the next one.
type manualPower struct {
	prompt io.Writer
	lines  <-chan error
}

func newManualPower(in io.Reader, prompt io.Writer) *manualPower {
	ch := make(chan error)
	go func() {
		r := bufio.NewReader(in)
		for {
			_, err := r.ReadString('\n')
			ch <- err
			if err != nil {
				return
			}
		}
	}()
	return &manualPower{prompt: prompt, lines: ch}
}

func (p *manualPower) PowerCycle(ctx context.Context) error {
	fmt.Fprintln(p.prompt, ui.InfoMsg("power cycle the target board, then press Enter"))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-p.lines:
		return err
	}
}

func newPower(command string) station.Power {
	if command == "" {
		return newManualPower(os.Stdin, os.Stderr)
	}
	return execPower{command: command}
}
