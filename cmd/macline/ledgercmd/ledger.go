// Package ledgercmd holds the "macline ledger" subcommands for inspecting
// and seeding the shared address ledger.
package ledgercmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"macline"
	"macline/cmd/macline/ui"
	"macline/config"
	"macline/ledger"
	"macline/ledger/filestore"
	"macline/ledger/sqlstore"

	"github.com/spf13/cobra"
)

// Cmd returns the "macline ledger" command tree.
func Cmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and seed the shared address ledger",
	}
	cmd.AddCommand(initCmd(cfgPath))
	cmd.AddCommand(listCmd(cfgPath))
	cmd.AddCommand(statusCmd(cfgPath))
	return cmd
}

// OpenStore opens the configured ledger store. The returned func releases
// any underlying resources; it is a no-op for the file store.
func OpenStore(cfg *config.Config) (ledger.Store, func(), error) {
	switch cfg.Ledger.Kind {
	case "file":
		return filestore.New(cfg.Ledger.Path), func() {}, nil
	case "sqlite":
		store, err := sqlstore.Open(cfg.Ledger.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported ledger kind %q", cfg.Ledger.Kind)
	}
}

func initCmd(cfgPath *string) *cobra.Command {
	var fromFile string
	cmd := &cobra.Command{
		Use:   "init [address...]",
		Short: "Seed the ledger with free addresses",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}

			addrs := args
			if fromFile != "" {
				fileAddrs, err := readAddrFile(fromFile)
				if err != nil {
					return err
				}
				addrs = append(addrs, fileAddrs...)
			}
			if len(addrs) == 0 {
				return fmt.Errorf("no addresses given: pass them as arguments or via --from")
			}

			switch cfg.Ledger.Kind {
			case "file":
				if err := filestore.Init(cfg.Ledger.Path, addrs); err != nil {
					return err
				}
			case "sqlite":
				store, err := sqlstore.Open(cfg.Ledger.Path)
				if err != nil {
					return err
				}
				defer store.Close()
				if err := store.Seed(cmd.Context(), addrs); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unsupported ledger kind %q", cfg.Ledger.Kind)
			}

			fmt.Println(ui.SuccessMsg("seeded %d addresses into %s ledger %s",
				len(addrs), cfg.Ledger.Kind, cfg.Ledger.Path))
			return nil
		},
	}
	cmd.Flags().StringVar(&fromFile, "from", "", "File with one address per line")
	return cmd
}

func listCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every ledger record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := fetch(cmd, cfgPath)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(snap.Records))
			for _, rec := range snap.Records {
				ts := ""
				if !rec.AssignedAt.IsZero() {
					ts = rec.AssignedAt.Local().Format("2006-01-02 15:04")
				}
				rows = append(rows, []string{rec.Addr, ui.Status(rec.Status.String()), rec.Owner, ts})
			}
			fmt.Println(ui.Table([]string{"ADDRESS", "STATUS", "OWNER", "ASSIGNED"}, rows))
			return nil
		},
	}
}

func statusCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show ledger totals and revision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := fetch(cmd, cfgPath)
			if err != nil {
				return err
			}

			free, assigned := 0, 0
			for _, rec := range snap.Records {
				if rec.Status == macline.StatusFree {
					free++
				} else {
					assigned++
				}
			}
			fmt.Print(ui.KeyValues("  ",
				ui.KV("Records", fmt.Sprintf("%d", len(snap.Records))),
				ui.KV("Free", ui.Success(fmt.Sprintf("%d", free))),
				ui.KV("Assigned", ui.Accent(fmt.Sprintf("%d", assigned))),
				ui.KV("Revision", ui.Muted(string(snap.Revision))),
			))
			return nil
		},
	}
}

func fetch(cmd *cobra.Command, cfgPath *string) (macline.Snapshot, error) {
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return macline.Snapshot{}, err
	}
	store, closeStore, err := OpenStore(cfg)
	if err != nil {
		return macline.Snapshot{}, err
	}
	defer closeStore()
	return store.Fetch(cmd.Context())
}

func readAddrFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read address file: %w", err)
	}
	defer f.Close()

	var addrs []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		addrs = append(addrs, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read address file: %w", err)
	}
	return addrs, nil
}
