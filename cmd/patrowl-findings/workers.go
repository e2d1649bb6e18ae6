package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	patrowl "github.com/D-E-N/PatrowlManager"
	"github.com/D-E-N/PatrowlManager/queue"
	"github.com/D-E-N/PatrowlManager/registry"
)

var (
	flagWorkersName  string
	flagWorkersWatch bool
)

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "List running import workers",
	Long: `List the import workers announced in the etcd registry. Without
registry.endpoints the workers with a live heartbeat in Redis are listed
instead. With --watch the list is printed again after every registry change.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := setup(false)
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()
		if !a.cfg.Registry.Enabled() {
			if flagWorkersWatch {
				return errors.New("--watch requires registry.endpoints")
			}
			if a.redis == nil {
				return errors.New("no registry configured and redis is unreachable")
			}
			metas, err := queue.NewRedisClientFrom(a.redis).ListWorkers(ctx)
			if err != nil {
				return err
			}
			return renderWorkers(out, queueWorkerRows(metas))
		}

		reg, err := registry.NewClient(a.cfg.Registry, a.logger)
		if err != nil {
			return err
		}
		defer patrowl.CloseWithLog(reg, a.logger, "registry client")

		if flagWorkersWatch {
			name := flagWorkersName
			if name == "" {
				name = a.cfg.Telemetry.ServiceName
			}
			return watchWorkers(ctx, reg, name, out)
		}
		infos, err := discoverWorkers(ctx, reg, flagWorkersName)
		if err != nil {
			return err
		}
		return renderWorkers(out, registryWorkerRows(infos))
	},
}

func init() {
	workersCmd.Flags().StringVar(&flagWorkersName, "name", "", "only list workers of this deployment name")
	workersCmd.Flags().BoolVar(&flagWorkersWatch, "watch", false, "print the list again on every change")
}

// discoverWorkers lists the workers of one deployment, or of all of them
// when name is empty.
func discoverWorkers(ctx context.Context, reg registry.Registry, name string) ([]registry.ServiceInfo, error) {
	if name == "" {
		return reg.DiscoverAll(ctx, registry.KindWorker)
	}
	return reg.Discover(ctx, registry.KindWorker, name)
}

// watchWorkers renders every snapshot the registry sends until ctx ends.
func watchWorkers(ctx context.Context, reg registry.Registry, name string, w io.Writer) error {
	updates, err := reg.Watch(ctx, registry.KindWorker, name)
	if err != nil {
		return err
	}
	for infos := range updates {
		fmt.Fprintf(w, "%s\n", time.Now().Format(time.DateTime))
		if err := renderWorkers(w, registryWorkerRows(infos)); err != nil {
			return err
		}
	}
	return nil
}

type workerRow struct {
	ID          string
	Queue       string
	Engines     string
	Concurrency string
	Version     string
	StartedAt   time.Time
}

func registryWorkerRows(infos []registry.ServiceInfo) []workerRow {
	rows := make([]workerRow, 0, len(infos))
	for _, info := range infos {
		rows = append(rows, workerRow{
			ID:          info.InstanceID,
			Queue:       info.Metadata[registry.MetaQueue],
			Engines:     info.Metadata[registry.MetaEngines],
			Concurrency: info.Metadata[registry.MetaConcurrency],
			Version:     info.Version,
			StartedAt:   info.StartedAt,
		})
	}
	return rows
}

func queueWorkerRows(metas []queue.WorkerMeta) []workerRow {
	rows := make([]workerRow, 0, len(metas))
	for _, m := range metas {
		rows = append(rows, workerRow{
			ID:          m.ID,
			Queue:       m.Queue,
			Engines:     strings.Join(m.Engines, ","),
			Concurrency: strconv.Itoa(m.Concurrency),
			Version:     m.Version,
			StartedAt:   time.UnixMilli(m.StartedAt),
		})
	}
	return rows
}

func renderWorkers(w io.Writer, rows []workerRow) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No workers running.")
		return err
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })

	data := [][]string{{"Worker", "Queue", "Engines", "Concurrency", "Version", "Started"}}
	for _, r := range rows {
		started := "-"
		if !r.StartedAt.IsZero() {
			started = r.StartedAt.Local().Format(time.DateTime)
		}
		data = append(data, []string{r.ID, r.Queue, r.Engines, r.Concurrency, r.Version, started})
	}

	out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, out)
	return err
}
