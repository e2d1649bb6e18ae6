package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	patrowl "github.com/D-E-N/PatrowlManager"
	"github.com/D-E-N/PatrowlManager/importer"
	"github.com/D-E-N/PatrowlManager/queue"
	"github.com/D-E-N/PatrowlManager/service"
)

var (
	flagImportEngine   string
	flagImportOwner    string
	flagImportMinLevel string
	flagImportWait     bool
	flagImportTimeout  time.Duration
)

var importCmd = &cobra.Command{
	Use:   "import <report>",
	Short: "Queue a scanner report for import",
	Long: `Store a scanner report in the media root and queue it for a worker,
as an upload to POST /findings/import does. The job id is printed. With
--wait the command blocks until the worker publishes the job's result.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(true)
		if err != nil {
			return err
		}
		defer a.Close()

		file, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer patrowl.CloseWithLog(file, a.logger, "report")

		jobs := queue.NewRedisClientFrom(a.redis)
		svc := service.New(a.repo,
			service.WithLogger(a.logger),
			service.WithImports(importer.NewUploads(a.cfg.Storage.MediaRoot), jobs, a.cfg.Worker.Queue),
			service.WithResults(jobs),
		)
		form := service.ImportForm{
			OwnerID:  flagImportOwner,
			Engine:   flagImportEngine,
			MinLevel: flagImportMinLevel,
			File:     file,
		}

		if !flagImportWait {
			jobID, err := svc.Import(cmd.Context(), form)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), jobID)
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), flagImportTimeout)
		defer cancel()
		res, err := svc.ImportAndWait(ctx, form)
		if err != nil {
			return err
		}
		return renderImportResult(cmd.OutOrStdout(), res)
	},
}

func init() {
	importCmd.Flags().StringVarP(&flagImportEngine, "engine", "e", "", "report format: "+fmt.Sprint(importer.Engines()))
	importCmd.Flags().StringVar(&flagImportOwner, "owner", "", "id of the user the findings belong to")
	importCmd.Flags().StringVar(&flagImportMinLevel, "min-level", "", "drop records less severe than this level")
	importCmd.Flags().BoolVar(&flagImportWait, "wait", false, "wait for the worker's result")
	importCmd.Flags().DurationVar(&flagImportTimeout, "timeout", 5*time.Minute, "how long --wait waits")
	_ = importCmd.MarkFlagRequired("engine")
	_ = importCmd.MarkFlagRequired("owner")
}

// renderImportResult prints a job result. A failed import is returned as an
// error so the command exits non-zero.
func renderImportResult(w io.Writer, res *queue.Result) error {
	if res.Error != "" {
		return fmt.Errorf("import %s failed on worker %s: %s", res.JobID, res.WorkerID, res.Error)
	}
	took := time.Duration(res.CompletedAt-res.StartedAt) * time.Millisecond
	_, err := fmt.Fprintf(w, "job %s imported into scan %s in %s: %d created, %d updated, %d skipped\n",
		res.JobID, res.ScanID, took, res.Created, res.Updated, res.Skipped)
	return err
}
