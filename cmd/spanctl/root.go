package main

import (
	"encoding/json"
	"time"

	"github.com/OFFIS-RIT/spans/internal/bootstrap"
	"github.com/OFFIS-RIT/spans/internal/db"
	"github.com/OFFIS-RIT/spans/internal/queue"
	"github.com/OFFIS-RIT/spans/internal/util"
	"github.com/OFFIS-RIT/spans/pkg/common"
	"github.com/OFFIS-RIT/spans/pkg/graph"

	"github.com/spf13/cobra"
)

// operator is stamped on writes made from the command line.
var operator = common.Actor{ID: "spanctl"}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "spanctl",
		Short:         "Operate the span graph: migrations, duplicates, merges and repairs",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		newMigrateCmd(),
		newSeedTypesCmd(),
		newDuplicatesCmd(),
		newMergeCmd(),
		newRepairCmd(),
	)
	return root
}

func openEngine(cmd *cobra.Command) (*bootstrap.Engine, error) {
	cfg, err := bootstrap.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return bootstrap.Open(cmd.Context(), cfg)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newMigrateCmd() *cobra.Command {
	var down int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the postgres schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			url := util.GetEnv("DATABASE_URL")
			if down > 0 {
				return db.Rollback(url, down)
			}
			return db.Migrate(url)
		},
	}
	cmd.Flags().IntVar(&down, "down", 0, "roll back this many migrations instead")
	return cmd
}

func newSeedTypesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed-types",
		Short: "Upsert the default connection types and list the registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.Graph.SeedConnectionTypes(cmd.Context()); err != nil {
				return err
			}
			return printJSON(cmd, e.Graph.ConnectionTypes())
		},
	}
}

func newDuplicatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "duplicates",
		Short: "List duplicate groups with keep/delete and merge suggestions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			groups, err := e.Graph.FindGroups(cmd.Context())
			if err != nil {
				return err
			}
			if groups == nil {
				groups = []common.DuplicateGroup{}
			}
			return printJSON(cmd, groups)
		},
	}
}

func newMergeCmd() *cobra.Command {
	var preview bool
	cmd := &cobra.Command{
		Use:   "merge <target> <source>",
		Short: "Merge source into target",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			var res graph.MergeResult
			if preview {
				res, err = e.Graph.PreviewMerge(cmd.Context(), args[0], args[1])
			} else {
				res, err = e.Graph.Merge(cmd.Context(), operator, args[0], args[1])
			}
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().BoolVar(&preview, "preview", false, "report the changes without writing")
	return cmd
}

func newRepairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Bulk repair of zero-connection duplicates",
	}

	var inline bool
	submit := &cobra.Command{
		Use:   "submit",
		Short: "Start a repair run on the worker queue, or inline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			if inline {
				run, err := e.Graph.CreateRepairRun(ctx, operator)
				if err != nil {
					return err
				}
				report, err := e.Graph.RunRepair(ctx, run.RunID)
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			}

			conn := queue.Init()
			defer conn.Close()
			ch, err := conn.Channel()
			if err != nil {
				return err
			}
			defer ch.Close()
			if err := queue.SetupQueues(ch, queue.Queues, util.GetEnvSeconds("QUEUE_RETRY_DELAY_SECONDS", 10*time.Second)); err != nil {
				return err
			}
			run, err := e.Graph.SubmitRepair(ctx, operator, queue.NewRepairPublisher(ch))
			if err != nil {
				return err
			}
			return printJSON(cmd, run)
		},
	}
	submit.Flags().BoolVar(&inline, "inline", false, "run the repair in this process")

	status := &cobra.Command{
		Use:   "status <run_id>",
		Short: "Show the progress of a repair run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			run, err := e.Graph.RepairStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, util.BuildRepairProgress(run, time.Now()))
		},
	}

	cmd.AddCommand(submit, status)
	return cmd
}
