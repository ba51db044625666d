package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sovrium/sovrium/internal/diagram"
	"github.com/sovrium/sovrium/internal/expressions"
	"github.com/sovrium/sovrium/internal/panel"
	"github.com/sovrium/sovrium/internal/run"
	"github.com/sovrium/sovrium/internal/scheduler"
	"github.com/sovrium/sovrium/internal/store"
	"github.com/sovrium/sovrium/pkg/mcp"
	"github.com/sovrium/sovrium/pkg/schema"
)

type cli struct {
	v   *viper.Viper
	cfg Config
}

func (c *cli) setupConfig(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig(c.v)
	if err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}

func (c *cli) serve(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	comp, err := wire(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer comp.Close()
	logger := comp.logger

	if c.cfg.Scheduler {
		sched, err := scheduler.NewScheduler(
			comp.app.AutomationsByTrigger(schema.TriggerServiceSchedule),
			comp.executor,
			scheduler.Config{Logger: logger},
		)
		if err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	}

	queue := scheduler.NewReplayQueue(comp.store, comp.executor, scheduler.ReplayConfig{
		Interval: c.cfg.ReplayInterval,
		Logger:   logger,
	})
	if err := queue.Start(ctx); err != nil {
		return err
	}
	defer queue.Stop()

	if c.cfg.PanelAddr != "" {
		p := panel.NewPanelServer(panel.PanelDeps{
			Runner:      comp.executor,
			Automations: comp.app,
			Store:       comp.store,
			Hub:         comp.hub,
			Logger:      logger,
		})
		go func() {
			if err := p.Serve(ctx, c.cfg.PanelAddr); err != nil {
				logger.Error("panel stopped", slog.String("error", err.Error()))
				stop()
			}
		}()
	}

	if c.cfg.MCP {
		srv := mcp.NewServer(mcp.ServerDeps{
			Runner:      comp.executor,
			Automations: comp.app,
			Store:       comp.store,
			Hub:         comp.hub,
			Logger:      logger,
		})
		logger.Info("serving MCP on stdio")
		if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// unavailableRecords lets validate register database actions without a store.
type unavailableRecords struct{}

func (unavailableRecords) CreateRecord(context.Context, schema.Table, map[string]any) (map[string]any, error) {
	return nil, schema.NewError(schema.ErrCodeStore, "no store configured")
}

func (c *cli) validate(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger(c.cfg)
	if err != nil {
		return err
	}
	cel, err := expressions.NewCELEngine()
	if err != nil {
		return err
	}
	l, err := loadApp(cmd.Context(), c.cfg, logger, unavailableRecords{}, cel)
	if err != nil {
		return err
	}
	defer l.plugins.StopAll(context.Background())
	a := l.app
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d automation(s), %d table(s), %d connection(s)\n",
		a.Name, len(a.Automations), len(a.Tables), len(a.Connections))
	return nil
}

func (c *cli) triggerCmd() *cobra.Command {
	var payload string
	cmd := &cobra.Command{
		Use:   "trigger <automation>",
		Short: "Trigger an automation by name or id and print the run.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body any = map[string]any{}
			if payload != "" {
				if err := json.Unmarshal([]byte(payload), &body); err != nil {
					return fmt.Errorf("invalid payload: %w", err)
				}
			}
			return c.withComponents(cmd, func(ctx context.Context, comp *components) error {
				r, err := comp.executor.TriggerByName(ctx, args[0], body)
				if err != nil {
					return err
				}
				return printRun(cmd.OutOrStdout(), r)
			})
		},
	}
	cmd.Flags().StringVar(&payload, "payload", "", "Trigger payload as JSON.")
	return cmd
}

func (c *cli) replay(cmd *cobra.Command, args []string) error {
	return c.withComponents(cmd, func(ctx context.Context, comp *components) error {
		r, err := comp.executor.Replay(ctx, args[0])
		if err != nil {
			return err
		}
		return printRun(cmd.OutOrStdout(), r)
	})
}

func (c *cli) runsCmd() *cobra.Command {
	var (
		automation string
		status     string
		queued     bool
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List runs, newest first.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withComponents(cmd, func(ctx context.Context, comp *components) error {
				filter := store.RunFilter{Status: schema.RunStatus(status), Limit: limit}
				if automation != "" {
					au, err := comp.app.FindAutomation(automation)
					if err != nil {
						return err
					}
					filter.AutomationID = au.ID
				}
				if cmd.Flags().Changed("queued") {
					filter.ToReplay = &queued
				}
				runs, err := comp.store.ListRuns(ctx, filter)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), runs)
			})
		},
	}
	cmd.Flags().StringVar(&automation, "automation", "", "Name or id of the automation.")
	cmd.Flags().StringVar(&status, "status", "", "Run status: playing, success, stopped or filtered.")
	cmd.Flags().BoolVar(&queued, "queued", false, "Only runs queued (or, with =false, not queued) for replay.")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs.")
	return cmd
}

func (c *cli) diagramCmd() *cobra.Command {
	var (
		runID  string
		format string
	)
	cmd := &cobra.Command{
		Use:   "diagram <automation>",
		Short: "Draw an automation, optionally with the steps of a run.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "mermaid" && format != "ascii" {
				return fmt.Errorf("unknown format %q", format)
			}
			return c.withComponents(cmd, func(ctx context.Context, comp *components) error {
				au, err := comp.app.FindAutomation(args[0])
				if err != nil {
					return err
				}
				var r *run.Run
				if runID != "" {
					if r, err = comp.store.Get(ctx, runID); err != nil {
						return err
					}
				}
				model, err := diagram.Build(au, r)
				if err != nil {
					return err
				}
				out := diagram.RenderMermaid(model)
				if format == "ascii" {
					out = diagram.RenderASCII(model)
				}
				_, err = io.WriteString(cmd.OutOrStdout(), out)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "Overlay the steps of this run.")
	cmd.Flags().StringVar(&format, "format", "mermaid", "Output format: mermaid or ascii.")
	return cmd
}

func (c *cli) withComponents(cmd *cobra.Command, fn func(context.Context, *components) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	comp, err := wire(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := comp.Close(); err != nil {
			comp.logger.Error("close store failed", slog.String("error", err.Error()))
		}
	}()
	return fn(ctx, comp)
}

func printRun(w io.Writer, r *run.Run) error {
	return printJSON(w, struct {
		Run   *run.Run `json:"run"`
		Error string   `json:"error,omitempty"`
	}{r, r.ErrorMessage()})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

