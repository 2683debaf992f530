package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"

	"order-approval-service/internal/config"
	"order-approval-service/internal/dispatch"
	"order-approval-service/internal/logging"
	"order-approval-service/internal/modal"
	"order-approval-service/internal/orchestrator"
)

// starter drives instances from the command line for demo/testing purposes.
// In production orders are created through the api.
func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type env struct {
	cfg    *config.Config
	logger zerolog.Logger
	tc     client.Client
	svc    *orchestrator.Service
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	var e env

	root := &cobra.Command{
		Use:           "starter",
		Short:         "Create and decide order approval workflows",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			e.cfg = cfg
			e.logger = logging.New(cfg.Log, "order-approval-starter")

			e.tc, err = client.Dial(client.Options{
				HostPort:  cfg.Temporal.HostPort,
				Namespace: cfg.Temporal.Namespace,
				Logger:    logging.NewTemporalLogger(e.logger),
			})
			if err != nil {
				return fmt.Errorf("unable to create Temporal client: %w", err)
			}
			e.svc = orchestrator.New(dispatch.New(e.tc, nil), orchestrator.Options{
				TaskQueue:       cfg.Temporal.TaskQueue,
				Approvers:       cfg.Approvers,
				DecisionTimeout: cfg.DecisionTimeout,
				Activity:        cfg.Activity,
			}, nil)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if e.tc != nil {
				e.tc.Close()
			}
		},
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (yaml/json/toml)")

	root.AddCommand(createCmd(&e), decisionCmd(&e, "approve"), decisionCmd(&e, "reject"), statusCmd(&e))
	return root
}

func createCmd(e *env) *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "create ORDER_ID",
		Short: "Start the approval workflow for an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			ref, err := e.svc.StartOrder(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), orchestrator.StartedAck(ref))
			if wait <= 0 {
				return nil
			}

			wctx, wcancel := context.WithTimeout(cmd.Context(), wait)
			defer wcancel()
			var result modal.OrderStatus
			if err := e.tc.GetWorkflow(wctx, ref.WorkflowID, ref.RunID).Get(wctx, &result); err != nil {
				return fmt.Errorf("unable to get workflow result: %w", err)
			}
			return printJSON(cmd, result)
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 0, "wait up to this long for the workflow result")
	return cmd
}

func decisionCmd(e *env, name string) *cobra.Command {
	var approverID string
	cmd := &cobra.Command{
		Use:   name + " ORDER_ID",
		Short: "Send a " + name + " decision for an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			send := e.svc.Approve
			if name == "reject" {
				send = e.svc.Reject
			}
			ack, err := send(ctx, args[0], approverID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ack)
			return nil
		},
	}
	cmd.Flags().StringVar(&approverID, "approver", "", "approver id sending the decision")
	_ = cmd.MarkFlagRequired("approver")
	return cmd
}

func statusCmd(e *env) *cobra.Command {
	var audit bool
	cmd := &cobra.Command{
		Use:   "status ORDER_ID",
		Short: "Print the current status (or audit log) of an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			if audit {
				events, err := e.svc.Audit(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, events)
			}
			st, err := e.svc.Status(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, st)
		},
	}
	cmd.Flags().BoolVar(&audit, "audit", false, "print the audit log instead of the status")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
