package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/sanjabh11/consultflow/internal/progress"
	"github.com/sanjabh11/consultflow/model"
)

// --- Consultations ---

func (a *app) listCmd() *cobra.Command {
	var status, types, phases, priorities []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List consultations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			for key, values := range map[string][]string{
				"status": status, "type": types, "phase": phases, "priority": priorities,
			} {
				for _, v := range values {
					q.Add(key, v)
				}
			}
			path := "/consultations"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			var resp listResponse[model.Workflow]
			if err := a.client().do(cmd.Context(), http.MethodGet, path, nil, &resp); err != nil {
				return err
			}
			return a.render(resp.Data, func() { a.workflowTable(resp.Data) })
		},
	}
	cmd.Flags().StringSliceVar(&status, "status", nil, "status filter (repeatable)")
	cmd.Flags().StringSliceVar(&types, "type", nil, "consultation type filter (repeatable)")
	cmd.Flags().StringSliceVar(&phases, "phase", nil, "phase filter (repeatable)")
	cmd.Flags().StringSliceVar(&priorities, "priority", nil, "priority filter (repeatable)")
	return cmd
}

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a consultation and its milestones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var wf model.Workflow
			if err := a.client().do(cmd.Context(), http.MethodGet, "/consultations/"+args[0], nil, &wf); err != nil {
				return err
			}
			return a.render(wf, func() {
				a.workflowDetail(wf)
				a.milestoneTable(wf.Milestones)
			})
		},
	}
}

func (a *app) createCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a consultation from a JSON file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var body json.RawMessage
			if err := json.Unmarshal(data, &body); err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}

			var wf model.Workflow
			if err := a.client().do(cmd.Context(), http.MethodPost, "/consultations", body, &wf); err != nil {
				return err
			}
			return a.render(wf, func() { a.workflowDetail(wf) })
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "workflow JSON file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (a *app) advanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "advance <id>",
		Short: "Complete the current milestone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Milestones []model.Milestone `json:"milestones"`
			}
			if err := a.client().do(cmd.Context(), http.MethodPost, "/consultations/"+args[0]+"/milestones/advance", nil, &resp); err != nil {
				return err
			}
			return a.render(resp, func() { a.milestoneTable(resp.Milestones) })
		},
	}
}

// --- Consent ---

func (a *app) consentCmd() *cobra.Command {
	var (
		pc       model.PartyConsent
		withheld bool
	)
	cmd := &cobra.Command{
		Use:   "consent <id>",
		Short: "Record a party's consent decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pc.ConsentGiven = !withheld
			var status model.ConsentStatus
			if err := a.client().do(cmd.Context(), http.MethodPost, "/consultations/"+args[0]+"/consents", pc, &status); err != nil {
				return err
			}
			return a.render(status, func() { a.consentTable(status) })
		},
	}
	cmd.Flags().StringVar(&pc.PartyID, "party", "", "party id")
	cmd.Flags().StringVar(&pc.PartyName, "party-name", "", "party display name")
	cmd.Flags().BoolVar(&withheld, "withheld", false, "record consent as withheld")
	cmd.Flags().StringArrayVar(&pc.Conditions, "condition", nil, "consent condition (repeatable)")
	cmd.Flags().StringVar(&pc.Authorization, "authorization", "", "authorizing resolution or reference")
	_ = cmd.MarkFlagRequired("party")
	return cmd
}

func (a *app) finalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <id>",
		Short: "Finalize majority consent and complete the consultation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var status model.ConsentStatus
			if err := a.client().do(cmd.Context(), http.MethodPost, "/consultations/"+args[0]+"/consents/finalize", nil, &status); err != nil {
				return err
			}
			return a.render(status, func() { a.consentTable(status) })
		},
	}
}

// --- Tracking ---

func (a *app) trackCmd() *cobra.Command {
	track := &cobra.Command{Use: "track", Short: "Manage progress tracking"}

	var interval string
	start := &cobra.Command{
		Use:   "start <id>",
		Short: "Start periodic progress evaluation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{}
			if interval != "" {
				body["interval"] = interval
			}
			var tw progress.TrackedWorkflow
			if err := a.client().do(cmd.Context(), http.MethodPost, "/consultations/"+args[0]+"/tracking", body, &tw); err != nil {
				return err
			}
			return a.render(tw, func() { a.trackedTable([]progress.TrackedWorkflow{tw}) })
		},
	}
	start.Flags().StringVar(&interval, "interval", "", "evaluation interval such as 30m")

	stop := &cobra.Command{
		Use:   "stop <id>",
		Short: "Stop progress evaluation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client().do(cmd.Context(), http.MethodDelete, "/consultations/"+args[0]+"/tracking", nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "tracking stopped for %s\n", args[0])
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List tracked consultations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp listResponse[progress.TrackedWorkflow]
			if err := a.client().do(cmd.Context(), http.MethodGet, "/tracking", nil, &resp); err != nil {
				return err
			}
			return a.render(resp.Data, func() { a.trackedTable(resp.Data) })
		},
	}

	track.AddCommand(start, stop, list)
	return track
}

func (a *app) snapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot <id>",
		Short: "Compute a progress snapshot now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var snap model.Snapshot
			if err := a.client().do(cmd.Context(), http.MethodPost, "/consultations/"+args[0]+"/progress/snapshots", nil, &snap); err != nil {
				return err
			}
			return a.render(snap, func() { a.snapshotTable(snap) })
		},
	}
}

// --- Alerts ---

func (a *app) alertsCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "alerts <id>",
		Short: "List alerts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/consultations/" + args[0] + "/alerts"
			if all {
				path += "?include_acknowledged=true"
			}
			var resp listResponse[model.Alert]
			if err := a.client().do(cmd.Context(), http.MethodGet, path, nil, &resp); err != nil {
				return err
			}
			return a.render(resp.Data, func() { a.alertTable(resp.Data) })
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include acknowledged alerts")
	return cmd
}

func (a *app) ackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ack <id> <alert-id>",
		Short: "Acknowledge an alert",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var alert model.Alert
			path := "/consultations/" + args[0] + "/alerts/" + args[1] + "/acknowledge"
			if err := a.client().do(cmd.Context(), http.MethodPost, path, nil, &alert); err != nil {
				return err
			}
			return a.render(alert, func() { a.alertTable([]model.Alert{alert}) })
		},
	}
}

// --- Reports ---

func (a *app) reportCmd() *cobra.Command {
	var reportType string
	cmd := &cobra.Command{
		Use:   "report <id>",
		Short: "Generate a progress report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := model.ReportType(reportType)
			if !rt.Valid() {
				return fmt.Errorf("unknown report type %q", reportType)
			}
			var report model.Report
			body := map[string]any{"type": rt}
			if err := a.client().do(cmd.Context(), http.MethodPost, "/consultations/"+args[0]+"/reports", body, &report); err != nil {
				return err
			}
			return a.render(report, func() { a.reportView(report) })
		},
	}
	cmd.Flags().StringVar(&reportType, "type", string(model.ReportWeekly), "daily, weekly, monthly, milestone or final")
	return cmd
}
