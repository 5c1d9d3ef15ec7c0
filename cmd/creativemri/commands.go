package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kalambet/creativemri/internal/api"
	"github.com/kalambet/creativemri/internal/config"
	"github.com/kalambet/creativemri/internal/creative"
	"github.com/kalambet/creativemri/internal/ingest"
	"github.com/kalambet/creativemri/internal/report"
)

// --- run ---

var runCmd = &cobra.Command{
	Use:   "run <batch-file>",
	Short: "Run a Creative MRI report locally",
	Long: `Run a Creative MRI report in this process and write the report JSON.

The batch file is JSON or YAML holding either a list of ads or an object
with label, ads and redundancy_clusters.

Examples:
  creativemri run ./ads.json
  creativemri run ./q3.yaml --label "Q3 prospecting" --output report.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		label, _ := cmd.Flags().GetString("label")
		output, _ := cmd.Flags().GetString("output")

		req, err := loadRunRequest(args[0], label)
		if err != nil {
			return err
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		defer setupLogging(cfg)()

		mri, err := buildPipeline(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		printStep("Running %d ads", len(req.Ads))
		rep, err := mri.Run(cmd.Context(), req, printProgress)
		if err != nil {
			return err
		}
		return writeReport(rep, output)
	},
}

func init() {
	runCmd.Flags().String("label", "", "report label (default: label from the batch file)")
	runCmd.Flags().StringP("output", "o", "", "write the report to this file instead of stdout")
}

func loadRunRequest(path, label string) (creative.RunRequest, error) {
	req, err := ingest.LoadBatchFile(path)
	if err != nil {
		return creative.RunRequest{}, err
	}
	if label != "" {
		req.Label = label
	}
	return req, nil
}

// --- submit ---

var submitCmd = &cobra.Command{
	Use:   "submit [batch-file]",
	Short: "Queue a report on the running server",
	Long: `Queue a report on the running server, either from a local batch file or
from a batch stored with POST /batches.

Examples:
  creativemri submit ./ads.json --follow
  creativemri submit --batch 7f0c... --label "retargeting"`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		label, _ := cmd.Flags().GetString("label")
		batchID, _ := cmd.Flags().GetString("batch")
		follow, _ := cmd.Flags().GetBool("follow")
		output, _ := cmd.Flags().GetString("output")

		body := api.ReportRequest{Label: label, BatchID: batchID}
		switch {
		case len(args) == 1 && batchID != "":
			return fmt.Errorf("use either a batch file or --batch, not both")
		case len(args) == 1:
			req, err := loadRunRequest(args[0], label)
			if err != nil {
				return err
			}
			body.Label = req.Label
			body.Ads = req.Ads
			body.RedundancyClusters = req.RedundancyClusters
		case batchID == "":
			return fmt.Errorf("a batch file or --batch is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if follow {
			return followStream(cmd.Context(), client, "POST", "/reports?stream=true", body, output)
		}

		resp, err := client.post(cmd.Context(), "/reports", body)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Queued job %s", result["job_id"])
		printStatus("Status", "%s", result["status"])
		if tok := result["stream_token"]; tok != "" {
			printStatus("Events", "%s/jobs/%s/events?token=%s", client.baseURL, result["job_id"], tok)
		}
		return nil
	},
}

func init() {
	submitCmd.Flags().String("label", "", "report label")
	submitCmd.Flags().String("batch", "", "ID of a stored batch")
	submitCmd.Flags().BoolP("follow", "f", false, "stream progress until the report is ready")
	submitCmd.Flags().StringP("output", "o", "", "with --follow, write the report to this file instead of stdout")
}

func followStream(ctx context.Context, client *apiClient, method, path string, body any, output string) error {
	final, err := client.stream(ctx, method, path, body, printProgress)
	if err != nil {
		return err
	}
	if final.Error != "" {
		return fmt.Errorf("job failed: %s", final.Error)
	}
	return writeReport(final.Report, output)
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Show server status, or the status of one job",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return showServerStatus(cmd.Context())
		}
		follow, _ := cmd.Flags().GetBool("follow")
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		id := url.PathEscape(args[0])
		if follow {
			return followStream(cmd.Context(), client, "GET", "/jobs/"+id+"/events", nil, output)
		}

		resp, err := client.get(cmd.Context(), "/jobs/"+id)
		if err != nil {
			return err
		}
		var job api.JobView
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}
		printJob(job)
		if len(job.Report) > 0 && string(job.Report) != "null" && output != "" {
			return writeRaw(job.Report, output)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolP("follow", "f", false, "stream progress until the job finishes")
	statusCmd.Flags().StringP("output", "o", "", "write the finished report to this file")
}

func showServerStatus(ctx context.Context) error {
	client, err := newAPIClient()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
		return nil
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		return nil
	}
	printStatus("Server", "running at %s", client.baseURL)

	for _, st := range []string{"pending", "running"} {
		jobsResp, err := client.get(ctx, "/jobs?limit=100&status="+st)
		if err != nil {
			continue
		}
		var jobs []json.RawMessage
		if decodeJSON(jobsResp, &jobs) == nil {
			printStatus("Jobs "+st, "%s", countLabel(len(jobs), 100))
		}
	}
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}

// --- jobs ---

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List recent report jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		q := url.Values{}
		q.Set("limit", strconv.Itoa(limit))
		if status != "" {
			q.Set("status", status)
		}
		resp, err := client.get(cmd.Context(), "/jobs?"+q.Encode())
		if err != nil {
			return err
		}
		var jobs []api.JobView
		if err := decodeJSON(resp, &jobs); err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("No jobs found.")
			return nil
		}
		for _, j := range jobs {
			fmt.Println(jobLine(j))
		}
		return nil
	},
}

func init() {
	jobsCmd.Flags().String("status", "", "filter by status (pending, running, complete, failed)")
	jobsCmd.Flags().Int("limit", 20, "maximum number of jobs to list")
}

// --- output ---

func writeReport(rep *report.Report, output string) error {
	if rep == nil {
		return fmt.Errorf("no report in result")
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return writeRaw(data, output)
}

func writeRaw(data []byte, output string) error {
	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return err
	}
	if output != "" {
		printSuccess("Report written to %s", output)
	}
	return nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		printStatus("File", "%s", config.FilePath())
		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "("+k.EnvVar+")"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value, restoring its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
