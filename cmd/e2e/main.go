// Package main provides the e2e smoke-test runner CLI. It exercises a
// running HydroFind instance over its HTTP API: submission, polling,
// cache behavior, and artifact download.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		apiURL        string
		query         string
		outputJSON    bool
		pollInterval  time.Duration
		globalTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "e2e [scenario]",
		Short: "Run hydrofind smoke tests",
		Long: `Run end-to-end smoke tests against a running HydroFind service.

Available scenarios:
  single    - Submit one query and poll until a terminal state
  batch     - Submit a two-line batch and poll until a terminal state
  cache     - Submit the same query twice and expect a cache answer
  download  - Submit, wait for completion, and fetch the spreadsheet
  all       - Run all scenarios (default)

Examples:
  e2e                              # Run all scenarios
  e2e single                       # Run one scenario
  e2e --json                       # Output results as JSON
  e2e --api http://host:8080       # Custom API URL
`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scenarioName := "all"
			if len(args) > 0 {
				scenarioName = args[0]
			}

			client := &client{
				baseURL:      strings.TrimRight(apiURL, "/"),
				query:        query,
				pollInterval: pollInterval,
				http:         &http.Client{Timeout: 30 * time.Second},
			}
			return run(scenarioName, client, outputJSON, globalTimeout)
		},
	}

	cmd.Flags().StringVar(&apiURL, "api", "http://localhost:8080", "HydroFind API URL")
	cmd.Flags().StringVar(&query, "query", "Фитинг DKOL DN10 90°", "Query text used by the scenarios")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Output results as JSON")
	cmd.Flags().DurationVar(&pollInterval, "poll", time.Second, "Status poll interval")
	cmd.Flags().DurationVar(&globalTimeout, "global-timeout", 10*time.Minute, "Global timeout for all scenarios")

	cmd.AddCommand(listCmd())

	return cmd
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available scenarios",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available scenarios:")
			fmt.Println()
			fmt.Println("  single    Submit one query and poll until a terminal state")
			fmt.Println("  batch     Submit a two-line batch and poll until a terminal state")
			fmt.Println("  cache     Submit the same query twice and expect a cache answer")
			fmt.Println("  download  Submit, wait for completion, and fetch the spreadsheet")
			fmt.Println()
			fmt.Println("Use 'e2e all' to run all scenarios.")
		},
	}
}

// result is the outcome of one scenario run.
type result struct {
	Scenario string        `json:"scenario"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ms"`
}

type scenario struct {
	name string
	run  func(ctx context.Context, c *client) error
}

func scenarios() []scenario {
	return []scenario{
		{"single", runSingle},
		{"batch", runBatch},
		{"cache", runCache},
		{"download", runDownload},
	}
}

func run(scenarioName string, c *client, outputJSON bool, globalTimeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), globalTimeout)
	defer cancel()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	all := scenarios()
	var toRun []scenario
	if scenarioName == "all" {
		toRun = all
	} else {
		for _, s := range all {
			if s.name == scenarioName {
				toRun = []scenario{s}
			}
		}
		if toRun == nil {
			return fmt.Errorf("unknown scenario: %s", scenarioName)
		}
	}

	results := make([]result, 0, len(toRun))
	allPassed := true

	for _, s := range toRun {
		if ctx.Err() != nil {
			break
		}
		if !outputJSON {
			fmt.Printf("Running %s... ", s.name)
		}

		start := time.Now()
		err := s.run(ctx, c)
		r := result{Scenario: s.name, Success: err == nil, Duration: time.Since(start)}
		if err != nil {
			r.Error = err.Error()
			allPassed = false
			if !outputJSON {
				fmt.Printf("FAILED: %v\n", err)
			}
		} else if !outputJSON {
			fmt.Println("PASSED")
		}
		results = append(results, r)
	}

	if outputJSON {
		data, _ := json.MarshalIndent(results, "", "  ")
		fmt.Println(string(data))
	} else {
		passed := 0
		for _, r := range results {
			if r.Success {
				passed++
			}
		}
		fmt.Println(strings.Repeat("─", 50))
		fmt.Printf("Total: %d | Passed: %d | Failed: %d\n", len(results), passed, len(results)-passed)
	}

	if !allPassed {
		return fmt.Errorf("some scenarios failed")
	}
	return nil
}

// --- scenarios ---

func runSingle(ctx context.Context, c *client) error {
	id, err := c.submit(ctx, "/api/", map[string]any{"query": c.query})
	if err != nil {
		return err
	}
	status, err := c.waitTerminal(ctx, id)
	if err != nil {
		return err
	}
	if status == "timeout" {
		return fmt.Errorf("task %s timed out server-side", id)
	}
	return nil
}

func runBatch(ctx context.Context, c *client) error {
	text := c.query + " - 2шт\nМуфта interlock DN25 - 1шт"
	id, err := c.submit(ctx, "/api/batch", map[string]any{"text": text})
	if err != nil {
		return err
	}
	_, err = c.waitTerminal(ctx, id)
	return err
}

func runCache(ctx context.Context, c *client) error {
	id, err := c.submit(ctx, "/api/", map[string]any{"query": c.query})
	if err != nil {
		return err
	}
	status, err := c.waitTerminal(ctx, id)
	if err != nil {
		return err
	}
	if status != "completed" {
		return fmt.Errorf("first submission ended %s, cannot verify cache", status)
	}

	// The repeat must answer instantly from cache.
	body, err := c.post(ctx, "/api/", map[string]any{"query": c.query})
	if err != nil {
		return err
	}
	if body["source"] != "cache" {
		return fmt.Errorf("expected cache answer, got source=%v status=%v", body["source"], body["status"])
	}
	return nil
}

func runDownload(ctx context.Context, c *client) error {
	id, err := c.submit(ctx, "/api/", map[string]any{"query": c.query})
	if err != nil {
		return err
	}
	status, err := c.waitTerminal(ctx, id)
	if err != nil {
		return err
	}
	if status != "completed" {
		return fmt.Errorf("task ended %s, nothing to download", status)
	}

	resp, err := c.get(ctx, "/api/download/"+id)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download returned %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	// xlsx files are zip archives.
	if len(data) < 4 || data[0] != 'P' || data[1] != 'K' {
		return fmt.Errorf("downloaded file is not an xlsx archive")
	}
	return nil
}

// --- HTTP client ---

type client struct {
	baseURL      string
	query        string
	pollInterval time.Duration
	http         *http.Client
}

func (c *client) submit(ctx context.Context, path string, payload map[string]any) (string, error) {
	body, err := c.post(ctx, path, payload)
	if err != nil {
		return "", err
	}
	id, _ := body["task_id"].(string)
	if id == "" {
		return "", fmt.Errorf("no task_id in response: %v", body)
	}
	return id, nil
}

func (c *client) waitTerminal(ctx context.Context, id string) (string, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			resp, err := c.get(ctx, "/api/task/"+id)
			if err != nil {
				return "", err
			}
			body, err := decode(resp)
			if err != nil {
				return "", err
			}
			status, _ := body["status"].(string)
			switch status {
			case "completed", "partial", "error", "timeout", "canceled":
				return status, nil
			}
		}
	}
}

func (c *client) post(ctx context.Context, path string, payload map[string]any) (map[string]any, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	body, err := decode(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %d: %v", path, resp.StatusCode, body["error"])
	}
	return body, nil
}

func (c *client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.http.Do(req)
}

func decode(resp *http.Response) (map[string]any, error) {
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return body, nil
}
