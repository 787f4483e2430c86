package cmd

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var statusServer string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query the status endpoints of a running seismicd instance",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusServer, "server", "http://localhost:8080", "seismicd server URL")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		},
	}

	var health struct {
		Status        string `json:"status"`
		Version       string `json:"version"`
		Uptime        string `json:"uptime"`
		StorageDriver string `json:"storage_driver"`
		Stations      int    `json:"stations"`
	}
	if err := getJSON(client, statusServer+"/api/v1/health", &health); err != nil {
		return err
	}

	var status struct {
		Running          bool       `json:"running"`
		Stations         int        `json:"stations"`
		LastProductiveAt *time.Time `json:"last_productive_at"`
		LastRun          *struct {
			StartTime    time.Time      `json:"start_time"`
			Success      bool           `json:"success"`
			FilesCreated map[string]int `json:"files_created"`
			TotalTasks   int            `json:"total_tasks"`
			Successful   int            `json:"successful"`
			Skipped      int            `json:"skipped"`
			Failed       int            `json:"failed"`
		} `json:"last_run"`
	}
	if err := getJSON(client, statusServer+"/api/v1/status", &status); err != nil {
		return err
	}

	fmt.Printf("seismicd %s\n", health.Version)
	fmt.Printf("Status: %s\n", health.Status)
	fmt.Printf("Uptime: %s\n", health.Uptime)
	fmt.Printf("Storage: %s\n", health.StorageDriver)
	fmt.Printf("Stations: %d\n", health.Stations)
	fmt.Println()

	if status.Running {
		fmt.Println("Collection run in progress")
	}
	if status.LastProductiveAt != nil {
		fmt.Printf("Last productive run: %s\n", status.LastProductiveAt.Format(time.RFC3339))
	}
	if lr := status.LastRun; lr != nil {
		outcome := "ok"
		if !lr.Success {
			outcome = "failed"
		}
		fmt.Printf("Last run: %s (%s)\n", lr.StartTime.Format(time.RFC3339), outcome)
		fmt.Printf("  Tasks: %d total, %d created, %d skipped, %d failed\n",
			lr.TotalTasks, lr.Successful, lr.Skipped, lr.Failed)
		for _, t := range []string{"6hour", "1hour", "10min"} {
			if n := lr.FilesCreated[t]; n > 0 {
				fmt.Printf("  Created %s: %d\n", t, n)
			}
		}
	}
	return nil
}

func getJSON(client *http.Client, url string, v any) error {
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", url, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
