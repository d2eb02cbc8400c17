// Command golive runs the go-live checklist against a running deployment's
// health endpoints and prints the verdict. Exit codes: 0 when the verdict
// is APPROVED or CONDITIONAL, 1 when BLOCKED, 2 on invalid input.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

type report struct {
	Verdict string `json:"verdict"`
	Color   string `json:"color"`
	Checks  []struct {
		Name   string `json:"name"`
		Status string `json:"status"`
		Detail string `json:"detail,omitempty"`
	} `json:"checks"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the running deployment")
	tenantSchema := flag.String("tenant", "", "optionally also check one tenant's readiness")
	timeout := flag.Duration("timeout", 10*time.Second, "per-request timeout")
	flag.Parse()

	base := strings.TrimRight(*baseURL, "/")
	if base == "" {
		fmt.Fprintln(os.Stderr, "usage: golive -url <http://host:port> [-tenant <schema>]")
		os.Exit(2)
	}

	client := &http.Client{Timeout: *timeout}

	rep, err := fetchReport(client, base+"/health/golive")
	if err != nil {
		fmt.Fprintf(os.Stderr, "go-live check failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("verdict: %s (%s)\n", rep.Verdict, rep.Color)
	for _, c := range rep.Checks {
		line := fmt.Sprintf("  [%s] %s", c.Status, c.Name)
		if c.Detail != "" {
			line += " — " + c.Detail
		}
		fmt.Println(line)
	}

	if *tenantSchema != "" {
		if err := printTenant(client, base, *tenantSchema); err != nil {
			fmt.Fprintf(os.Stderr, "tenant check failed: %v\n", err)
			os.Exit(1)
		}
	}

	if rep.Verdict == "BLOCKED" {
		os.Exit(1)
	}
}

func fetchReport(client *http.Client, url string) (*report, error) {
	body, _, err := get(client, url)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	var rep report
	if err := json.Unmarshal(env.Data, &rep); err != nil {
		return nil, fmt.Errorf("decoding report: %w", err)
	}
	return &rep, nil
}

func printTenant(client *http.Client, base, schema string) error {
	body, status, err := get(client, base+"/health/golive/tenant/"+schema)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("unexpected status %d", status)
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return err
	}
	fmt.Printf("tenant %s: %s\n", schema, string(env.Data))
	return nil
}

func get(client *http.Client, url string) ([]byte, int, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}
