// Package main is the entry point for the Keysmith admin CLI.
// It talks to a running Keysmith server's admin API: inspecting and
// tuning the inactivity policy, triggering reactivation sweeps and
// generating admin token hashes.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	var err error
	switch command {
	case "version":
		fmt.Printf("Keysmith Admin CLI\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)

	case "policy":
		err = runPolicy(os.Args[2:])

	case "sweep":
		err = runSweep(os.Args[2:])

	case "overview":
		err = runOverview(os.Args[2:])

	case "hash-token":
		err = runHashToken(os.Args[2:])

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// client holds the connection settings shared by all API commands.
type client struct {
	baseURL string
	token   string
	http    *http.Client
}

func newClient(fs *flag.FlagSet) *client {
	c := &client{http: &http.Client{Timeout: 30 * time.Second}}
	fs.StringVar(&c.baseURL, "server", envOr("KEYSMITH_SERVER", "http://localhost:8080"), "server base URL")
	fs.StringVar(&c.token, "token", os.Getenv("KEYSMITH_ADMIN_TOKEN"), "admin API token")
	return c
}

func (c *client) do(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(data))
	}

	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

func runPolicy(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: keysmith-admin policy <get|set> [flags]")
	}

	switch args[0] {
	case "get":
		fs := flag.NewFlagSet("policy get", flag.ExitOnError)
		c := newClient(fs)
		_ = fs.Parse(args[1:])

		var out map[string]interface{}
		if err := c.do(http.MethodGet, "/api/admin/policy", nil, &out); err != nil {
			return err
		}
		return printJSON(out)

	case "set":
		fs := flag.NewFlagSet("policy set", flag.ExitOnError)
		c := newClient(fs)
		hours := fs.Int("threshold-hours", 72, "inactivity threshold in hours (1-168)")
		hour := fs.Int("reactivate-hour", 8, "daily reactivation hour (0-23)")
		minute := fs.Int("reactivate-minute", 0, "daily reactivation minute (0-59)")
		_ = fs.Parse(args[1:])

		body := map[string]int{
			"inactivity_threshold_hours": *hours,
			"daily_reactivate_hour":      *hour,
			"daily_reactivate_minute":    *minute,
		}
		var out map[string]interface{}
		if err := c.do(http.MethodPut, "/api/admin/policy", body, &out); err != nil {
			return err
		}
		return printJSON(out)

	default:
		return fmt.Errorf("unknown policy subcommand: %s", args[0])
	}
}

func runSweep(args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	c := newClient(fs)
	_ = fs.Parse(args)

	var out map[string]interface{}
	if err := c.do(http.MethodPost, "/api/admin/sweep", nil, &out); err != nil {
		return err
	}
	return printJSON(out)
}

func runOverview(args []string) error {
	fs := flag.NewFlagSet("overview", flag.ExitOnError)
	c := newClient(fs)
	_ = fs.Parse(args)

	var out map[string]interface{}
	if err := c.do(http.MethodGet, "/api/admin/overview", nil, &out); err != nil {
		return err
	}
	return printJSON(out)
}

// runHashToken generates the bcrypt hash for admin.token_hash.
func runHashToken(args []string) error {
	fs := flag.NewFlagSet("hash-token", flag.ExitOnError)
	token := fs.String("token", "", "token to hash")
	cost := fs.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	_ = fs.Parse(args)

	if *token == "" {
		return fmt.Errorf("-token is required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(*token), *cost)
	if err != nil {
		return err
	}
	fmt.Println(string(hash))
	return nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printUsage() {
	fmt.Println(`Keysmith Admin CLI

Usage:
  keysmith-admin <command> [arguments]

Commands:
  policy      Inspect or tune the inactivity policy (get, set)
  sweep       Trigger a reactivation sweep for the current window
  overview    Show aggregate backend statistics
  hash-token  Generate the bcrypt hash for admin.token_hash
  version     Print version information
  help        Show this help message

Examples:
  keysmith-admin policy get -server http://localhost:8080 -token secret
  keysmith-admin policy set -threshold-hours 48 -reactivate-hour 8
  keysmith-admin sweep
  keysmith-admin hash-token -token secret

The server URL and token can also be set via KEYSMITH_SERVER and
KEYSMITH_ADMIN_TOKEN.`)
}
