package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"codeexec/internal/config"
	"codeexec/internal/engine"
)

var (
	serverURL  string
	apiKey     string
	timeout    time.Duration
	language   string
	testsFile  string
	jobID      string
	configPath string
	verbose    bool

	listLanguage string
	listStatus   string
	listLimit    int
)

// errFailed signals a completed run that did not succeed; the result has
// already been printed.
var errFailed = errors.New("execution did not succeed")

func main() {
	root := &cobra.Command{
		Use:           "codeexec",
		Short:         "Run and test code locally or against a codeexec server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			level := zerolog.WarnLevel
			if verbose {
				level = zerolog.DebugLevel
			}
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).Level(level)
		},
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("CODEEXEC_API_KEY"), "API key")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")

	// Local execution with the in-process engine
	runCmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Run a source file locally, optionally against test cases",
		Args:  cobra.ExactArgs(1),
		RunE:  runLocal,
	}
	runCmd.Flags().DurationVar(&timeout, "timeout", 0, "Run timeout (0 uses the engine default)")
	runCmd.Flags().StringVarP(&language, "language", "l", "", "Language (auto-detected from extension)")
	runCmd.Flags().StringVarP(&testsFile, "tests", "t", "", "YAML or JSON file of {input, expectedOutput} test cases")
	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file for engine and toolchain settings")
	root.AddCommand(runCmd)

	// Remote execution
	execCmd := &cobra.Command{
		Use:   "exec [file]",
		Short: "Execute code on the server (reads stdin when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runExec,
	}
	execCmd.Flags().DurationVar(&timeout, "timeout", 0, "Run timeout")
	execCmd.Flags().StringVarP(&language, "language", "l", "", "Language (auto-detected from extension)")
	execCmd.Flags().StringVarP(&testsFile, "tests", "t", "", "YAML or JSON file of test cases")
	execCmd.Flags().StringVar(&jobID, "id", "", "Pre-assigned job id, usable with kill")
	root.AddCommand(execCmd)

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE:  runHealth,
	})

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent executions",
		RunE:  runList,
	}
	listCmd.Flags().StringVar(&listLanguage, "language", "", "Filter by language")
	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status")
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum rows")
	root.AddCommand(listCmd)

	root.AddCommand(&cobra.Command{
		Use:   "kill [id]",
		Short: "Cancel an active execution",
		Args:  cobra.ExactArgs(1),
		RunE:  runKill,
	})

	root.AddCommand(&cobra.Command{
		Use:   "languages",
		Short: "List languages the server supports",
		RunE: func(_ *cobra.Command, _ []string) error {
			return getAndPrint("/languages")
		},
	})

	if err := root.Execute(); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func runLocal(_ *cobra.Command, args []string) error {
	code, lang, err := readSource(args)
	if err != nil {
		return err
	}
	cases, err := loadTestCases(testsFile)
	if err != nil {
		return err
	}

	cfg := config.DefaultConfig()
	if configPath != "" {
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}

	eng, err := engine.New(cfg.EngineOptions(), nil)
	if err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := eng.Execute(ctx, engine.Request{
		SourceCode: code,
		Language:   lang,
		TestCases:  cases,
		Timeout:    timeout,
	})
	if err != nil {
		return err
	}
	if err := printJSON(res); err != nil {
		return err
	}
	if !passed(res) {
		return errFailed
	}
	return nil
}

func runExec(_ *cobra.Command, args []string) error {
	code, lang, err := readSource(args)
	if err != nil {
		return err
	}
	cases, err := loadTestCases(testsFile)
	if err != nil {
		return err
	}

	payload := map[string]any{
		"code":     code,
		"language": lang,
	}
	if len(cases) > 0 {
		payload["testCases"] = cases
	}
	if timeout > 0 {
		payload["timeout"] = timeout.Milliseconds()
	}
	if jobID != "" {
		payload["id"] = jobID
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := doRequest(http.MethodPost, "/execute", bytes.NewReader(body), 0)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}

	var res engine.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if err := printJSON(&res); err != nil {
		return err
	}
	if !passed(&res) {
		return errFailed
	}
	return nil
}

func runHealth(_ *cobra.Command, _ []string) error {
	return getAndPrint("/health")
}

func runList(_ *cobra.Command, _ []string) error {
	q := url.Values{}
	if listLanguage != "" {
		q.Set("language", listLanguage)
	}
	if listStatus != "" {
		q.Set("status", listStatus)
	}
	q.Set("limit", strconv.Itoa(listLimit))
	return getAndPrint("/executions?" + q.Encode())
}

func runKill(_ *cobra.Command, args []string) error {
	resp, err := doRequest(http.MethodDelete, "/executions/"+url.PathEscape(args[0]), nil, 10*time.Second)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return decodeAPIError(resp)
	}
	fmt.Printf("cancel requested for %s\n", args[0])
	return nil
}

func getAndPrint(path string) error {
	resp, err := doRequest(http.MethodGet, path, nil, 10*time.Second)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}

	var result any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return printJSON(result)
}

// doRequest sends an authenticated request. A zero clientTimeout allows
// for the longest compile plus run the server permits.
func doRequest(method, path string, body io.Reader, clientTimeout time.Duration) (*http.Response, error) {
	req, err := http.NewRequest(method, strings.TrimRight(serverURL, "/")+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	if clientTimeout == 0 {
		clientTimeout = 130 * time.Second
	}
	client := &http.Client{Timeout: clientTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func decodeAPIError(resp *http.Response) error {
	var apiErr struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Error == "" {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return fmt.Errorf("%s (%s)", apiErr.Error, apiErr.Code)
}

func printJSON(v any) error {
	formatted, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(formatted))
	return nil
}

// readSource returns the code and language for a file argument, or stdin
// when there is none.
func readSource(args []string) (string, string, error) {
	lang := language
	if len(args) == 0 {
		if lang == "" {
			return "", "", errors.New("--language is required when reading from stdin")
		}
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), lang, nil
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", "", fmt.Errorf("reading file: %w", err)
	}
	if lang == "" {
		if lang, err = detectLanguage(args[0]); err != nil {
			return "", "", err
		}
	}
	return string(data), lang, nil
}

var extensionLanguages = map[string]string{
	".js":   "javascript",
	".mjs":  "javascript",
	".py":   "python",
	".java": "java",
	".cpp":  "cpp",
	".cc":   "cpp",
	".cxx":  "cpp",
	".cs":   "csharp",
	".go":   "go",
	".rs":   "rust",
}

func detectLanguage(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if lang, ok := extensionLanguages[ext]; ok {
		return lang, nil
	}
	return "", fmt.Errorf("cannot detect language for extension %q, use --language flag", ext)
}

// loadTestCases reads a list of test cases. YAML is a superset of JSON, so
// one decoder covers both.
func loadTestCases(path string) ([]engine.TestCase, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading test cases: %w", err)
	}
	var cases []engine.TestCase
	if err := yaml.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("parsing test cases: %w", err)
	}
	return cases, nil
}

// passed reports whether the run succeeded and, with test cases, whether
// every case passed.
func passed(res *engine.Result) bool {
	if !res.Success || res.Status != engine.StatusOK {
		return false
	}
	if res.TestsTotal != nil && res.TestsPassed != nil {
		return *res.TestsPassed == *res.TestsTotal
	}
	return true
}
