package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mikey/mail-sentinel/internal/config"
	"github.com/mikey/mail-sentinel/internal/core"
	"github.com/mikey/mail-sentinel/internal/factory"
	"github.com/mikey/mail-sentinel/internal/logging"
	"github.com/mikey/mail-sentinel/internal/mailparse"
)

// sentinel-scan runs a single raw email through the detection pipeline
// from the command line and prints the verdict. Nothing is persisted.
func main() {
	var (
		filePath = flag.String("file", "", "Path to a raw RFC 2822 message (defaults to stdin)")
		tenantID = flag.String("tenant", "cli", "Tenant identifier used for the verdict")
		fast     = flag.Bool("fast", false, "Skip deep analysis, rules-only scoring")
		timeout  = flag.Duration("timeout", 60*time.Second, "Overall scan timeout")
		verbose  = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Parse()

	logger, err := logging.InitConsoleLogger(*verbose, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	raw, err := readInput(*filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read message: %v\n", err)
		os.Exit(1)
	}

	email, err := mailparse.ParseRaw(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse message: %v\n", err)
		os.Exit(1)
	}
	if email.MessageID == "" {
		email.MessageID = "cli-scan"
	}

	source, err := factory.NewReputationSource(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create reputation source: %v\n", err)
		os.Exit(1)
	}
	intelSvc, err := factory.NewIntelService(cfg, source, nil, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create intel service: %v\n", err)
		os.Exit(1)
	}
	defer intelSvc.Stop()

	analyzer, err := factory.NewAnalyzer(cfg, intelSvc, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create analyzer: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	verdict, err := analyzer.Analyze(ctx, *tenantID, email, core.AnalyzeOptions{SkipDeepAnalysis: *fast})
	if err != nil {
		fmt.Fprintf(os.Stderr, "analysis failed: %v\n", err)
		os.Exit(1)
	}
	verdict.TenantID = *tenantID
	verdict.MessageID = email.MessageID

	out, err := json.MarshalIndent(verdict, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode verdict: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))

	if verdict.Class.IsThreat() {
		os.Exit(2)
	}
}

func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
