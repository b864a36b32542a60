package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"churninsight/internal/client"
	"churninsight/internal/features"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const usage = `usage: churnctl [flags] <command> [args]

commands:
  health               readiness of the service
  info                 model descriptor
  predict -f FILE      score one request (JSON object, "-" for stdin)
  batch -f FILE        score JSON lines, one request per line
  kpis                 portfolio KPIs
  explain CUSTOMER_ID  risk factors for a customer

flags:
`

func main() {
	var (
		baseURL = flag.String("url", envOr("CHURN_URL", "http://localhost:8000"), "Service base URL")
		timeout = flag.Duration("timeout", client.DefaultTimeout, "Per-request timeout")
		retries = flag.Int("retries", client.DefaultRetries, "Retries on transport errors and 503 during model load")
	)
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	c := client.New(*baseURL, *timeout, *retries)
	ctx := context.Background()

	if err := run(ctx, c, flag.Arg(0), flag.Args()[1:]); err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			for _, v := range apiErr.Violations {
				log.Error().Str("field", v.Field).Msg(v.Message)
			}
		}
		log.Fatal().Err(err).Msg("command failed")
	}
}

func run(ctx context.Context, c *client.Client, cmd string, args []string) error {
	switch cmd {
	case "health":
		h, err := c.Health(ctx)
		if err != nil {
			return err
		}
		if err := printJSON(h); err != nil {
			return err
		}
		if !h.ModelLoaded {
			return errors.New("service is not ready")
		}
		return nil

	case "info":
		info, err := c.ModelInfo(ctx)
		if err != nil {
			return err
		}
		return printJSON(info)

	case "predict":
		in, closeFn, err := inputFlag(cmd, args)
		if err != nil {
			return err
		}
		defer closeFn()

		var req features.PredictionRequest
		if err := json.NewDecoder(in).Decode(&req); err != nil {
			return fmt.Errorf("decode request: %w", err)
		}
		resp, err := c.Predict(ctx, req)
		if err != nil {
			return err
		}
		return printJSON(resp)

	case "batch":
		in, closeFn, err := inputFlag(cmd, args)
		if err != nil {
			return err
		}
		defer closeFn()
		return runBatch(ctx, c, in)

	case "kpis":
		k, err := c.KPIs(ctx)
		if err != nil {
			return err
		}
		return printJSON(k)

	case "explain":
		if len(args) != 1 {
			return errors.New("explain needs exactly one customer id")
		}
		exp, err := c.RiskFactors(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(exp)

	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// runBatch scores each line independently. Failures are reported per line
// and the batch carries on; the command fails if any line failed.
func runBatch(ctx context.Context, c *client.Client, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	var (
		lineNo, ok, failed int
		start              = time.Now()
	)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req features.PredictionRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			failed++
			log.Error().Err(err).Int("line", lineNo).Msg("invalid JSON")
			continue
		}
		resp, err := c.Predict(ctx, req)
		if err != nil {
			failed++
			log.Error().Err(err).Int("line", lineNo).Str("customer_id", req.CustomerID).Msg("prediction failed")
			continue
		}
		ok++
		if err := printJSON(resp); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	log.Info().Int("ok", ok).Int("failed", failed).Dur("elapsed", time.Since(start)).Msg("batch complete")
	if failed > 0 {
		return fmt.Errorf("%d of %d requests failed", failed, ok+failed)
	}
	return nil
}

func inputFlag(cmd string, args []string) (io.Reader, func(), error) {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	file := fs.String("f", "-", "Input file, - for stdin")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if *file == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(*file)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
