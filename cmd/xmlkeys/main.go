// Command xmlkeys manages an XML key bucket from the command line.
//
// Configuration comes from the environment (XMLKEYS_BACKEND, XMLKEYS_PATH,
// XMLKEYS_MOUNT, XMLKEYS_TABLE, VAULT_ADDR, VAULT_TOKEN, AWS_PROFILE) with an
// optional YAML file given by -config.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jacentio/xmlvault/backend/dynamo"
	"github.com/jacentio/xmlvault/backend/memory"
	"github.com/jacentio/xmlvault/backend/vault"
	"github.com/jacentio/xmlvault/store"
)

const usage = `usage: xmlkeys [-config FILE] <command> [args]

commands:
  list                  print every key in the bucket
  put [-new-id] FILE... store the key element in each file
  delete ID...          delete the keys with the given ids
  prune -keep N         delete all but the N newest keys
  history               list stored bucket versions (dynamodb only)
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "xmlkeys:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("xmlkeys", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	fs.Usage = func() { fmt.Fprint(fs.Output(), usage) }
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("missing command")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.level()}))

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}

	a := &app{
		repo:    store.NewWithLogger(backend, cfg.storeConfig(), logger),
		backend: backend,
		out:     out,
		logger:  logger,
	}
	return a.dispatch(ctx, fs.Arg(0), fs.Args()[1:])
}

// openBackend constructs the storage backend named by cfg.Backend.
func openBackend(ctx context.Context, cfg Config) (store.Backend, error) {
	switch cfg.Backend {
	case "vault":
		return vault.NewFromToken(cfg.VaultAddr, cfg.VaultToken)
	case "dynamodb":
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.AWSProfile != "" {
			opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.AWSProfile))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		return dynamo.New(dynamodb.NewFromConfig(awsCfg), dynamo.Config{Table: cfg.Table}), nil
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
