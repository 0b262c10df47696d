// Fleet controller - discovers smart-home devices over mDNS, gates their
// actions on a hazard policy and aggregates their MQTT event feeds.
//
// Usage:
//
//	fleet [--config path]
//	fleet --issue-token operator [--token-ttl 1h]
//	fleet --version
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-fleet/internal/api"
	"github.com/nerrad567/gray-logic-fleet/internal/audit"
	"github.com/nerrad567/gray-logic-fleet/internal/controller"
	"github.com/nerrad567/gray-logic-fleet/internal/events"
	"github.com/nerrad567/gray-logic-fleet/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-fleet/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-fleet/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-fleet/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-fleet/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-fleet/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath  string
	showVersion bool
	issueToken  string
	tokenTTL    time.Duration
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("fleet", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "path to the YAML config file (default: $FLEET_CONFIG, else built-in defaults)")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	fs.StringVar(&opts.issueToken, "issue-token", "", "print an API bearer token for this subject and exit")
	fs.DurationVar(&opts.tokenTTL, "token-ttl", time.Hour, "lifetime of tokens printed by --issue-token")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if opts.configPath == "" {
		opts.configPath = os.Getenv("FLEET_CONFIG")
	}
	return opts, nil
}

// loadConfig reads path, or falls back to defaults plus environment
// overrides when no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// run is the application logic, separated from main for testability.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}

	if opts.showVersion {
		fmt.Fprintf(stdout, "fleet %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if opts.issueToken != "" {
		if cfg.Security.JWT.Secret == "" {
			return fmt.Errorf("security.jwt.secret is not set")
		}
		token, err := api.GenerateToken(opts.issueToken, cfg.Security.JWT.Secret, opts.tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, token)
		return nil
	}

	log := logging.New(cfg.Logging, version)
	log.Info("starting fleet controller",
		"version", version,
		"commit", commit,
		"build_date", date,
		"config", opts.configPath,
	)

	m := metrics.New()

	var auditRepo audit.Repository
	if cfg.Database.Enabled {
		db, err := openDatabase(ctx, cfg.Database, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		auditRepo = audit.NewSQLiteRepository(db.DB)
	} else {
		log.Info("database disabled, dispatch audit trail off")
	}

	var influx *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influx, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influx.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influx.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	ctrlOpts := controller.OptionsFromConfig(cfg)
	ctrlOpts.Audit = auditRepo
	ctrlOpts.Metrics = m
	ctrlOpts.Logger = log
	if influx != nil {
		ctrlOpts.Series = influx
	}

	ctrl, err := controller.New(ctrlOpts)
	if err != nil {
		return fmt.Errorf("creating controller: %w", err)
	}
	defer ctrl.Shutdown()

	if _, err := ctrl.Discover(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		log.Warn("initial discovery failed", "error", err)
	}

	rx, err := ctrl.StartEventReceivers(cfg.Events.ChannelCapacity)
	if err != nil {
		return fmt.Errorf("starting event receivers: %w", err)
	}

	var hub *api.Hub
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log.Component("api"),
			Fleet:    ctrl,
			Audit:    auditRepo,
			Metrics:  m,
			Version:  version,
		}
		if influx != nil {
			deps.History = influx
		}
		srv, err := api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		hub = srv.Hub()
	} else {
		log.Info("API disabled")
	}

	log.Info("initialisation complete",
		"devices", len(ctrl.Devices()),
		"events_capacity", cfg.Events.ChannelCapacity,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ctrl.Run(gctx)
	})
	g.Go(func() error {
		pumpEvents(rx, hub, influx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, cleaning up")
		ctrl.Shutdown()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("fleet controller stopped")
	return nil
}

// pumpEvents relays the aggregated stream until it is closed.
func pumpEvents(rx *events.Receiver, hub *api.Hub, influx *influxdb.Client) {
	for ev := range rx.C() {
		if hub != nil {
			hub.Publish(ev)
		}
		if influx != nil {
			influx.WriteEvent(ev)
		}
	}
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	if err := db.HealthCheck(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database: %w", err)
	}
	log.Info("database ready", "path", db.Path())
	return db, nil
}
