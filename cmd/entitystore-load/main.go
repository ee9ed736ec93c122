// Command entitystore-load loads a JSON fixture of raw entities through the
// entity manager and prints what ended up in the store together with the
// manager's metrics.
//
// The fixture maps entity types to lists of raw (nested) entities:
//
//	{"page": [{"id": 1, "title": "Home", "folder": {"id": 10, "name": "Root"}}]}
//
// Settings come from the ENTITYSTORE_* environment variables (see package
// config); flags override the log level and the sync batch threshold.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"entitystore/internal/config"
	"entitystore/internal/entitymanager"
	"entitystore/internal/logging"
	"entitystore/internal/metrics"
	"entitystore/internal/normalizer"
	"entitystore/pkg/domain"

	"github.com/prometheus/client_golang/prometheus"
)

var exitFunc = os.Exit

func main() {
	exitFunc(cli(os.Args[1:], os.Stdout, os.Stderr))
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("entitystore-load", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		fixturePath string
		watch       string
		logLevel    string
		maxSync     int
		timeout     time.Duration
	)
	fs.StringVar(&fixturePath, "fixture", "", "path to the JSON fixture (required)")
	fs.StringVar(&watch, "watch", "", "entity type whose denormalized list is watched while loading")
	fs.StringVar(&logLevel, "log-level", "", "override the configured log level")
	fs.IntVar(&maxSync, "max-sync", -1, "override the largest batch normalized inline")
	fs.DurationVar(&timeout, "timeout", 30*time.Second, "overall load timeout")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fixturePath == "" {
		fmt.Fprintln(stderr, "entitystore-load: -fixture is required")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "entitystore-load: %v\n", err)
		return 1
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if maxSync >= 0 {
		cfg.MaxSyncBatchSize = maxSync
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "entitystore-load: %v\n", err)
		return 1
	}

	fixture, err := readFixture(fixturePath)
	if err != nil {
		fmt.Fprintf(stderr, "entitystore-load: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := run(ctx, cfg, fixture, domain.EntityType(watch), stdout); err != nil {
		fmt.Fprintf(stderr, "entitystore-load: %v\n", err)
		return 1
	}
	return 0
}

func readFixture(path string) (map[domain.EntityType][]domain.Raw, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixture: %w", err)
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	dec.UseNumber()
	var raw map[string][]domain.Raw
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode fixture %s: %w", path, err)
	}
	out := make(map[domain.EntityType][]domain.Raw, len(raw))
	var errs []error
	for name, list := range raw {
		t := domain.EntityType(name)
		if err := domain.CheckType(t); err != nil {
			errs = append(errs, err)
			continue
		}
		out[t] = list
	}
	return out, errors.Join(errs...)
}

func run(ctx context.Context, cfg config.Config, fixture map[domain.EntityType][]domain.Raw, watch domain.EntityType, stdout io.Writer) (err error) {
	zl, err := logging.Build(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()

	reg := prometheus.NewRegistry()
	rec, err := metrics.NewPrometheusRecorder(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	m := entitymanager.New(nil, normalizer.New(normalizer.DefaultSchema()),
		entitymanager.WithConfig(cfg),
		entitymanager.WithLogger(logging.NewZap(zl)),
		entitymanager.WithMetrics(rec),
	)
	if err := m.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = errors.Join(err, m.Stop(stopCtx))
	}()

	emissions := 0
	if watch != "" {
		obs, err := m.WatchDenormalizedEntitiesList(watch)
		if err != nil {
			return err
		}
		sub := obs.Subscribe(func([]domain.Raw) { emissions++ })
		defer sub.Unsubscribe()
	}

	types := make([]domain.EntityType, 0, len(fixture))
	for t := range fixture {
		types = append(types, t)
	}
	slices.Sort(types)
	for _, t := range types {
		if err := m.AddEntities(ctx, t, fixture[t]); err != nil {
			return err
		}
	}

	state := m.Store().State()
	for _, t := range domain.EntityTypes() {
		branch, err := state.Branch(t)
		if err != nil {
			return err
		}
		if branch.Len() > 0 {
			fmt.Fprintf(stdout, "%s: %d\n", t, branch.Len())
		}
	}
	if watch != "" {
		fmt.Fprintf(stdout, "watched %s: %d emissions, %d cached\n", watch, emissions, m.CacheSize(watch))
	}
	return writeMetrics(reg, stdout)
}

func writeMetrics(g prometheus.Gatherer, w io.Writer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			labels := make([]string, 0, len(metric.GetLabel()))
			for _, l := range metric.GetLabel() {
				labels = append(labels, l.GetName()+"="+l.GetValue())
			}
			var value float64
			switch {
			case metric.GetCounter() != nil:
				value = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				value = metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				value = float64(metric.GetHistogram().GetSampleCount())
			}
			fmt.Fprintf(w, "%s{%s} %g\n", mf.GetName(), strings.Join(labels, ","), value)
		}
	}
	return nil
}
