package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/okian/avisurv/internal/adapters/mortality"
	"github.com/okian/avisurv/internal/adapters/mq/notify"
	"github.com/okian/avisurv/internal/adapters/repository"
	"github.com/okian/avisurv/internal/adapters/repository/sqlitestore"
	service "github.com/okian/avisurv/internal/app"
	"github.com/okian/avisurv/internal/config"
	"github.com/okian/avisurv/pkg/logger"
)

// openStore opens the configured collaborator store.
func openStore(cfg config.Storage) (repository.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return repository.NewMemoryStore(), nil
	case "sqlite":
		s, err := sqlitestore.Open(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// openNotifier publishes to Kafka when brokers are configured and to the
// log otherwise.
func openNotifier(cfg config.Notify, log logger.Logger) (notify.Notifier, error) {
	if len(cfg.Brokers) == 0 {
		return notify.NewLog(log.Named("alerts")), nil
	}
	codec, err := notify.CodecFor(cfg.Codec)
	if err != nil {
		return nil, err
	}
	return notify.NewKafka(cfg.Brokers, cfg.Topic,
		notify.WithCodec(codec),
		notify.WithLogger(log.Named("notify")),
	)
}

// newService assembles the service from configuration. The caller closes it.
func (c *cli) newService(ctx context.Context) (*service.Service, error) {
	store, err := openStore(c.cfg.Storage)
	if err != nil {
		return nil, err
	}
	n, err := openNotifier(c.cfg.Notify, c.log)
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}

	opts := append(service.OptionsFromConfig(c.cfg),
		service.WithNotifier(n),
		service.WithLogger(c.log.Named("service")),
	)
	if path := c.cfg.Mortality.CSVPath; path != "" {
		feed, err := mortality.LoadCSV(ctx, mortality.Format(c.cfg.Mortality.Format), strings.Split(path, ","),
			mortality.WithLogger(c.log.Named("mortality")),
		)
		if err != nil {
			return nil, errors.Join(err, n.Close(), store.Close())
		}
		opts = append(opts, service.WithMortalityFeed(feed))
	}

	svc, err := service.New(store, opts...)
	if err != nil {
		return nil, errors.Join(err, n.Close(), store.Close())
	}
	return svc, nil
}

// readJSONLines decodes a stream of JSON documents, one item each.
func readJSONLines[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []T
	dec := json.NewDecoder(f)
	for {
		var v T
		if err := dec.Decode(&v); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, fmt.Errorf("%s: item %d: %w", path, len(out)+1, err)
		}
		out = append(out, v)
	}
}

// writeJSONLinesFile creates path and writes items into it.
func writeJSONLinesFile[T any](path string, items []T, write func(io.Writer, []T) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f, items); err != nil {
		_ = f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}
