package databot

import (
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Guliveer/databot/internal/config"
	"github.com/Guliveer/databot/internal/consumer"
	"github.com/Guliveer/databot/internal/consumer/csvfile"
	"github.com/Guliveer/databot/internal/consumer/httpsink"
	"github.com/Guliveer/databot/internal/consumer/sqlite"
	"github.com/Guliveer/databot/internal/spool"
)

// buildHandlers creates the configured consumers. On error the consumers
// already created are closed.
func buildHandlers(cfgs []config.ConsumerConfig, agentID string, logger *zap.Logger) ([]consumer.Handler, error) {
	handlers := make([]consumer.Handler, 0, len(cfgs))
	for i, cc := range cfgs {
		h, err := buildHandler(cc, agentID, logger)
		if err != nil {
			for _, built := range handlers {
				err = multierr.Append(err, built.Close())
			}
			return nil, fmt.Errorf("consumer %d (%s): %w", i, cc.Type, err)
		}
		handlers = append(handlers, h)
	}
	return handlers, nil
}

func buildHandler(cc config.ConsumerConfig, agentID string, logger *zap.Logger) (consumer.Handler, error) {
	switch cc.Type {
	case config.ConsumerCSV:
		return csvfile.New(csvfile.Config{
			Path:            cc.Path,
			Append:          cc.AppendMode(),
			TimestampFormat: cc.TimestampFormat,
			NoHeader:        cc.NoHeader,
		}, logger.Named("csv"))
	case config.ConsumerSQLite:
		return sqlite.Open(cc.Path, cc.Retention.Duration, logger.Named("sqlite"))
	case config.ConsumerHTTP:
		var sp *spool.Spool
		if cc.SpoolDir != "" {
			var err error
			sp, err = spool.New(cc.SpoolDir, cc.SpoolMaxMB, logger.Named("spool"))
			if err != nil {
				return nil, fmt.Errorf("create spool: %w", err)
			}
		}
		return httpsink.New(httpsink.Config{
			URL:        cc.URL,
			Token:      cc.Token,
			AgentID:    agentID,
			BatchSize:  cc.BatchSize,
			MaxRetries: cc.MaxRetries,
			Timeout:    cc.Timeout.Duration,
		}, sp, logger.Named("http"))
	default:
		return nil, fmt.Errorf("unknown consumer type %q", cc.Type)
	}
}
