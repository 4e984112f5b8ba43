package main

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"swarmfuzz/config"
	"swarmfuzz/internal/events"
	"swarmfuzz/pkg/database"
	"swarmfuzz/pkg/logger"
	"swarmfuzz/pkg/telemetry"
)

type brokerParams struct {
	fx.In

	Lc        fx.Lifecycle
	Shutdown  fx.Shutdowner
	AppConfig *config.AppConfig
	Logger    *zap.Logger
	Redis     *redis.Client `optional:"true"`
}

// newBroker wires the campaign event broker: local and TCP clients, a redis
// stats sink when redis is configured, and an AMQP relay when a second
// machine should see this campaign's discoveries.
func newBroker(p brokerParams) (*events.Broker, error) {
	cfg := p.AppConfig
	brokerID := events.NewClientID()

	var relays []events.Relay
	if p.Redis != nil {
		relays = append(relays, events.NewRedisStatsSink(p.Redis, p.Logger, cfg.Campaign))
	}

	var amqpRelay *events.AMQPRelay
	if cfg.AMQPUrl != "" {
		relay, err := events.NewAMQPRelay(cfg.AMQPUrl, brokerID, p.Logger)
		if err != nil {
			return nil, err
		}
		amqpRelay = relay
		relays = append(relays, relay)
	}

	broker := events.NewBroker(p.Logger, relays...)
	brokerCtx, cancel := context.WithCancel(context.Background())

	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go broker.Serve(brokerCtx)
			if cfg.BusListenAddr != "" {
				go func() {
					if err := broker.ListenAndServe(brokerCtx, cfg.BusListenAddr); err != nil && !errors.Is(err, context.Canceled) {
						p.Logger.Error("bus listener failed", zap.Error(err))
						p.Shutdown.Shutdown()
					}
				}()
			}
			if amqpRelay != nil {
				go func() {
					if err := amqpRelay.Consume(brokerCtx, broker); err != nil && !errors.Is(err, context.Canceled) {
						p.Logger.Error("amqp relay stopped", zap.Error(err))
					}
				}()
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			broker.Stop()
			broker.Wait()
			if amqpRelay != nil {
				amqpRelay.Close()
			}
			return nil
		},
	})

	return broker, nil
}

func main() {
	app := fx.New(
		fx.Provide(
			config.LoadConfig,       // inject config
			database.NewRedisClient, // inject redis client (optional)
			logger.NewLogger,        // inject logger
			telemetry.NewTelemetry,  // inject telemetry
			newBroker,               // inject the event broker
		),
		fx.Invoke(func(b *events.Broker) {}),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			zlogger := fxevent.ZapLogger{Logger: log}
			zlogger.UseLogLevel(zap.DebugLevel)
			return &zlogger
		}),
	)
	app.Run()
}
