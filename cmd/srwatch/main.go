// srwatch logs into a SmartRent account, subscribes every discovered
// device to push updates, and prints state changes until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	smartrent "github.com/openrent/smartrent-go"
)

// config is the YAML configuration for srwatch.
type config struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	TFACode  string `yaml:"tfa_code"`

	LogLevel      string        `yaml:"log_level"`
	FetchInterval time.Duration `yaml:"fetch_interval"`
}

func loadConfig(path string) (*config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if cfg.Email == "" || cfg.Password == "" {
		return nil, fmt.Errorf("config %s: email and password are required", path)
	}
	return &cfg, nil
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration file")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if cfg.LogLevel != "" {
		level, err := zerolog.ParseLevel(cfg.LogLevel)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid log level")
		}
		log = log.Level(level)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	opts := []smartrent.Option{smartrent.WithLogger(log)}
	if cfg.TFACode != "" {
		opts = append(opts, smartrent.WithTFACode(cfg.TFACode))
	}
	if cfg.FetchInterval > 0 {
		opts = append(opts, smartrent.WithFetchInterval(cfg.FetchInterval))
	}

	client, err := smartrent.Login(ctx, cfg.Email, cfg.Password, opts...)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("Login failed")
	}
	defer client.Close()

	for _, device := range client.Devices() {
		log.Info().
			Int("device_id", device.ID()).
			Str("name", device.Name()).
			Str("type", device.Kind()).
			Bool("online", device.Online()).
			Msg("Discovered device")

		device.OnUpdate(printUpdate(log, device))
		if err := device.StartUpdater(); err != nil {
			log.Error().Err(err).Int("device_id", device.ID()).Msg("Failed to subscribe device")
		}
	}

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	log.Info().Msg("Shutting down")
}

func printUpdate(log zerolog.Logger, device smartrent.Device) smartrent.UpdateFunc {
	return func(context.Context) {
		event := log.Info().Int("device_id", device.ID()).Str("name", device.Name())

		switch d := device.(type) {
		case *smartrent.Lock:
			event = event.Bool("locked", d.Locked())
		case *smartrent.Thermostat:
			if temp, ok := d.CurrentTemp(); ok {
				event = event.Int("current_temp", temp)
			}
			if humidity, ok := d.CurrentHumidity(); ok {
				event = event.Int("current_humidity", humidity)
			}
			event = event.Str("mode", d.Mode())
		case *smartrent.BinarySwitch:
			event = event.Bool("on", d.On())
		case *smartrent.MultilevelSwitch:
			if level, ok := d.Level(); ok {
				event = event.Int("level", level)
			}
		case *smartrent.LeakSensor:
			event = event.Bool("leak", d.Leak())
		}

		event.Msg("Device updated")
	}
}
