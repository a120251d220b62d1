package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/orgoj/amqpgelf/internal/broker"
	"github.com/orgoj/amqpgelf/internal/config"
)

type options struct {
	Dial bool `long:"dial" description:"Connect to every enabled amqp-gelf broker and declare its exchange"`
	Args struct {
		ConfigFile string `positional-arg-name:"config-file" required:"yes"`
	} `positional-args:"yes"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
	configPath := opts.Args.ConfigFile

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		fmt.Printf("Validation error: %v\n", err)
		os.Exit(1)
	}
	if err := validateAppenders(cfg); err != nil {
		fmt.Printf("Validation error: %v\n", err)
		os.Exit(1)
	}

	for _, app := range cfg.Appenders {
		state := "disabled"
		if app.Enabled {
			state = "enabled"
		}
		fmt.Printf("  %-16s %-10s %-8s categories=%v\n", app.Name, app.Type, state, app.Categories)
	}

	if opts.Dial {
		failed := false
		for _, app := range cfg.Appenders {
			if !app.Enabled || app.Type != config.TypeAMQPGelf {
				continue
			}
			if err := checkBroker(app); err != nil {
				fmt.Printf("Broker check failed for '%s': %v\n", app.Name, err)
				failed = true
				continue
			}
			fmt.Printf("Broker check passed for '%s' (exchange '%s')\n", app.Name, app.Exchange.Name)
		}
		if failed {
			os.Exit(1)
		}
	}

	fmt.Println("Configuration is valid!")
}

func validateAppenders(cfg *config.Config) error {
	for _, app := range cfg.Appenders {
		if app.Enabled {
			return nil
		}
	}
	return fmt.Errorf("at least one appender must be enabled")
}

// checkBroker connects with the appender's settings and declares its exchange.
func checkBroker(app config.AppenderConfig) error {
	timeout := 10 * time.Second
	if app.ConnectTimeout != "" {
		d, err := config.ParseDuration(app.ConnectTimeout)
		if err != nil {
			return err
		}
		timeout = d
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, err := broker.DialAMQP(app.Name+"-check", timeout)(ctx, app.URL)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	return ch.ExchangeDeclare(app.Exchange)
}
