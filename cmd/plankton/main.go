// Command plankton runs the plankton development server or connects a
// headless client to one.
//
//	plankton serve --listen 127.0.0.1:9000
//	plankton connect --server 127.0.0.1:9000 --create --table
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cyberinferno/plankton/logger"
	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

var BuildVersion = "dev"

// GlobalOptions apply to every command.
type GlobalOptions struct {
	LogLevel string `long:"log-level" env:"PLANKTON_LOG_LEVEL" default:"info" description:"Minimum log level (debug, info, warn, error)"`
	LogDir   string `long:"log-dir" env:"PLANKTON_LOG_DIR" description:"Also write daily rotated log files to this directory"`
}

// app carries what commands share: the signal context and the options.
type app struct {
	ctx  context.Context
	opts GlobalOptions
}

func (a *app) logger(service string) (logger.Logger, error) {
	level := logger.ParseLevel(a.opts.LogLevel)
	if a.opts.LogDir == "" {
		return logger.NewConsoleLogger(service, level), nil
	}
	return logger.NewZerologFileLogger(service, a.opts.LogDir, level)
}

func newParser(a *app) *flags.Parser {
	parser := flags.NewParser(&a.opts, flags.Default)
	parser.LongDescription = "plankton " + BuildVersion

	_, _ = parser.AddCommand("serve", "Run the development server",
		"Listens for plankton clients and relays messages between room members.",
		&serveCommand{app: a})
	_, _ = parser.AddCommand("connect", "Connect a headless client",
		"Logs in, optionally creates or joins a room, and reports presence until interrupted.",
		&connectCommand{app: a})

	return parser
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	a := &app{ctx: ctx}
	if _, err := newParser(a).Parse(); err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) {
			if flagErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
