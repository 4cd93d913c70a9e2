package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
)

// echoplugin is a minimal process-backed plugin. Copy the binary into the
// plugin directory (optionally with an echoplugin.yaml sidecar) and load it
// with "plugins load echoplugin".
type flagOptions struct {
	RunDuration int           `long:"run-duration" description:"Duration in seconds to run before exiting on its own"`
	Interval    time.Duration `long:"interval" default:"5s" description:"Interval between heartbeat lines"`
	Message     string        `long:"message" default:"echo" description:"Text printed on every heartbeat"`
	IgnoreTerm  bool          `long:"ignore-term" description:"Ignore termination requests (exercises the host's kill path)"`
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Running echoplugin, opts: %+v...\n", opts)

	ctx := context.Background()
	if opts.RunDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.RunDuration)*time.Second)
		defer cancel()
	}

	// Enable signal handling
	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	fmt.Printf("echoplugin is ready\n")

	for {
		select {
		case <-ticker.C:
			fmt.Printf("%s %s\n", opts.Message, time.Now().Format(time.RFC3339))
		case receivedSignal := <-sig:
			fmt.Printf("echoplugin received signal: %v\n", receivedSignal)
			if opts.IgnoreTerm {
				continue
			}
			fmt.Printf("echoplugin stopped\n")
			return
		case <-ctx.Done():
			fmt.Printf("echoplugin timed out\n")
			return
		}
	}
}
