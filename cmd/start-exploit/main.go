package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/h4ppyfarm/farm/internal/client"
)

func main() {
	app := &cli.App{
		Name:      "start-exploit",
		Usage:     "run one exploit against every opposing team, forwarding captured flags to the farm server",
		ArgsUsage: "EXPLOIT",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "server-url",
				Usage:    "URL of the farm server",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "server-pass",
				Usage:    "password of the farm server",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "timeout",
				Usage: "seconds after which an instance of the exploit is killed",
				Value: 10,
			},
			&cli.IntFlag{
				Name:  "failure-threshold",
				Usage: "consecutive failures on one team after which runs start being skipped",
				Value: 4,
			},
			&cli.IntFlag{
				Name:  "max-failures",
				Usage: "failure count at which the skip probability stops growing",
				Value: 12,
			},
			&cli.BoolFlag{
				Name:  "always-retry",
				Usage: "disable the failure filter and always run on every team",
			},
			&cli.StringFlag{
				Name:  "interpreter",
				Usage: "interpreter for non-executable exploits (e.g. python3)",
			},
			&cli.BoolFlag{
				Name:  "sync-hfi",
				Usage: "keep a local copy of the hfi helper binary up to date",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(-1)
	}
}

func run(c *cli.Context) error {
	if c.NArg() != 1 {
		cli.ShowAppHelp(c)
		return fmt.Errorf("exactly one EXPLOIT argument is required")
	}
	exploitPath := c.Args().First()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	farm, err := client.NewClient(c.String("server-url"))
	if err != nil {
		return err
	}

	password := c.String("server-pass")
	log.Printf("Authenticating with password (%s)...", strings.Repeat("*", len(password)))
	if err := farm.Authenticate(ctx, password); err != nil {
		return err
	}

	log.Println("Retrieving config...")
	remote, err := farm.FetchConfig(ctx)
	if err != nil {
		return fmt.Errorf("no configuration loaded: %w", err)
	}

	flagRe, err := regexp.Compile("(?m)" + remote.FlagFormat)
	if err != nil {
		return fmt.Errorf("server sent an invalid flag format: %w", err)
	}

	runner := &client.Runner{
		ExploitPath: exploitPath,
		Interpreter: c.String("interpreter"),
		Timeout:     time.Duration(c.Int("timeout")) * time.Second,
		FlagRegexp:  flagRe,
	}
	log.Printf("Checking exploit '%s'...", exploitPath)
	if err := runner.CheckExploit(); err != nil {
		return err
	}

	if c.Bool("sync-hfi") {
		if err := client.SyncHfi(ctx, farm, "./hfi"); err != nil {
			log.Printf("Could not sync hfi helper: %v", err)
		}
	}

	opts := client.Options{
		Timeout:          time.Duration(c.Int("timeout")) * time.Second,
		FailureThreshold: c.Int("failure-threshold"),
		MaxFailures:      c.Int("max-failures"),
		AlwaysRetry:      c.Bool("always-retry"),
	}
	uploader := client.NewUploader(farm, exploitPath)

	sched := client.NewScheduler(farm, runner, uploader, opts, remote)
	sched.Run(ctx)

	log.Println("Ctrl+C detected, exiting...")
	if uploader.Pending() > 0 {
		// One last attempt so captured flags are not lost to the shutdown.
		uploader.Flush(context.Background())
	}
	return nil
}
