package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"shortsched/internal/app"
	"shortsched/internal/task/scheduler"
	logx "shortsched/pkg/logx"
)

const usage = `usage: shortsched [-config path] <command> [args]

commands:
  run [-for duration]   run the scheduler loop (forever, or for a duration)
  down [-message text]  put the scheduler in maintenance mode
  up                    leave maintenance mode
  tasks                 list the configured tasks
`

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (json or yaml)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	cmd := "run"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "run":
		err = runCmd(cfgPath, args)
	case "down":
		err = downCmd(cfgPath, args)
	case "up":
		err = upCmd(cfgPath)
	case "tasks":
		err = tasksCmd(cfgPath)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func runCmd(cfgPath string, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	runFor := fs.Duration("for", 0, "stop after this long (0 runs until signaled)")
	_ = fs.Parse(args)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(cfgPath, app.Options{})
	if err != nil {
		return err
	}

	runCtx := ctx
	if *runFor > 0 {
		var stop context.CancelFunc
		runCtx, stop = context.WithTimeout(ctx, *runFor)
		defer stop()
	}
	if err := a.Start(runCtx); err != nil {
		return err
	}

	reason := app.StopUnknown
	select {
	case <-ctx.Done():
		reason = app.StopSIGTERM
	case <-runCtx.Done():
		reason = app.StopDeadline
	case <-a.Done():
		reason = app.StopFatalError
	}
	// Drain has its own bound; this only guards against a wedged backend.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func downCmd(cfgPath string, args []string) error {
	fs := flag.NewFlagSet("down", flag.ExitOnError)
	msg := fs.String("message", "", "reason shown in the marker file")
	_ = fs.Parse(args)

	f, err := app.OpenMaintenance(cfgPath, logx.NewConsole("INFO"))
	if err != nil {
		return err
	}
	if err := f.Down(*msg); err != nil {
		return err
	}
	fmt.Printf("Scheduler is now in maintenance mode (%s).\n", f.Path())
	return nil
}

func upCmd(cfgPath string) error {
	f, err := app.OpenMaintenance(cfgPath, logx.NewConsole("INFO"))
	if err != nil {
		return err
	}
	if err := f.Up(); err != nil {
		return err
	}
	fmt.Println("Scheduler is now live.")
	return nil
}

func tasksCmd(cfgPath string) error {
	defs, err := app.ListTasks(cfgPath)
	printTasks(defs)
	return err
}

func printTasks(defs []scheduler.Definition) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tEVERY\tFLAGS\tLOCK KEY\tCOMMAND")
	for _, d := range defs {
		fmt.Fprintf(w, "%d\t%ss\t%s\t%s\t%s\n", d.Index, scheduler.FormatSeconds(d.Seconds), flags(d), d.Fingerprint, d.Command)
	}
	_ = w.Flush()
}

func flags(d scheduler.Definition) string {
	out := ""
	add := func(on bool, s string) {
		if !on {
			return
		}
		if out != "" {
			out += ","
		}
		out += s
	}
	add(d.WithoutOverlapping, "no-overlap")
	add(d.OnOneServer, "one-server")
	add(d.RunInMaintenanceMode, "maintenance")
	add(d.Verbose, "verbose")
	add(len(d.Predicates) > 0, "when")
	if out == "" {
		return "-"
	}
	return out
}
