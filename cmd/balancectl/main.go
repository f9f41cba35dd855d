// Copyright 2026 The Balance Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/balance-foundation/balance/lib/api"
	"github.com/balance-foundation/balance/lib/process"
	"github.com/balance-foundation/balance/lib/service"
	"github.com/balance-foundation/balance/lib/version"
)

// defaultSocketPath matches the daemon's default configuration.
const defaultSocketPath = "/run/balance/session.sock"

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printUsage()
		return errors.New("subcommand required")
	}

	switch args[0] {
	case "--version", "version":
		version.Print("balancectl")
		return nil
	case "-h", "--help", "help":
		printUsage()
		return nil
	}

	ctx := context.Background()
	name, rest := args[0], args[1:]

	switch name {
	case "status":
		return cmdStatus(ctx, rest)
	case "start":
		return cmdStart(ctx, rest)
	case "abandon":
		return cmdAbandon(ctx, rest)
	case "review":
		return cmdReview(ctx, rest)
	case "check":
		return cmdCheck(ctx, rest)
	case "today":
		return cmdToday(ctx, rest)
	case "watch":
		return cmdWatch(ctx, rest)
	default:
		printUsage()
		return fmt.Errorf("unknown subcommand %q", name)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `balancectl controls the Balance session daemon.

Usage:
  balancectl <subcommand> [flags]

Subcommands:
  status    show the current mode and remaining time
  start     start a focus session
  abandon   abandon the active session (no credit)
  review    submit the review for the just-completed session
  check     report the rabbit-hole streak
  today     show today's completed sessions and cap
  watch     live timer view
  version   print version information

Every subcommand accepts --socket to override the daemon socket path
(default `+defaultSocketPath+`, or the BALANCE_SOCKET environment
variable).
`)
}

// newFlagSet builds a subcommand flag set with the shared --socket and
// --json flags.
func newFlagSet(name string) (*pflag.FlagSet, *string, *bool) {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)

	socketDefault := os.Getenv("BALANCE_SOCKET")
	if socketDefault == "" {
		socketDefault = defaultSocketPath
	}
	socketPath := flagSet.String("socket", socketDefault, "daemon control socket path")
	asJSON := flagSet.Bool("json", false, "print the raw response as JSON")
	return flagSet, socketPath, asJSON
}

// printJSON writes a value as indented JSON to stdout.
func printJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

// formatRemaining renders the time left until endsAt as m:ss, clamped
// at zero.
func formatRemaining(endsAt, now time.Time) string {
	remaining := endsAt.Sub(now).Round(time.Second)
	if remaining < 0 {
		remaining = 0
	}
	minutes := int(remaining / time.Minute)
	seconds := int(remaining % time.Minute / time.Second)
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

func cmdStatus(ctx context.Context, args []string) error {
	flagSet, socketPath, asJSON := newFlagSet("status")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	var status api.StatusResponse
	client := service.NewClient(*socketPath)
	if err := client.Call(ctx, "status", nil, &status); err != nil {
		return err
	}
	if *asJSON {
		return printJSON(status)
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "mode:\t%s\n", status.Mode)
	if status.EndsAt != nil {
		fmt.Fprintf(writer, "remaining:\t%s\n", formatRemaining(*status.EndsAt, status.Now))
	}
	if status.Session != nil {
		fmt.Fprintf(writer, "type:\t%s\n", status.Session.Type)
		if status.Session.Intention != "" {
			fmt.Fprintf(writer, "intention:\t%s\n", status.Session.Intention)
		}
	}
	if status.ReviewPending {
		fmt.Fprintf(writer, "review:\tpending (run 'balancectl review')\n")
	}
	if status.LongBreak {
		fmt.Fprintf(writer, "break:\tlong\n")
	}
	return writer.Flush()
}

func cmdStart(ctx context.Context, args []string) error {
	flagSet, socketPath, asJSON := newFlagSet("start")
	sessionType := flagSet.String("type", "personal", "session type: expected or personal")
	intention := flagSet.String("intention", "", "what this session is for")
	priorityID := flagSet.Int64("priority", 0, "priority id (required for expected sessions)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	var started api.SessionResponse
	client := service.NewClient(*socketPath)
	err := client.Call(ctx, "start", map[string]any{
		"type":       *sessionType,
		"intention":  *intention,
		"priorityId": *priorityID,
	}, &started)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(started)
	}

	fmt.Printf("started %s session %s (%d minutes)\n",
		started.Session.Type, started.Session.ID,
		started.Session.DurationSeconds/60)
	return nil
}

func cmdAbandon(ctx context.Context, args []string) error {
	flagSet, socketPath, asJSON := newFlagSet("abandon")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	var abandoned api.SessionResponse
	client := service.NewClient(*socketPath)
	if err := client.Call(ctx, "abandon", nil, &abandoned); err != nil {
		return err
	}
	if *asJSON {
		return printJSON(abandoned)
	}

	fmt.Printf("abandoned session %s\n", abandoned.Session.ID)
	return nil
}

func cmdReview(ctx context.Context, args []string) error {
	flagSet, socketPath, asJSON := newFlagSet("review")
	distractions := flagSet.String("distractions", "", "distraction level: none, few, many, constant")
	didTheThing := flagSet.Bool("did-the-thing", false, "did the session accomplish its intention")
	rabbitHole := flagSet.Bool("rabbit-hole", false, "was this a rabbit hole (asked after consecutive personal sessions)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	fields := map[string]any{
		"distractions": *distractions,
		"didTheThing":  *didTheThing,
	}
	// Only send rabbitHole when the user answered; the daemon decides
	// whether the question was due.
	if flagSet.Changed("rabbit-hole") {
		fields["rabbitHole"] = *rabbitHole
	}

	var reviewed api.SessionResponse
	client := service.NewClient(*socketPath)
	if err := client.Call(ctx, "review", fields, &reviewed); err != nil {
		return err
	}
	if *asJSON {
		return printJSON(reviewed)
	}

	fmt.Printf("review recorded for session %s\n", reviewed.Session.ID)
	return nil
}

func cmdCheck(ctx context.Context, args []string) error {
	flagSet, socketPath, asJSON := newFlagSet("check")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	var check api.RabbitHoleResponse
	client := service.NewClient(*socketPath)
	if err := client.Call(ctx, "rabbit-hole-check", nil, &check); err != nil {
		return err
	}
	if *asJSON {
		return printJSON(check)
	}

	if check.ShouldAlert {
		fmt.Printf("%d personal sessions in a row; the next review will ask the rabbit-hole question\n",
			check.ConsecutiveCount)
	} else {
		fmt.Printf("personal streak: %d\n", check.ConsecutiveCount)
	}
	return nil
}

func cmdToday(ctx context.Context, args []string) error {
	flagSet, socketPath, asJSON := newFlagSet("today")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	var today api.TodayResponse
	client := service.NewClient(*socketPath)
	if err := client.Call(ctx, "today", nil, &today); err != nil {
		return err
	}
	if *asJSON {
		return printJSON(today)
	}

	fmt.Printf("%s: %d completed", today.Day, today.Completed)
	if today.CapRemaining >= 0 {
		fmt.Printf(", %d remaining before the cap", today.CapRemaining)
	}
	fmt.Println()

	if len(today.Sessions) == 0 {
		return nil
	}
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "ENDED\tTYPE\tSTATUS\tINTENTION\n")
	for _, record := range today.Sessions {
		endedAt := ""
		if record.EndedAt != nil {
			endedAt = record.EndedAt.Local().Format("15:04")
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n",
			endedAt, record.Type, record.Status, record.Intention)
	}
	return writer.Flush()
}

func cmdWatch(ctx context.Context, args []string) error {
	flagSet, socketPath, _ := newFlagSet("watch")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	return runWatch(ctx, service.NewClient(*socketPath))
}
