// Command promote runs end-of-year session operations against the ledger:
//
//	promote sessions
//	promote rollover  -from 1 -to 2
//	promote student   -from 1 -to 2 -student 42
//	promote all       -from 1 -to 2
//	promote reconcile [-session 2]
//
// Output is JSON on stdout; logs go to stderr.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"feeledger/internal/cli"
	applog "feeledger/internal/log"
	"feeledger/internal/services"
)

const usage = `usage: promote <command> [flags]

commands:
  sessions    list academic sessions
  rollover    make -to the current session (requires -from current)
  student     promote one student from -from to -to
  all         promote every student enrolled in -from
  reconcile   compare cached balances with the entry log of -session
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cli.LoadEnvFile()
	logger := cli.SetupLoggerTo(applog.ComponentPromotion, os.Stderr)
	cfg := cli.LoadAndValidateConfig(logger)

	svc := cli.InitService(logger, cfg, true, nil)
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := run(ctx, svc, os.Args[1], os.Args[2:], os.Stdout); err != nil {
		logger.Error("Command failed", "command", os.Args[1], "error", err)
		svc.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, svc *services.FeeService, cmd string, args []string, out io.Writer) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	from := fs.Int64("from", 0, "source session id")
	to := fs.Int64("to", 0, "target session id")
	student := fs.Int64("student", 0, "student id")
	session := fs.Int64("session", 0, "session id (default: current)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch cmd {
	case "sessions":
		sessions, err := svc.Sessions(ctx)
		if err != nil {
			return err
		}
		return writeJSON(out, sessions)

	case "rollover":
		if err := requireIDs(map[string]int64{"from": *from, "to": *to}); err != nil {
			return err
		}
		sess, err := svc.RolloverSession(ctx, *from, *to)
		if err != nil {
			return err
		}
		return writeJSON(out, sess)

	case "student":
		if err := requireIDs(map[string]int64{"from": *from, "to": *to, "student": *student}); err != nil {
			return err
		}
		p, created, err := svc.PromoteStudent(ctx, *from, *to, *student)
		if err != nil {
			return err
		}
		return writeJSON(out, map[string]any{"promotion": p, "created": created})

	case "all":
		if err := requireIDs(map[string]int64{"from": *from, "to": *to}); err != nil {
			return err
		}
		res, err := svc.PromoteSession(ctx, *from, *to)
		if err != nil {
			return err
		}
		return writeJSON(out, res)

	case "reconcile":
		id := *session
		if id == 0 {
			cur, err := svc.CurrentSession(ctx)
			if err != nil {
				return err
			}
			id = cur.ID
		}
		report, err := svc.Reconcile(ctx, id)
		if err != nil {
			return err
		}
		return writeJSON(out, report)

	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

func requireIDs(ids map[string]int64) error {
	for name, id := range ids {
		if id <= 0 {
			return fmt.Errorf("-%s must be a positive id", name)
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
