package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"talk-archive/pkg/app"
	"talk-archive/pkg/config"
	"talk-archive/pkg/domain"
	"talk-archive/pkg/jobs"
	"talk-archive/pkg/logging"
)

const usage = `usage: jobctl [-config file] <command> [flags]

commands:
  create -url URL -email ADDR [-run]   create a job, optionally processing it now
  process ID                           run a pending job
  retry ID                             reset a failed job and run it again
  list [-status S] [-email ADDR] [-limit N]
  details ID                           job row, edit overrides and latest log
  edit-metadata ID [-title T] [-date D] [-youtube-id V] [-source S]
  edit-transcript ID -file segments.json
  delete ID                            purge a job's content and mark it deleted
  purge-archive                        purge all completed and failed jobs
  log ID                               print the latest saved log
  sync-results [-from-mongo]           copy raw results missing from mongo (or from sql)
`

var errUsage = errors.New("invalid usage")

func main() {
	global := flag.NewFlagSet("jobctl", flag.ExitOnError)
	configPath := global.String("config", os.Getenv("TALK_ARCHIVE_CONFIG"), "YAML config file")
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	_ = global.Parse(os.Args[1:])
	if global.NArg() == 0 {
		global.Usage()
		os.Exit(2)
	}

	cfg := config.LoadFrom(*configPath)
	logger := logging.New(cfg.Logging.Level, os.Stderr)

	ctx := context.Background()
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	if global.Arg(0) == "sync-results" {
		err = syncResults(ctx, application, global.Args()[1:], os.Stdout)
	} else {
		err = run(ctx, application.Jobs, global.Arg(0), global.Args()[1:], os.Stdout)
	}
	if cerr := application.Close(ctx); cerr != nil {
		logger.Warn("shutdown", "error", cerr)
	}
	if errors.Is(err, errUsage) {
		fmt.Fprintf(os.Stderr, "%v\n\n%s", err, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("command failed", "command", global.Arg(0), "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, svc *jobs.Service, cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "create":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		url := fs.String("url", "", "talk page URL")
		email := fs.String("email", "", "address to notify")
		runNow := fs.Bool("run", false, "process the job before returning")
		if err := fs.Parse(args); err != nil {
			return errUsage
		}
		job, err := svc.CreateJob(ctx, *url, *email)
		if err != nil {
			return err
		}
		if *runNow {
			if err := svc.RunJob(ctx, job.ID); err != nil {
				return err
			}
			if job, err = svc.GetJob(ctx, job.ID); err != nil {
				return err
			}
		}
		return writeJSON(out, job)

	case "process", "retry":
		id, err := jobID(args)
		if err != nil {
			return err
		}
		if cmd == "retry" {
			err = svc.RetryJob(ctx, id)
		} else {
			err = svc.ProcessJob(ctx, id)
		}
		if err != nil {
			return err
		}
		svc.Wait()
		job, err := svc.GetJob(ctx, id)
		if err != nil {
			return err
		}
		return writeJSON(out, job)

	case "list":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		status := fs.String("status", "", "pending|running|completed|failed|deleted")
		email := fs.String("email", "", "owner address")
		limit := fs.Int("limit", 0, "maximum rows")
		if err := fs.Parse(args); err != nil {
			return errUsage
		}
		f := jobs.Filter{UserEmail: *email, Status: domain.JobStatus(*status), Limit: *limit}
		if f.Status != "" && !f.Status.Valid() {
			return fmt.Errorf("%w: unknown status %q", errUsage, *status)
		}
		list, err := svc.ListJobs(ctx, f)
		if err != nil {
			return err
		}
		return writeJSON(out, list)

	case "details":
		id, err := jobID(args)
		if err != nil {
			return err
		}
		d, err := svc.GetJobDetails(ctx, id)
		if err != nil {
			return err
		}
		return writeJSON(out, d)

	case "edit-metadata":
		id, err := jobID(args)
		if err != nil {
			return err
		}
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		var m domain.EditedMetadata
		fs.StringVar(&m.Title, "title", "", "talk title")
		fs.StringVar(&m.Date, "date", "", "talk date")
		fs.StringVar(&m.YoutubeID, "youtube-id", "", "video id")
		fs.StringVar(&m.Source, "source", "", "source URL")
		if err := fs.Parse(args[1:]); err != nil {
			return errUsage
		}
		return svc.UpdateMetadata(ctx, id, m)

	case "edit-transcript":
		id, err := jobID(args)
		if err != nil {
			return err
		}
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		file := fs.String("file", "", "JSON array of segments")
		if err := fs.Parse(args[1:]); err != nil || *file == "" {
			return errUsage
		}
		raw, err := os.ReadFile(*file)
		if err != nil {
			return err
		}
		var segs []domain.EditedSegment
		if err := json.Unmarshal(raw, &segs); err != nil {
			return fmt.Errorf("parse %s: %w", *file, err)
		}
		return svc.UpdateTranscript(ctx, id, segs)

	case "delete":
		id, err := jobID(args)
		if err != nil {
			return err
		}
		return svc.DeleteContent(ctx, id)

	case "purge-archive":
		n, err := svc.DeleteArchive(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "purged %d jobs\n", n)
		return nil

	case "log":
		id, err := jobID(args)
		if err != nil {
			return err
		}
		log, err := svc.GetLatestLog(ctx, id)
		if err != nil {
			return err
		}
		_, err = io.WriteString(out, log)
		return err

	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func syncResults(ctx context.Context, application *app.Application, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("sync-results", flag.ContinueOnError)
	fromMongo := fs.Bool("from-mongo", false, "copy from mongo into the sql table")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	r, err := application.Replicator(!*fromMongo)
	if err != nil {
		return err
	}
	report, err := r.Replicate(ctx)
	fmt.Fprintf(out, "copied %d of %d results (%d already present)\n", report.Copied, report.Total, report.Skipped)
	return err
}

func jobID(args []string) (int64, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("%w: job id required", errUsage)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: bad job id %q", errUsage, args[0])
	}
	return id, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
