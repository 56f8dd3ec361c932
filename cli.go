package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
)

// cliState carries values resolved while the app runs back to main.
type cliState struct {
	debug bool
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(stdout io.Writer, state *cliState) *cli.App {
	app := &cli.App{
		Name:      "universal-location-parser",
		Usage:     "Convert location history exports (timeline JSON, GPX, KML/KMZ) into one time-ordered CSV",
		Version:   Version,
		Writer:    stdout,
		ErrWriter: stdout,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Config file path (default: $XDG_CONFIG_HOME/universal-location-parser/config.yaml)"},
			&cli.BoolFlag{Name: "debug", Usage: "Verbose per-file logging and stack traces on crashes"},
		},
		Before: func(c *cli.Context) error {
			state.debug = c.Bool("debug")
			return nil
		},
		Commands: []*cli.Command{
			convertCmd(stdout, state),
			serveCmd(state),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

var timezoneFlags = []cli.Flag{
	&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "Fallback username when none can be derived from a file name"},
	&cli.StringFlag{Name: "input-tz", Usage: "Zone assumed for timestamps without an offset"},
	&cli.StringFlag{Name: "output-tz", Usage: "Zone output timestamps are expressed in"},
}

// loadOptions reads the config file and applies command-line overrides.
func loadOptions(c *cli.Context, state *cliState) (Config, Options, error) {
	cfg, err := LoadConfig(c.String("config"))
	if err != nil {
		return cfg, Options{}, err
	}

	overlay := Config{
		DataDir:        c.String("data-dir"),
		OutputFile:     c.String("output"),
		DefaultUser:    c.String("user"),
		InputTimezone:  c.String("input-tz"),
		OutputTimezone: c.String("output-tz"),
		Debug:          state.debug,
	}
	cfg = mergeConfig(cfg, overlay)
	state.debug = cfg.Debug

	opts, err := cfg.Options()
	return cfg, opts, err
}

// convertCmd creates the convert command.
func convertCmd(stdout io.Writer, state *cliState) *cli.Command {
	return &cli.Command{
		Name:  "convert",
		Usage: "Parse every supported file under the data directory and write a CSV",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "data-dir", Aliases: []string{"d"}, Usage: "Directory scanned recursively for input files"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Output CSV path"},
			&cli.BoolFlag{Name: "all-columns", Usage: "Write every schema column, even when empty"},
			&cli.StringFlag{Name: "db", Usage: "Also archive the records into this sqlite database"},
		}, timezoneFlags...),
		Action: func(c *cli.Context) error {
			cfg, opts, err := loadOptions(c, state)
			if err != nil {
				return err
			}
			return runConvert(c.Context, stdout, cfg, opts, c.Bool("all-columns"), c.String("db"))
		},
	}
}

func runConvert(ctx context.Context, stdout io.Writer, cfg Config, opts Options, allColumns bool, dbPath string) error {
	files, err := DiscoverFiles(cfg.DataDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no supported files found in %s", cfg.DataDir)
	}
	fmt.Fprintf(stdout, "Found %d files in %s\n", len(files), cfg.DataDir)

	pipeline := NewPipeline(opts)
	merged, results, err := pipeline.Run(ctx, files, func(i int, res FileResult) {
		prefix := fmt.Sprintf("[%s %d/%d] %s:", res.Kind, i+1, len(files), filepath.Base(res.Path))
		switch {
		case res.OK():
			fmt.Fprintf(stdout, "%s %s records\n", prefix, humanize.Comma(int64(res.Records)))
		case res.Err != nil:
			fmt.Fprintf(stdout, "%s skipped (%v)\n", prefix, res.Err)
		default:
			fmt.Fprintf(stdout, "%s no records\n", prefix)
		}
	})
	if err != nil {
		return err
	}

	summary := Summarize(merged, results)
	size, err := ExportCSV(cfg.OutputFile, merged, allColumns)
	if err != nil {
		summary.Print(stdout)
		return err
	}
	summary.OutputFile = cfg.OutputFile
	summary.OutputSizeBytes = size

	if dbPath != "" {
		db, err := OpenDB(dbPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		run, err := NewRunManager(db, pipeline).Archive("convert:"+cfg.DataDir, merged, results)
		if err != nil {
			return fmt.Errorf("failed to archive records: %w", err)
		}
		fmt.Fprintf(stdout, "Archived run %s: %s imported, %s duplicates skipped\n",
			run.ID, humanize.Comma(int64(run.Imported)), humanize.Comma(int64(run.Skipped)))
	}

	summary.Print(stdout)
	return nil
}

// serveCmd creates the serve command.
func serveCmd(state *cliState) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the record archive over HTTP and accept uploads",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "addr", Value: ":8080", Usage: "Listen address"},
			&cli.StringFlag{Name: "db", Value: "./data/locations.db", Usage: "Database path"},
			&cli.StringFlag{Name: "upload-dir", Usage: "Staging directory for uploads (default: next to the database)"},
		}, timezoneFlags...),
		Action: func(c *cli.Context) error {
			_, opts, err := loadOptions(c, state)
			if err != nil {
				return err
			}

			db, err := OpenDB(c.String("db"))
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer db.Close()

			uploadDir := c.String("upload-dir")
			if uploadDir == "" {
				uploadDir = filepath.Join(filepath.Dir(c.String("db")), "uploads")
			}

			runs := NewRunManager(db, NewPipeline(opts))
			server := NewServer(db, runs, opts, uploadDir)
			return serve(c.Context, c.String("addr"), server.Routes(), runs)
		},
	}
}

// serve runs the HTTP server until ctx is cancelled, then drains requests
// and background imports.
func serve(ctx context.Context, addr string, handler http.Handler, runs *RunManager) error {
	srv := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("starting server on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	runs.Wait()
	log.Printf("server stopped")
	return nil
}
