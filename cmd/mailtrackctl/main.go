// Command mailtrackctl is the operator CLI: manage tracked messages, run a
// follow-up sweep by hand, and fetch the GeoIP database.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ignite/mailtrack/internal/app"
	"github.com/ignite/mailtrack/internal/config"
	"github.com/ignite/mailtrack/internal/geoip"
	"github.com/ignite/mailtrack/internal/repository/postgres"
	"github.com/ignite/mailtrack/internal/service/tracks"
	"github.com/ignite/mailtrack/internal/storage"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:   "mailtrackctl",
		Usage:  "manage tracked messages and run maintenance tasks",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "config/config.yaml", Usage: "path to config file", EnvVars: []string{"MAILTRACK_CONFIG"}},
			&cli.BoolFlag{Name: "json", Usage: "print JSON instead of tables"},
		},
		Commands: []*cli.Command{
			{
				Name:  "track",
				Usage: "manage tracked messages",
				Subcommands: []*cli.Command{
					{
						Name:  "create",
						Usage: "create a tracked message and print its pixel URL",
						Flags: []cli.Flag{
							&cli.StringSliceFlag{Name: "recipient", Aliases: []string{"r"}, Usage: "recipient address; repeat for a group"},
							&cli.StringFlag{Name: "subject", Aliases: []string{"s"}},
							&cli.StringFlag{Name: "notes"},
							&cli.StringFlag{Name: "group", Usage: "message group ID for a single recipient"},
						},
						Action: createTrack,
					},
					{
						Name:  "list",
						Usage: "list tracked messages with open counts",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "group"},
							&cli.StringFlag{Name: "search", Aliases: []string{"q"}},
							&cli.IntFlag{Name: "limit", Value: 50},
							&cli.IntFlag{Name: "offset"},
						},
						Action: listTracks,
					},
					{
						Name:      "show",
						Usage:     "show a tracked message and its opens",
						ArgsUsage: "<tracking-id>",
						Action:    showTrack,
					},
					{
						Name:      "pin",
						Usage:     "pin or unpin a tracked message",
						ArgsUsage: "<tracking-id>",
						Flags:     []cli.Flag{&cli.BoolFlag{Name: "off", Usage: "unpin instead"}},
						Action:    pinTrack,
					},
					{
						Name:      "delete",
						Usage:     "delete a tracked message and its opens",
						ArgsUsage: "<tracking-id>",
						Action:    deleteTrack,
					},
				},
			},
			{
				Name:   "stats",
				Usage:  "print aggregate counts",
				Action: printStats,
			},
			{
				Name:  "sweep",
				Usage: "run one follow-up sweep now (skipped if another process holds the sweep lock)",
				Action: func(c *cli.Context) error {
					return withEnv(c, func(e *env) error {
						core, err := app.NewCore(c.Context, e.cfg, e.db)
						if err != nil {
							return err
						}
						defer core.Close()
						rc := app.OpenRedis(c.Context, e.cfg.Redis)
						if rc != nil {
							defer rc.Close()
						}
						if !app.NewSweeper(e.cfg, core, rc).RunOnce(c.Context) {
							return cli.Exit("sweep did not run to completion; see logs", 1)
						}
						fmt.Fprintln(c.App.Writer, "sweep complete")
						return nil
					})
				},
			},
			{
				Name:  "geoip",
				Usage: "manage the GeoLite2-City database",
				Subcommands: []*cli.Command{
					{
						Name:   "fetch",
						Usage:  "download the database from S3 or MaxMind, replacing the local copy",
						Action: fetchGeoIP,
					},
				},
			},
		},
	}
}

type env struct {
	cfg    *config.Config
	db     *sql.DB
	tracks *tracks.Service
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadFromEnv(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	app.ConfigureLogger(cfg.Logging)
	return cfg, nil
}

func withEnv(c *cli.Context, fn func(*env) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return cli.Exit("database.url (or DATABASE_URL) is required", 1)
	}
	db, err := app.OpenDB(c.Context, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(&env{
		cfg:    cfg,
		db:     db,
		tracks: tracks.NewService(postgres.NewTrackRepo(db), cfg.Server.BaseURL),
	})
}

func requireID(c *cli.Context) (string, error) {
	id := c.Args().First()
	if id == "" {
		return "", cli.Exit("a tracking ID is required", 2)
	}
	return id, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func createTrack(c *cli.Context) error {
	recipients := c.StringSlice("recipient")
	if len(recipients) > 1 && c.String("group") != "" {
		return cli.Exit("--group is generated for multiple recipients; omit it", 2)
	}
	return withEnv(c, func(e *env) error {
		var created []tracks.Track
		if len(recipients) > 1 {
			ts, err := e.tracks.CreateGroup(c.Context, recipients, c.String("subject"), c.String("notes"))
			if err != nil {
				return err
			}
			created = ts
		} else {
			in := tracks.CreateInput{Subject: c.String("subject"), Notes: c.String("notes"), GroupID: c.String("group")}
			if len(recipients) == 1 {
				in.Recipient = recipients[0]
			}
			t, err := e.tracks.Create(c.Context, in)
			if err != nil {
				return err
			}
			created = []tracks.Track{*t}
		}
		if c.Bool("json") {
			return printJSON(c.App.Writer, created)
		}
		for _, t := range created {
			fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\n", t.ID, t.Recipient, t.PixelURL)
		}
		return nil
	})
}

func listTracks(c *cli.Context) error {
	return withEnv(c, func(e *env) error {
		ts, total, err := e.tracks.List(c.Context, tracks.ListFilter{
			GroupID: c.String("group"),
			Search:  c.String("search"),
			Limit:   c.Int("limit"),
			Offset:  c.Int("offset"),
		})
		if err != nil {
			return err
		}
		if c.Bool("json") {
			return printJSON(c.App.Writer, map[string]any{"tracks": ts, "total": total})
		}
		writeTrackTable(c.App.Writer, ts)
		fmt.Fprintf(c.App.Writer, "%d of %d\n", len(ts), total)
		return nil
	})
}

func writeTrackTable(w io.Writer, ts []tracks.Track) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tRECIPIENT\tSUBJECT\tCREATED\tOPENS\tREAL\tPINNED")
	for _, t := range ts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%v\n",
			t.ID, t.Recipient, t.Subject, t.CreatedAt.Format(time.DateTime), t.OpenCount, t.RealOpenCount, t.Pinned)
	}
	tw.Flush()
}

func showTrack(c *cli.Context) error {
	id, err := requireID(c)
	if err != nil {
		return err
	}
	return withEnv(c, func(e *env) error {
		d, err := e.tracks.Get(c.Context, id)
		if errors.Is(err, tracks.ErrNotFound) {
			return cli.Exit("no such track: "+id, 1)
		}
		if err != nil {
			return err
		}
		if c.Bool("json") {
			return printJSON(c.App.Writer, d)
		}
		writeTrackTable(c.App.Writer, []tracks.Track{d.Track})
		fmt.Fprintf(c.App.Writer, "\npixel: %s\n\n", d.PixelURL)
		tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "OPENED\tIP\tLOCATION\tKIND")
		for _, o := range d.Opens {
			kind := "real"
			if !o.Real {
				kind = string(o.Proxy) + " proxy"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", o.OpenedAt.Format(time.DateTime), o.IPAddress, o.Location, kind)
		}
		return tw.Flush()
	})
}

func pinTrack(c *cli.Context) error {
	id, err := requireID(c)
	if err != nil {
		return err
	}
	pinned := !c.Bool("off")
	return withEnv(c, func(e *env) error {
		if _, err := e.tracks.Update(c.Context, id, tracks.Update{Pinned: &pinned}); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%s pinned=%v\n", id, pinned)
		return nil
	})
}

func deleteTrack(c *cli.Context) error {
	id, err := requireID(c)
	if err != nil {
		return err
	}
	return withEnv(c, func(e *env) error {
		if err := e.tracks.Delete(c.Context, id); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "deleted %s\n", id)
		return nil
	})
}

func printStats(c *cli.Context) error {
	return withEnv(c, func(e *env) error {
		st, err := e.tracks.GetStats(c.Context)
		if err != nil {
			return err
		}
		if c.Bool("json") {
			return printJSON(c.App.Writer, st)
		}
		fmt.Fprintf(c.App.Writer, "tracks: %d\nopens: %d (real %d)\ntracks with opens: %d\n",
			st.TotalTracks, st.TotalOpens, st.RealOpens, st.TracksWithOpens)
		return nil
	})
}

func fetchGeoIP(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Context, 5*time.Minute)
	defer cancel()

	var s3 geoip.FileDownloader
	if cfg.GeoIP.S3Bucket != "" {
		region := cfg.GeoIP.Region
		if region == "" {
			region = "us-east-1"
		}
		store, err := storage.NewS3Store(ctx, region, cfg.GeoIP.AWSProfile)
		if err != nil {
			return err
		}
		s3 = store
	}
	src := cfg.GeoIPSource()
	if err := geoip.NewProvisioner(s3, nil).Fetch(ctx, src); err != nil {
		if errors.Is(err, geoip.ErrNoSource) {
			return cli.Exit("set geoip.s3_bucket or MAXMIND_LICENSE_KEY", 1)
		}
		return err
	}
	fmt.Fprintf(c.App.Writer, "GeoIP database written to %s\n", src.Path)
	return nil
}
