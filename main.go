package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions carries the parsed command line
type AppOptions struct {
	ConfigFile   string
	DataDir      string
	Exclude      string
	OutputFile   string
	SnapshotFile string
	Summarize    bool
	Trajectory   bool
	CDF          bool
	ServiceMode  bool
	MqttMode     bool
	HttpMode     bool
	HttpPort     int
}

// Runner is the set of modes main can dispatch to
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunSummarize() error
	RunTrajectory() error
	RunCDF() error
	RunService() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatalf("vtrstats: %v", err)
	}
}

func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("vtrstats", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.DataDir, "data-dir", "", "Override the experiment data directory from the config")
	fs.StringVar(&opts.Exclude, "exclude", "", "Extra repeat indices to exclude, e.g. 6,7,10-12")
	fs.StringVar(&opts.OutputFile, "output", "", "Output file for --summarize, --trajectory and --cdf (default stdout)")
	fs.StringVar(&opts.SnapshotFile, "snapshot", "", "JSON snapshot of the last aggregation, reloaded on service start")
	fs.BoolVar(&opts.Summarize, "summarize", false, "Aggregate all retained repeats and print per-run summaries")
	fs.BoolVar(&opts.Trajectory, "trajectory", false, "Compose repeat trajectories in the teach frame and write GeoJSON")
	fs.BoolVar(&opts.CDF, "cdf", false, "Write per-run inlier CDFs and time-of-day distances as JSON")
	fs.BoolVar(&opts.ServiceMode, "service", false, "Run as a service (HTTP and MQTT as configured)")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Publish summaries to MQTT and listen for refresh commands")
	fs.BoolVar(&opts.HttpMode, "http", false, "Serve summaries over HTTP")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "vtrstats version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.Summarize:
		return app.RunSummarize()
	case opts.Trajectory:
		return app.RunTrajectory()
	case opts.CDF:
		return app.RunCDF()
	case opts.ServiceMode || opts.MqttMode || opts.HttpMode:
		return app.RunService()
	}

	fmt.Fprintln(out, "No mode selected.")
	fmt.Fprintln(out, "Use --summarize to print per-run localization summaries")
	fmt.Fprintln(out, "Use --trajectory to export repeat trajectories as GeoJSON")
	fmt.Fprintln(out, "Use --cdf to export inlier distributions and time-of-day distances")
	fmt.Fprintln(out, "Use --service (or --http / --mqtt) to serve and publish summaries")
	return nil
}
