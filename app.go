package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"syscall"

	"github.com/paulmach/orb/geojson"

	"github.com/kwv/vtrstats/locstats"
)

// App encapsulates the application state and dependencies
type App struct {
	Config       *locstats.Config
	StateTracker *locstats.StateTracker
	MQTTClient   *locstats.MQTTClient
	Publisher    *locstats.Publisher
	Store        *locstats.SummaryStore

	// newMQTT dials the broker; nil means locstats.InitMQTT
	newMQTT    func(locstats.MQTTConfig, locstats.RefreshHandler, locstats.ConnectHandler) (*locstats.MQTTClient, error)
	httpServer *http.Server

	// Out receives human-readable reports
	Out io.Writer

	// CLI Flags (effectively dependencies)
	ConfigFile   string
	DataDir      string
	Exclude      string
	OutputFile   string
	SnapshotFile string
	HttpPort     int
	ServiceMode  bool
	MqttMode     bool
	HttpMode     bool

	refreshMu sync.Mutex
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		StateTracker: locstats.NewStateTracker(),
		Out:          os.Stdout,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.DataDir = opts.DataDir
	a.Exclude = opts.Exclude
	a.OutputFile = opts.OutputFile
	a.SnapshotFile = opts.SnapshotFile
	a.HttpPort = opts.HttpPort
	a.ServiceMode = opts.ServiceMode
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
}

// loadConfig reads the config file, applies --data-dir, --exclude and the
// MQTT_* environment, then validates the result.
func (a *App) loadConfig() error {
	if a.Config != nil {
		return nil
	}

	path := a.ConfigFile
	if path == "" {
		path = "config.yaml"
	}
	// A default config path is resolved inside --data-dir when given
	if path == "config.yaml" && a.DataDir != "" {
		path = filepath.Join(a.DataDir, "config.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg, err := locstats.ParseConfig(data)
	if err != nil {
		return err
	}

	if a.DataDir != "" {
		cfg.DataDir = a.DataDir
	}
	if a.Exclude != "" {
		extra, err := locstats.ParseRunList(a.Exclude)
		if err != nil {
			return fmt.Errorf("%w: --exclude: %v", locstats.ErrInvalidConfig, err)
		}
		cfg.ExcludedRepeats = mergeRuns(cfg.ExcludedRepeats, extra)
	}
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return err
	}
	a.Config = cfg
	log.Printf("Loaded config from %s (dataset %q, %d repeats, %d excluded)",
		path, cfg.Dataset, cfg.TotalRepeats, len(cfg.ExcludedRepeats))
	return nil
}

func mergeRuns(a, b []int) []int {
	seen := make(map[int]bool, len(a)+len(b))
	var out []int
	for _, r := range append(append([]int(nil), a...), b...) {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	sort.Ints(out)
	return out
}

func (a *App) aggregate() (locstats.AggregateResult, error) {
	agg, err := locstats.NewAggregator(a.Config)
	if err != nil {
		return locstats.AggregateResult{}, err
	}
	return agg.AggregateDir(a.Config.DataDir), nil
}

// RunSummarize aggregates every retained repeat and prints one line per run.
// With --output the full result is also written as JSON.
func (a *App) RunSummarize() error {
	if err := a.loadConfig(); err != nil {
		return err
	}
	result, err := a.aggregate()
	if err != nil {
		return err
	}

	fmt.Fprintf(a.Out, "\n%-5s %-17s %8s %10s %12s %8s\n", "RUN", "TIME", "RECORDS", "INLIERS", "COMP (ms)", "SUCCESS")
	for _, s := range result.Summaries {
		fmt.Fprintf(a.Out, "%-5d %-17s %8d %10.1f %12.1f %7.1f%%\n",
			s.RunIndex, s.Time.Format("2006-01-02 15:04"), s.RecordCount,
			s.MeanInliers, s.MeanComputationTimeMs, s.SuccessRate*100)
	}
	for _, f := range result.Failures {
		fmt.Fprintf(a.Out, "%-5d FAILED: %s\n", f.RunIndex, f.Message)
	}

	if a.Config.Store.Path != "" {
		if err := a.openStore(); err != nil {
			return err
		}
		defer a.Store.Close()
		if err := a.Store.SaveSummaries(a.Config.Dataset, result.Summaries); err != nil {
			return err
		}
	}

	if a.OutputFile != "" {
		return writeJSON(a.OutputFile, io.Discard, result)
	}
	return nil
}

// RunTrajectory composes every retained repeat into the teach frame and
// writes the teach path plus all trajectories as a GeoJSON FeatureCollection.
func (a *App) RunTrajectory() error {
	if err := a.loadConfig(); err != nil {
		return err
	}
	fc, err := a.buildTrajectories()
	if err != nil {
		return err
	}
	return writeJSON(a.OutputFile, a.Out, fc)
}

func (a *App) buildTrajectories() (*geojson.FeatureCollection, error) {
	teach, err := locstats.ReadOdometryLog(a.Config.TeachLogPath(), locstats.DefaultOdometrySchema())
	if err != nil {
		return nil, fmt.Errorf("loading teach log: %w", err)
	}
	table := locstats.BuildTransformTable(teach)
	log.Printf("[TRAJ] teach log %s: %d records, %d vertices", a.Config.TeachLogPath(), len(teach), len(table))

	agg, err := locstats.NewAggregator(a.Config)
	if err != nil {
		return nil, err
	}

	var runs []locstats.TrajectoryResult
	for _, run := range agg.RetainedRuns() {
		traj, err := locstats.LoadTrajectory(run, a.Config.RepeatLogPath(run), table, a.Config.UnknownVertexPolicy)
		if err != nil {
			log.Printf("[TRAJ] skipping run %d: %v", run, err)
			continue
		}
		if traj.Skipped > 0 {
			log.Printf("[TRAJ] run %d: skipped %d records with unknown vertices", run, traj.Skipped)
		}
		runs = append(runs, traj)
	}

	return locstats.TrajectoryFeatureCollection(teach, runs, a.Config.SimplifyTolerance), nil
}

// cdfReport is the --cdf output and the body of the /cdf endpoint
type cdfReport struct {
	Curves        []locstats.CDFCurve     `json:"curves"`
	TimeDistances []locstats.TimeDistance `json:"timeDistances"`
	Reference     string                  `json:"referenceTimeOfDay"`
}

func buildCDFReport(summaries []locstats.RunSummary, cfg *locstats.Config) (cdfReport, error) {
	curves, err := locstats.RunCDFs(summaries, cfg.Distribution)
	if err != nil {
		return cdfReport{}, err
	}
	ref, err := cfg.ReferenceTime()
	if err != nil {
		return cdfReport{}, err
	}
	return cdfReport{
		Curves:        curves,
		TimeDistances: locstats.RunTimeDistances(summaries, ref),
		Reference:     ref.String(),
	}, nil
}

// RunCDF writes the adaptive inlier CDF and normalized time-of-day distance
// of every summarized run.
func (a *App) RunCDF() error {
	if err := a.loadConfig(); err != nil {
		return err
	}
	result, err := a.aggregate()
	if err != nil {
		return err
	}
	report, err := buildCDFReport(result.Summaries, a.Config)
	if err != nil {
		return err
	}
	return writeJSON(a.OutputFile, a.Out, report)
}

func (a *App) openStore() error {
	loc, err := a.Config.Location()
	if err != nil {
		return err
	}
	store, err := locstats.OpenSummaryStore(a.Config.Store.Path, loc)
	if err != nil {
		return err
	}
	a.Store = store
	return nil
}

// Refresh re-runs aggregation and trajectory export, then stores and
// publishes the result. Concurrent calls are serialized.
func (a *App) Refresh() error {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	result, err := a.aggregate()
	if err != nil {
		return err
	}
	if err := a.StateTracker.SetResult(result); err != nil {
		log.Printf("Warning: failed to write snapshot: %v", err)
	}

	if fc, err := a.buildTrajectories(); err != nil {
		log.Printf("[TRAJ] trajectory export failed: %v", err)
	} else {
		a.StateTracker.SetTrajectories(fc)
	}

	if a.Store != nil {
		if err := a.Store.SaveSummaries(a.Config.Dataset, result.Summaries); err != nil {
			log.Printf("[STORE] failed to save summaries: %v", err)
		}
	}
	if a.Publisher != nil {
		if err := a.Publisher.PublishResult(result); err != nil {
			log.Printf("[MQTT] failed to publish summaries: %v", err)
		}
	}
	return nil
}

// publishCurrent republishes the latest result. It runs on every broker
// connection, since the first aggregation pass usually finishes before the
// initial connect.
func (a *App) publishCurrent() {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	result := a.StateTracker.Result()
	if a.Publisher == nil || result == nil {
		return
	}
	if err := a.Publisher.PublishResult(*result); err != nil {
		log.Printf("[MQTT] failed to republish summaries: %v", err)
	}
}

// startService loads the config and snapshot, starts HTTP and MQTT as
// requested, then runs the first aggregation pass. HTTP serves the snapshot
// while that pass runs.
func (a *App) startService() error {
	if err := a.loadConfig(); err != nil {
		return err
	}
	if a.SnapshotFile != "" {
		a.StateTracker = locstats.NewStateTrackerWithCache(a.SnapshotFile)
		if a.StateTracker.HasSummaries() {
			log.Printf("Loaded snapshot from %s", a.SnapshotFile)
		}
	}

	if a.Config.Store.Path != "" {
		if err := a.openStore(); err != nil {
			return err
		}
	}

	mqttEnabled := a.MqttMode || (a.ServiceMode && a.Config.MQTT.Broker != "")
	httpEnabled := a.HttpMode || a.ServiceMode

	if httpEnabled {
		addr := fmt.Sprintf("0.0.0.0:%d", a.HttpPort)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("starting HTTP server: %w", err)
		}
		a.httpServer = &http.Server{Handler: newHTTPServer(a.StateTracker, a.Config)}
		go func() {
			log.Printf("[HTTP] Starting server on %s", ln.Addr())
			if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("[HTTP] Server error: %v", err)
			}
		}()
	}

	if mqttEnabled {
		if err := a.startMQTT(); err != nil {
			return err
		}
	}

	return a.Refresh()
}

// startMQTT connects to the broker. The client and publisher are assigned
// under refreshMu so callbacks fired by an early connection wait for them.
func (a *App) startMQTT() error {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	newClient := a.newMQTT
	if newClient == nil {
		newClient = locstats.InitMQTT
	}
	client, err := newClient(a.Config.MQTT, func(payload string) {
		if payload != "" && payload != a.Config.Dataset {
			log.Printf("[MQTT] ignoring refresh for dataset %q", payload)
			return
		}
		if err := a.Refresh(); err != nil {
			log.Printf("[MQTT] refresh failed: %v", err)
		}
	}, a.publishCurrent)
	if err != nil {
		return err
	}
	if client == nil {
		return errors.New("MQTT requested but no broker configured")
	}
	a.MQTTClient = client
	a.Publisher = locstats.NewPublisher(client.Client(), a.Config.MQTT.PublishPrefix, a.Config.Dataset)
	return nil
}

// stopService closes whatever startService opened
func (a *App) stopService() {
	if a.httpServer != nil {
		if err := a.httpServer.Close(); err != nil {
			log.Printf("[HTTP] close: %v", err)
		}
	}
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	if a.Store != nil {
		a.Store.Close()
	}
}

// RunService serves results over HTTP and MQTT until interrupted. MQTT
// refresh commands re-run the aggregation.
func (a *App) RunService() error {
	fmt.Fprintln(a.Out, "Starting vtrstats service...")

	err := a.startService()
	defer a.stopService()
	if err != nil {
		return err
	}

	fmt.Fprintln(a.Out, "\nService Running")
	fmt.Fprintln(a.Out, "===============")
	if a.MQTTClient != nil {
		fmt.Fprintf(a.Out, "\nMQTT:\n  Publishing to: %s/runs/{index}, %s/summaries\n  Refresh topic: %s\n",
			a.Config.MQTT.PublishPrefix, a.Config.MQTT.PublishPrefix, a.MQTTClient.RefreshTopic())
	}
	if a.httpServer != nil {
		fmt.Fprintf(a.Out, "\nHTTP endpoints (port %d):\n", a.HttpPort)
		fmt.Fprintln(a.Out, "  GET /health             - Health check")
		fmt.Fprintln(a.Out, "  GET /summaries          - All run summaries")
		fmt.Fprintln(a.Out, "  GET /summaries/{run}    - One run summary")
		fmt.Fprintln(a.Out, "  GET /failures           - Runs that failed to load")
		fmt.Fprintln(a.Out, "  GET /cdf                - Inlier CDF per run")
		fmt.Fprintln(a.Out, "  GET /time-distance      - Time-of-day distance per run")
		fmt.Fprintln(a.Out, "  GET /trajectory.geojson - Teach path and repeat trajectories")
	}
	fmt.Fprintln(a.Out, "\nPress Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Fprintln(a.Out, "\nShutting down service...")
	return nil
}

// writeJSON writes v to path, or to fallback when path is empty
func writeJSON(path string, fallback io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	if path == "" {
		_, err := fallback.Write(append(data, '\n'))
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	log.Printf("Wrote %s", path)
	return nil
}
