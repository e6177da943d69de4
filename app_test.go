package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwv/vtrstats/locstats"
)

// ---------------------------------------------------------------------------
// fixtures
// ---------------------------------------------------------------------------

func writeFile(t *testing.T, path string, lines ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))
}

// translationRow renders a vo.csv row for a vertex translated by (x, 0, 0)
func translationRow(vertex int, x float64) string {
	tf := locstats.Translation4(x, 0, 0)
	fields := []string{fmt.Sprint(vertex * 10), "0", fmt.Sprint(vertex), fmt.Sprint(x), "0", "0"}
	for _, v := range tf.ColumnMajor() {
		fields = append(fields, fmt.Sprint(v))
	}
	return strings.Join(fields, ",")
}

// setupDataDir builds a four-repeat experiment: repeat 2 is excluded,
// repeat 3 has a broken info log.
func setupDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "run_000000", "vo.csv"),
		"timestamp,run,vertex,x,y,z,T...",
		translationRow(0, 0),
		translationRow(1, 1),
		translationRow(2, 2),
	)

	noon := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC).UnixNano()
	evening := time.Date(2021, 6, 2, 18, 0, 0, 0, time.UTC).UnixNano()
	info := func(run int) string {
		return filepath.Join(dir, "graph.index", "repeats", fmt.Sprint(run), "results", "info.csv")
	}
	header := "timestamp,live,priv,success,rgb,gray,cc,depth,nverts,comp"
	writeFile(t, info(1), header,
		fmt.Sprintf("%d,5,0,1,100,50,30,5,20,30", noon),
		fmt.Sprintf("%d,6,1,1,300,50,30,5,20,50", noon+1),
	)
	writeFile(t, info(3), header, "bad")
	writeFile(t, info(4), header, fmt.Sprintf("%d,5,2,0,60,50,30,5,20,10", evening))

	locHeader := "timestamp,live,live_run,map_run,map_vertex,ok,x,y,z"
	writeFile(t, filepath.Join(dir, "run_000001", "loc.csv"), locHeader,
		"1,5,1,0,1,1,0,1,0",
		"2,6,1,0,2,1,0,1,0",
	)
	writeFile(t, filepath.Join(dir, "run_000004", "loc.csv"), locHeader,
		"1,5,4,0,0,1,0,0,0",
		"2,6,4,0,99,1,0,0,0",
	)

	writeFile(t, filepath.Join(dir, "config.yaml"),
		"dataset: test",
		"dataDir: "+dir,
		"totalRepeats: 4",
		"excludedRepeats: [2]",
		"unknownVertexPolicy: skip",
		"timezone: UTC",
	)
	return dir
}

func newTestApp(t *testing.T, dir string, opts AppOptions) (*App, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	app := NewApp()
	app.Out = &out
	if opts.ConfigFile == "" {
		opts.ConfigFile = filepath.Join(dir, "config.yaml")
	}
	app.ApplyOptions(opts)
	return app, &out
}

// ---------------------------------------------------------------------------
// tests
// ---------------------------------------------------------------------------

func TestNewApp(t *testing.T) {
	app := NewApp()
	require.NotNil(t, app)
	assert.NotNil(t, app.StateTracker)
	assert.NotNil(t, app.Out)
}

func TestApplyOptions(t *testing.T) {
	app := NewApp()
	opts := AppOptions{
		ConfigFile:   "exp.yaml",
		DataDir:      "/data",
		Exclude:      "1-3",
		OutputFile:   "out.json",
		SnapshotFile: "snap.json",
		HttpPort:     9000,
		ServiceMode:  true,
		MqttMode:     true,
		HttpMode:     true,
	}
	app.ApplyOptions(opts)

	assert.Equal(t, "exp.yaml", app.ConfigFile)
	assert.Equal(t, "/data", app.DataDir)
	assert.Equal(t, "1-3", app.Exclude)
	assert.Equal(t, "out.json", app.OutputFile)
	assert.Equal(t, "snap.json", app.SnapshotFile)
	assert.Equal(t, 9000, app.HttpPort)
	assert.True(t, app.ServiceMode)
	assert.True(t, app.MqttMode)
	assert.True(t, app.HttpMode)
}

func TestLoadConfig_Overrides(t *testing.T) {
	dir := setupDataDir(t)
	other := t.TempDir()
	t.Setenv("MQTT_BROKER", "tcp://env:1883")

	app, _ := newTestApp(t, dir, AppOptions{DataDir: other, Exclude: "4,2", ConfigFile: filepath.Join(dir, "config.yaml")})
	require.NoError(t, app.loadConfig())

	assert.Equal(t, other, app.Config.DataDir)
	assert.Equal(t, []int{2, 4}, app.Config.ExcludedRepeats)
	assert.Equal(t, "tcp://env:1883", app.Config.MQTT.Broker)
}

func TestLoadConfig_DefaultPathInDataDir(t *testing.T) {
	dir := setupDataDir(t)
	app := NewApp()
	app.ApplyOptions(AppOptions{ConfigFile: "config.yaml", DataDir: dir})

	require.NoError(t, app.loadConfig())
	assert.Equal(t, "test", app.Config.Dataset)
}

func TestLoadConfig_BadExclude(t *testing.T) {
	dir := setupDataDir(t)
	app, _ := newTestApp(t, dir, AppOptions{Exclude: "9"})
	assert.ErrorIs(t, app.loadConfig(), locstats.ErrInvalidConfig)
}

func TestRunSummarize(t *testing.T) {
	dir := setupDataDir(t)
	output := filepath.Join(t.TempDir(), "summary.json")
	app, out := newTestApp(t, dir, AppOptions{OutputFile: output})

	require.NoError(t, app.RunSummarize())

	report := out.String()
	assert.Contains(t, report, "2021-06-01 12:00")
	assert.Contains(t, report, "200.0")
	assert.Contains(t, report, "FAILED")

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	var result locstats.AggregateResult
	require.NoError(t, json.Unmarshal(data, &result))
	require.Len(t, result.Summaries, 2)
	assert.Equal(t, 1, result.Summaries[0].RunIndex)
	assert.Equal(t, 4, result.Summaries[1].RunIndex)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, 3, result.Failures[0].RunIndex)
}

func TestRunSummarize_WithStore(t *testing.T) {
	dir := setupDataDir(t)
	dbPath := filepath.Join(t.TempDir(), "trend.db")
	cfgPath := filepath.Join(dir, "config.yaml")
	f, err := os.OpenFile(cfgPath, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = fmt.Fprintf(f, "store:\n  path: %s\n", dbPath)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	app, _ := newTestApp(t, dir, AppOptions{})
	require.NoError(t, app.RunSummarize())

	store, err := locstats.OpenSummaryStore(dbPath, time.UTC)
	require.NoError(t, err)
	defer store.Close()
	rows, err := store.ListSummaries("test")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestRunTrajectory(t *testing.T) {
	dir := setupDataDir(t)
	app, out := newTestApp(t, dir, AppOptions{})

	require.NoError(t, app.RunTrajectory())

	body := out.String()
	body = body[strings.Index(body, "{"):]
	fc, err := geojson.UnmarshalFeatureCollection([]byte(body))
	require.NoError(t, err)

	// teach path plus repeats 1 and 4
	require.Len(t, fc.Features, 3)
	assert.Equal(t, "teach", fc.Features[0].Properties.MustString("kind"))
	assert.Equal(t, 1.0, fc.Features[1].Properties.MustFloat64("runIndex"))
	assert.Equal(t, 4.0, fc.Features[2].Properties.MustFloat64("runIndex"))
	assert.Equal(t, 1.0, fc.Features[2].Properties.MustFloat64("skipped"))
}

func TestRunCDF(t *testing.T) {
	dir := setupDataDir(t)
	output := filepath.Join(t.TempDir(), "cdf.json")
	app, _ := newTestApp(t, dir, AppOptions{OutputFile: output})

	require.NoError(t, app.RunCDF())

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	var report cdfReport
	require.NoError(t, json.Unmarshal(data, &report))

	require.Len(t, report.Curves, 2)
	require.Len(t, report.TimeDistances, 2)
	assert.Equal(t, "12:00:00", report.Reference)
	assert.Equal(t, 0.0, report.TimeDistances[0].Normalized)
	assert.Equal(t, 1.0, report.TimeDistances[1].Normalized)
	assert.Equal(t, 6.0, report.TimeDistances[1].Hours)
}

func TestRefresh_PublishesAndUpdatesState(t *testing.T) {
	dir := setupDataDir(t)
	app, _ := newTestApp(t, dir, AppOptions{})
	require.NoError(t, app.loadConfig())

	mock := locstats.NewMockClient()
	mock.SetConnected(true)
	app.Publisher = locstats.NewPublisher(mock, "lab", "test")

	require.NoError(t, app.Refresh())

	assert.True(t, app.StateTracker.HasSummaries())
	assert.NotNil(t, app.StateTracker.Trajectories())

	var topics []string
	for _, m := range mock.PublishedMessages() {
		topics = append(topics, m.Topic)
	}
	assert.Equal(t, []string{"lab/runs/1", "lab/runs/4", "lab/summaries"}, topics)
}

func TestStartService_PublishesOnConnect(t *testing.T) {
	dir := setupDataDir(t)
	app, _ := newTestApp(t, dir, AppOptions{MqttMode: true})

	mock := locstats.NewMockClient()
	app.newMQTT = func(cfg locstats.MQTTConfig, onRefresh locstats.RefreshHandler, onConnected locstats.ConnectHandler) (*locstats.MQTTClient, error) {
		return locstats.NewMockMQTTClient(mock, cfg.PublishPrefix, onRefresh, onConnected), nil
	}

	require.NoError(t, app.startService())
	defer app.stopService()

	assert.True(t, app.StateTracker.HasSummaries())
	assert.Empty(t, mock.PublishedMessages(), "broker not connected yet")

	mock.Connect()

	var topics []string
	for _, m := range mock.PublishedMessages() {
		topics = append(topics, m.Topic)
		assert.True(t, m.Retain, m.Topic)
	}
	assert.Equal(t, []string{"vtrstats/runs/1", "vtrstats/runs/4", "vtrstats/summaries"}, topics)

	mock.SimulateMessage("vtrstats/cmd/refresh", []byte("test"))
	assert.Len(t, mock.PublishedMessages(), 6)
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func getSummaries(base string) ([]locstats.RunSummary, int, error) {
	resp, err := http.Get(base + "/summaries")
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, nil
	}
	var summaries []locstats.RunSummary
	err = json.NewDecoder(resp.Body).Decode(&summaries)
	return summaries, resp.StatusCode, err
}

func TestStartService_ServesSnapshotDuringFirstPass(t *testing.T) {
	dir := setupDataDir(t)
	snapshot := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, locstats.SaveAggregateResult(snapshot, &locstats.AggregateResult{
		Summaries: []locstats.RunSummary{{RunIndex: 9, MeanInliers: 42}},
		Failures:  []locstats.RunFailure{},
	}))

	port := freePort(t)
	app, _ := newTestApp(t, dir, AppOptions{SnapshotFile: snapshot, HttpMode: true, HttpPort: port})
	base := fmt.Sprintf("http://127.0.0.1:%d", port)

	// hold the first aggregation pass until the snapshot has been checked
	app.refreshMu.Lock()
	done := make(chan error, 1)
	go func() { done <- app.startService() }()

	var restored []locstats.RunSummary
	require.Eventually(t, func() bool {
		summaries, code, err := getSummaries(base)
		if err != nil || code != http.StatusOK {
			return false
		}
		restored = summaries
		return true
	}, 5*time.Second, 20*time.Millisecond)
	require.Len(t, restored, 1)
	assert.Equal(t, 9, restored[0].RunIndex)

	resp, err := http.Get(base + "/cdf")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, "snapshots carry no inlier samples")

	app.refreshMu.Unlock()
	require.NoError(t, <-done)
	defer app.stopService()

	fresh, code, err := getSummaries(base)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, fresh, 2)
	assert.Equal(t, 1, fresh[0].RunIndex)
	assert.Equal(t, 4, fresh[1].RunIndex)
}

func TestMergeRuns(t *testing.T) {
	assert.Equal(t, []int{1, 2, 5}, mergeRuns([]int{5, 1}, []int{2, 5}))
	assert.Nil(t, mergeRuns(nil, nil))
}
