package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fathomsec/fathom/internal/config"
	"github.com/fathomsec/fathom/internal/observability"
	"github.com/fathomsec/fathom/internal/statusserver"
	"github.com/fathomsec/fathom/pkg/calibrate"
	"github.com/fathomsec/fathom/pkg/classify"
	"github.com/fathomsec/fathom/pkg/dictionary"
	"github.com/fathomsec/fathom/pkg/executor/httpexec"
	"github.com/fathomsec/fathom/pkg/probe"
	"github.com/fathomsec/fathom/pkg/ratelimit"
	"github.com/fathomsec/fathom/pkg/recurse"
	"github.com/fathomsec/fathom/pkg/scan"
	"github.com/fathomsec/fathom/pkg/session"
	"github.com/fathomsec/fathom/pkg/sink"
	"github.com/fathomsec/fathom/pkg/waf"
	"github.com/fathomsec/fathom/pkg/wordlist"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Probe candidate paths against one or more HTTP targets",
	Long: `scan expands a wordlist into concrete candidate paths, dispatches them
concurrently against every target, classifies each response (OK, WAF, APP,
SYS, redirect), and reports survivors after wildcard calibration and the
filter chain have dropped the noise.

Example:
  fathom scan -u https://example.com -w words.txt -e php,html -t 50
  fathom scan -l targets.txt -w words.txt --mutation -R 2 --recursive`,
	RunE: runScan,
}

var scanFlags struct {
	targetURL    string
	targetList   string
	headers      []string
	wordlists    []string
	extensions   []string
	overwriteExt bool
	forceExt     bool
	excludeExt   []string
	prefixes     []string
	suffixes     []string
	mutation     bool
	caseUpper    bool
	caseLower    bool
	caseCapital  bool

	threads           int
	recursive         bool
	forceRecursive    bool
	deepRecursive     bool
	maxRecursionDepth int
	recursionStatus   string
	filterThreshold   int
	includeSubdirs    []string
	excludeSubdirs    []string
	targetConcurrency int

	includeStatus        string
	excludeStatus        string
	excludeSizes         []int
	excludeText          []string
	excludeRegex         []string
	excludeRedirectRegex string
	minResponseSize      int
	maxResponseSize      int
	noWildcard           bool
	calibrationMode      string
	skipOnStatus         string

	maxTime       time.Duration
	targetMaxTime time.Duration
	exitOnError   bool
	maxRate       float64
	retries       int
	delay         time.Duration
	timeout       time.Duration

	output      string
	wafDB       string
	probeConfig string
	statusAddr  string
	statusPort  int
	sessionDB   string
	resume      string
}

func init() {
	rootCmd.AddCommand(scanCmd)

	f := scanCmd.Flags()
	f.StringVarP(&scanFlags.targetURL, "url", "u", "", "target base URL")
	f.StringVarP(&scanFlags.targetList, "list", "l", "", "file of target base URLs, one per line")
	f.StringArrayVarP(&scanFlags.headers, "header", "H", nil, "extra request header \"Name: Value\" (repeatable)")

	f.StringSliceVarP(&scanFlags.wordlists, "wordlist", "w", nil, "wordlist file (repeatable)")
	f.StringSliceVarP(&scanFlags.extensions, "extensions", "e", nil, "extensions to substitute/append, comma-separated")
	f.BoolVar(&scanFlags.overwriteExt, "overwrite-extensions", false, "replace an entry's trailing extension instead of appending")
	f.BoolVarP(&scanFlags.forceExt, "force-extensions", "f", false, "also emit each non-directory entry with every configured extension appended")
	f.StringSliceVar(&scanFlags.excludeExt, "exclude-extensions", nil, "drop candidates whose final extension matches")
	f.StringSliceVar(&scanFlags.prefixes, "prefixes", nil, "prepend each prefix to every entry")
	f.StringSliceVar(&scanFlags.suffixes, "suffixes", nil, "append each suffix to every non-directory entry")
	f.BoolVar(&scanFlags.mutation, "mutation", false, "derive backup/version/case variants of every kept result")
	f.BoolVar(&scanFlags.caseUpper, "uppercase", false, "also emit each wordlist entry upper-cased")
	f.BoolVar(&scanFlags.caseLower, "lowercase", false, "also emit each wordlist entry lower-cased")
	f.BoolVar(&scanFlags.caseCapital, "capitalize", false, "also emit each wordlist entry capitalized")

	f.IntVarP(&scanFlags.threads, "threads", "t", 25, "worker pool size")
	f.BoolVarP(&scanFlags.recursive, "recursive", "r", false, "enable the recursion controller")
	f.BoolVar(&scanFlags.forceRecursive, "force-recursive", false, "recurse into results that don't look like directories")
	f.BoolVar(&scanFlags.deepRecursive, "deep-recursive", false, "also enqueue unvisited ancestor directories of every kept result")
	f.IntVarP(&scanFlags.maxRecursionDepth, "max-recursion-depth", "R", 3, "hard recursion depth ceiling")
	f.StringVar(&scanFlags.recursionStatus, "recursion-status", "", "status ranges eligible for recursion, e.g. \"200-299,300-399\"")
	f.IntVar(&scanFlags.filterThreshold, "filter-threshold", 10, "drop further results once a signature repeats this many times")
	f.StringSliceVar(&scanFlags.includeSubdirs, "subdirs", nil, "restrict recursion to these glob patterns")
	f.StringSliceVar(&scanFlags.excludeSubdirs, "exclude-subdirs", nil, "never recurse into these glob patterns")
	f.IntVar(&scanFlags.targetConcurrency, "target-concurrency", 1, "number of targets scanned in parallel")

	f.StringVarP(&scanFlags.includeStatus, "include-status", "i", "", "only keep responses in these status ranges")
	f.StringVarP(&scanFlags.excludeStatus, "exclude-status", "x", "", "drop responses in these status ranges")
	f.IntSliceVar(&scanFlags.excludeSizes, "exclude-sizes", nil, "drop responses with exactly these body sizes")
	f.StringSliceVar(&scanFlags.excludeText, "exclude-text", nil, "drop responses whose body contains this text")
	f.StringSliceVar(&scanFlags.excludeRegex, "exclude-regex", nil, "drop responses whose body matches this regex")
	f.StringVar(&scanFlags.excludeRedirectRegex, "exclude-redirect-regex", "", "drop 3xx responses whose Location matches this regex")
	f.IntVar(&scanFlags.minResponseSize, "min-response-size", 0, "drop responses smaller than this many bytes")
	f.IntVar(&scanFlags.maxResponseSize, "max-response-size", 0, "drop responses larger than this many bytes (0 = unbounded)")
	f.BoolVar(&scanFlags.noWildcard, "no-wildcard", false, "disable wildcard/soft-response calibration")
	f.StringVar(&scanFlags.calibrationMode, "calibration", "quick", "calibration mode: off|quick|thorough")
	f.StringVar(&scanFlags.skipOnStatus, "skip-on-status", "", "cancel the target immediately on any of these status ranges")

	f.DurationVar(&scanFlags.maxTime, "max-time", 0, "scan-wide deadline (0 = none)")
	f.DurationVar(&scanFlags.targetMaxTime, "target-max-time", 0, "per-target deadline (0 = none)")
	f.BoolVar(&scanFlags.exitOnError, "exit-on-error", false, "cancel the whole scan on an unrecoverable transport error")
	f.Float64Var(&scanFlags.maxRate, "max-rate", 0, "global requests/second budget (0 = unlimited)")
	f.IntVar(&scanFlags.retries, "retries", 1, "retry attempts after a transport error")
	f.DurationVar(&scanFlags.delay, "delay", 0, "minimum inter-request gap per target host")
	f.DurationVar(&scanFlags.timeout, "timeout", 10*time.Second, "per-request timeout")

	f.StringVarP(&scanFlags.output, "output", "o", "", "write JSONL results here instead of stdout")
	f.StringVar(&scanFlags.wafDB, "waf-db", "db/waf_signatures.json", "path to the WAF signature database")
	f.StringVar(&scanFlags.probeConfig, "probe-config", "", "YAML file describing response field extractors (xml_xpath, regex, json_path)")
	f.StringVar(&scanFlags.statusAddr, "status-host", "", "bind address for the status/metrics server (empty disables it)")
	f.IntVar(&scanFlags.statusPort, "status-port", 0, "port for the status/metrics server (0 uses the configured default)")
	f.StringVar(&scanFlags.sessionDB, "session-db", "", "path to the resumable session store (empty disables session tracking)")
	f.StringVar(&scanFlags.resume, "resume", "", "resume this session ID, skipping targets already completed")
}

func runScan(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	scanID := uuid.New().String()
	if scanFlags.resume != "" {
		scanID = scanFlags.resume
	}
	logger := observability.ScanLogger(scanID)

	targets, err := resolveTargets()
	if err != nil {
		return exitError(ExitConfigError, "invalid target selection", err)
	}

	store, prevState, err := openSessionStore(ctx, scanID)
	if err != nil {
		return exitError(ExitConfigError, "failed to open session store", err)
	}
	if store != nil {
		defer store.Close()
	}
	if prevState != nil {
		before := len(targets)
		targets = skipCompletedTargets(targets, *prevState)
		logger.Info("resuming session",
			zap.String("session", scanID),
			zap.Int("targets_remaining", len(targets)),
			zap.Int("targets_skipped", before-len(targets)))
	}

	dictCfg, err := buildDictionaryConfig()
	if err != nil {
		return exitError(ExitConfigError, "invalid dictionary configuration", err)
	}

	recurseCfg, err := buildRecurseConfig()
	if err != nil {
		return exitError(ExitConfigError, "invalid recursion configuration", err)
	}

	classifyCfg, err := buildClassifyConfig()
	if err != nil {
		return exitError(ExitConfigError, "invalid filter configuration", err)
	}

	skipOnStatus, err := parseIntRanges(scanFlags.skipOnStatus)
	if err != nil {
		return exitError(ExitConfigError, "invalid --skip-on-status", err)
	}

	calibrationMode := calibrate.Mode(scanFlags.calibrationMode)
	if scanFlags.noWildcard {
		calibrationMode = calibrate.ModeOff
	}

	writer, cleanup, err := buildSink(scanID)
	if err != nil {
		return exitError(ExitConfigError, "failed to open output sink", err)
	}
	defer cleanup()

	exec := httpexec.New(httpexec.DefaultConfig())
	defer exec.Close()

	coordinator := scan.New(exec, writer, scan.Config{
		Dispatcher: ratelimit.Config{
			Threads:     scanFlags.threads,
			MaxRate:     scanFlags.maxRate,
			Delay:       scanFlags.delay,
			Retries:     scanFlags.retries,
			Timeout:     scanFlags.timeout,
			ExitOnError: scanFlags.exitOnError,
		},
		Wordlist:             wordlist.Config{Files: scanFlags.wordlists, CaseTransforms: caseTransforms()},
		Dictionary:           dictCfg,
		Recursion:            recurseCfg,
		Classify:             classifyCfg,
		Mutation:             scanFlags.mutation,
		CalibrationMode:      calibrationMode,
		CalibrationSampleExt: firstOrEmpty(scanFlags.extensions),
		MaxTime:              scanFlags.maxTime,
		TargetMaxTime:        scanFlags.targetMaxTime,
		SkipOnStatus:         skipOnStatus,
	})

	if scanFlags.statusAddr != "" {
		cfg := config.GetConfig()
		serverCfg := cfg.Server
		serverCfg.Host = scanFlags.statusAddr
		if scanFlags.statusPort != 0 {
			serverCfg.Port = scanFlags.statusPort
		}
		started := false
		srv := statusserver.New(serverCfg, observability.CLILogger, coordinator.Stats(), func() bool { return started })
		srv.Start()
		started = true
		shutdownTimeout := serverCfg.ShutdownTimeout
		if shutdownTimeout <= 0 {
			shutdownTimeout = 10 * time.Second
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("scan starting",
		zap.Int("targets", len(targets)),
		zap.Int("threads", scanFlags.threads),
		zap.Bool("recursive", scanFlags.recursive))

	summaries, err := coordinator.RunAll(ctx, targets, scanFlags.targetConcurrency)
	persistSessionState(store, scanID, prevState, summaries, err == nil, logger)
	if err != nil {
		if ctx.Err() != nil {
			logger.Warn("scan interrupted", zap.Error(err))
			return exitError(ExitInterrupted, "scan interrupted", err)
		}
		if errors.Is(err, scan.ErrExitOnError) {
			logger.Error("scan aborted by --exit-on-error", zap.Error(err))
			return exitError(ExitOnErrorFired, "scan aborted after unrecoverable transport error", err)
		}
		logger.Error("scan failed", zap.Error(err))
		return exitError(ExitConfigError, "scan failed", err)
	}

	for _, s := range summaries {
		logger.Info("target completed",
			zap.String("target", s.TargetRef),
			zap.Int64("requested", s.Requested),
			zap.Int64("kept", s.Kept),
			zap.Int64("filtered", s.Filtered),
			zap.Int64("errors", s.Errors),
			zap.Duration("duration", s.Duration))
		_ = writer.WriteSummary(sink.SummaryRecord{
			TargetRef:     s.TargetRef,
			Requested:     s.Requested,
			Kept:          s.Kept,
			Filtered:      s.Filtered,
			Errors:        s.Errors,
			Duration:      s.Duration,
			DurationHuman: s.Duration.String(),
		})
	}

	return nil
}

// openSessionStore opens the --session-db store when configured and, on
// --resume, loads the previous run's state. A nil store means session
// tracking is disabled.
func openSessionStore(ctx context.Context, sessionID string) (*session.Store, *session.ScanState, error) {
	if scanFlags.sessionDB == "" {
		if scanFlags.resume != "" {
			return nil, nil, fmt.Errorf("--resume requires --session-db")
		}
		return nil, nil, nil
	}

	db, err := session.Open(ctx, session.Config{Path: scanFlags.sessionDB})
	if err != nil {
		return nil, nil, err
	}
	store := session.NewStore(db)

	if scanFlags.resume == "" {
		return store, nil, nil
	}
	state, found, err := session.LoadScanState(ctx, store, sessionID)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	if !found {
		return store, nil, nil
	}
	return store, &state, nil
}

// skipCompletedTargets drops targets the previous run already scanned to
// completion.
func skipCompletedTargets(targets []scan.TargetSpec, state session.ScanState) []scan.TargetSpec {
	out := targets[:0:0]
	for _, t := range targets {
		if ts, ok := state.Targets[t.Ref]; ok && ts.Done {
			continue
		}
		out = append(out, t)
	}
	return out
}

// persistSessionState records which targets finished so an interrupted
// scan can be resumed, and clears the record once everything completed.
func persistSessionState(store *session.Store, sessionID string, prev *session.ScanState, summaries []*scan.Summary, complete bool, logger *zap.Logger) {
	if store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if complete {
		if err := store.DeleteSession(ctx, sessionID); err != nil {
			logger.Warn("failed to clear session record", zap.Error(err))
		}
		return
	}

	state := session.ScanState{Targets: map[string]session.TargetState{}}
	if prev != nil {
		for ref, ts := range prev.Targets {
			state.Targets[ref] = ts
		}
	}
	for _, s := range summaries {
		if s == nil {
			continue
		}
		state.Targets[s.TargetRef] = session.TargetState{
			Ref:       s.TargetRef,
			Requested: s.Requested,
			Kept:      s.Kept,
			Filtered:  s.Filtered,
			Errors:    s.Errors,
			Done:      s.Completed,
		}
	}
	if err := session.SaveScanState(ctx, store, sessionID, state); err != nil {
		logger.Warn("failed to save session record", zap.Error(err))
	}
}

func resolveTargets() ([]scan.TargetSpec, error) {
	headers := map[string]string{}
	for _, h := range scanFlags.headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return nil, fmt.Errorf("invalid --header %q, expected \"Name: Value\"", h)
		}
		headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}

	var urls []string
	if scanFlags.targetURL != "" {
		urls = append(urls, scanFlags.targetURL)
	}
	if scanFlags.targetList != "" {
		data, err := os.ReadFile(scanFlags.targetList)
		if err != nil {
			return nil, fmt.Errorf("read target list: %w", err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			urls = append(urls, line)
		}
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("no targets: provide --url or --list")
	}

	targets := make([]scan.TargetSpec, 0, len(urls))
	for _, u := range urls {
		// Candidate paths are appended directly to BaseURL, so it must
		// carry exactly one trailing slash.
		targets = append(targets, scan.TargetSpec{
			Ref:     u,
			BaseURL: strings.TrimRight(u, "/") + "/",
			Headers: headers,
		})
	}
	return targets, nil
}

func buildDictionaryConfig() (dictionary.Config, error) {
	if len(scanFlags.wordlists) == 0 {
		return dictionary.Config{}, fmt.Errorf("at least one --wordlist is required")
	}
	return dictionary.Config{
		Extensions:          scanFlags.extensions,
		OverwriteExtensions: scanFlags.overwriteExt,
		ForceExtensions:     scanFlags.forceExt,
		ExcludeExtensions:   scanFlags.excludeExt,
		Prefixes:            scanFlags.prefixes,
		Suffixes:            scanFlags.suffixes,
	}, nil
}

func buildRecurseConfig() (recurse.Config, error) {
	if !scanFlags.recursive && !scanFlags.forceRecursive {
		return recurse.Config{Disabled: true}, nil
	}
	statusRanges, err := parseStatusRanges(scanFlags.recursionStatus)
	if err != nil {
		return recurse.Config{}, err
	}
	return recurse.Config{
		ForceRecursive:  scanFlags.forceRecursive,
		DeepRecursive:   scanFlags.deepRecursive,
		RecursionStatus: statusRanges,
		MaxDepth:        scanFlags.maxRecursionDepth,
		IncludeSubdirs:  scanFlags.includeSubdirs,
		ExcludeSubdirs:  scanFlags.excludeSubdirs,
	}, nil
}

func buildClassifyConfig() (classify.Config, error) {
	includeStatus, err := parseIntRanges(scanFlags.includeStatus)
	if err != nil {
		return classify.Config{}, fmt.Errorf("--include-status: %w", err)
	}
	excludeStatus, err := parseIntRanges(scanFlags.excludeStatus)
	if err != nil {
		return classify.Config{}, fmt.Errorf("--exclude-status: %w", err)
	}

	var sizeBounds *classify.IntRange
	if scanFlags.minResponseSize > 0 || scanFlags.maxResponseSize > 0 {
		max := scanFlags.maxResponseSize
		if max == 0 {
			max = int(^uint(0) >> 1)
		}
		sizeBounds = &classify.IntRange{Min: scanFlags.minResponseSize, Max: max}
	}

	var wafDB *waf.Database
	if scanFlags.wafDB != "" {
		db, err := waf.Load(scanFlags.wafDB)
		if err != nil {
			observability.CLILogger.Warn("waf signature database unavailable, falling back to built-in defaults", zap.Error(err))
		} else {
			wafDB = db
		}
	}

	var fieldProber *probe.Prober
	if scanFlags.probeConfig != "" {
		probeCfg, err := probe.LoadConfig(scanFlags.probeConfig)
		if err != nil {
			return classify.Config{}, fmt.Errorf("--probe-config: %w", err)
		}
		p, err := probe.New(*probeCfg)
		if err != nil {
			return classify.Config{}, fmt.Errorf("--probe-config: %w", err)
		}
		fieldProber = p
	}

	return classify.Config{
		IncludeStatus:        includeStatus,
		ExcludeStatus:        excludeStatus,
		SizeBounds:           sizeBounds,
		ExcludeSizes:         scanFlags.excludeSizes,
		ExcludeText:          scanFlags.excludeText,
		ExcludeRegex:         scanFlags.excludeRegex,
		ExcludeRedirectRegex: scanFlags.excludeRedirectRegex,
		FilterThreshold:      scanFlags.filterThreshold,
		WAFDB:                wafDB,
		FieldProber:          fieldProber,
	}, nil
}

func buildSink(scanID string) (sink.Sink, func(), error) {
	if scanFlags.output == "" || scanFlags.output == "stdout" {
		s := sink.NewJSONLSink(os.Stdout, scanID)
		return s, func() { _ = s.Close() }, nil
	}

	file, err := os.Create(scanFlags.output)
	if err != nil {
		return nil, nil, fmt.Errorf("create output file %s: %w", scanFlags.output, err)
	}
	s := sink.NewJSONLSink(file, scanID)
	cleanup := func() {
		_ = s.Close()
		_ = file.Close()
	}
	return s, cleanup, nil
}

func caseTransforms() []wordlist.CaseTransform {
	var out []wordlist.CaseTransform
	out = append(out, wordlist.CaseAsIs)
	if scanFlags.caseUpper {
		out = append(out, wordlist.CaseUpper)
	}
	if scanFlags.caseLower {
		out = append(out, wordlist.CaseLower)
	}
	if scanFlags.caseCapital {
		out = append(out, wordlist.CaseCapital)
	}
	return out
}

func firstOrEmpty(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// parseIntRanges parses a comma-separated list of integers and
// "min-max" ranges (e.g. "200,300-399") into classify.IntRange values.
func parseIntRanges(s string) ([]classify.IntRange, error) {
	if s == "" {
		return nil, nil
	}
	var out []classify.IntRange
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		min, max, err := parseRangePart(part)
		if err != nil {
			return nil, err
		}
		out = append(out, classify.IntRange{Min: min, Max: max})
	}
	return out, nil
}

// parseStatusRanges is parseIntRanges' recurse.StatusRange counterpart.
func parseStatusRanges(s string) ([]recurse.StatusRange, error) {
	if s == "" {
		return nil, nil
	}
	var out []recurse.StatusRange
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		min, max, err := parseRangePart(part)
		if err != nil {
			return nil, err
		}
		out = append(out, recurse.StatusRange{Min: min, Max: max})
	}
	return out, nil
}

func parseRangePart(part string) (min, max int, err error) {
	if before, after, ok := strings.Cut(part, "-"); ok {
		min, err = strconv.Atoi(strings.TrimSpace(before))
		if err != nil {
			return 0, 0, fmt.Errorf("invalid range %q: %w", part, err)
		}
		max, err = strconv.Atoi(strings.TrimSpace(after))
		if err != nil {
			return 0, 0, fmt.Errorf("invalid range %q: %w", part, err)
		}
		return min, max, nil
	}
	v, err := strconv.Atoi(part)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid value %q: %w", part, err)
	}
	return v, v, nil
}
