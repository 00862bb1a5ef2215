package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/rs/zerolog/log"

	"github.com/ryansname/bmsbridge/src/telemetry"
)

// ANSI color codes for highlighting changes
const (
	ansiReset  = "\033[0m"
	ansiYellow = "\033[33m" // Yellow for changed values
)

// WatchSpec is a canonical path shown as a column in the debug console
type WatchSpec struct {
	Path string
}

// ShortName returns a short column header for this watch,
// e.g. "electrical.batteries.house.capacity.stateOfCharge.2" -> "capacity.stateOfCharge.2"
func (w WatchSpec) ShortName() string {
	return strings.TrimPrefix(w.Path, pathPrefix)
}

// GetValue formats the latest value of the watched path
func (w WatchSpec) GetValue(latest map[string]any) string {
	v, ok := latest[w.Path]
	if !ok {
		return "-"
	}
	return formatValue(v)
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}

// resolvePath accepts either a full canonical path or one without the common prefix
func resolvePath(arg string) string {
	if strings.HasPrefix(arg, "electrical.") {
		return arg
	}
	return pathPrefix + arg
}

// DebugState manages the list of watched paths
type DebugState struct {
	watches       []WatchSpec
	headerPrinted bool
	columnWidths  []int
	latest        map[string]any
	rl            *readline.Instance
	prevValues    map[string]string // previous value per watch for change highlighting

	sup   statusProvider
	store *TelemetryStore
}

// NewDebugState creates a new debug state
func NewDebugState(sup statusProvider, store *TelemetryStore) *DebugState {
	return &DebugState{
		watches:    make([]WatchSpec, 0),
		latest:     make(map[string]any),
		prevValues: make(map[string]string),
		sup:        sup,
		store:      store,
	}
}

// AddWatch adds a watch and re-sorts the list
func (s *DebugState) AddWatch(spec WatchSpec) {
	for _, w := range s.watches {
		if w.Path == spec.Path {
			log.Info().Str("path", spec.Path).Msg("Already watching")
			return
		}
	}

	s.watches = append(s.watches, spec)
	sort.Slice(s.watches, func(i, j int) bool {
		return s.watches[i].ShortName() < s.watches[j].ShortName()
	})
	s.headerPrinted = false
	log.Info().Str("path", spec.Path).Msg("Watching")
}

// RemoveWatchFuzzy removes a watch by exact path, or by a fragment matching exactly one watch
func (s *DebugState) RemoveWatchFuzzy(arg string) bool {
	full := resolvePath(arg)
	for i, w := range s.watches {
		if w.Path == full {
			s.watches = slices.Delete(s.watches, i, i+1)
			s.headerPrinted = false
			log.Info().Str("path", full).Msg("Unwatched")
			return true
		}
	}

	var matches []int
	for i, w := range s.watches {
		if strings.Contains(w.Path, arg) {
			matches = append(matches, i)
		}
	}

	if len(matches) == 1 {
		removed := s.watches[matches[0]]
		s.watches = slices.Delete(s.watches, matches[0], matches[0]+1)
		s.headerPrinted = false
		log.Info().Str("path", removed.Path).Msg("Unwatched")
		return true
	}

	if len(matches) > 1 {
		log.Warn().Str("match", arg).Int("count", len(matches)).Msg("Multiple watches match, use the full path to unwatch")
		return false
	}

	log.Warn().Str("match", arg).Msg("No watch found")
	return false
}

// RemoveAll removes all watches
func (s *DebugState) RemoveAll() {
	s.watches = s.watches[:0]
	s.headerPrinted = false
	log.Info().Msg("All watches removed")
}

// Apply records a batch and reports whether it touched a watched path
func (s *DebugState) Apply(batch []telemetry.Update) bool {
	touched := false
	for _, u := range batch {
		s.latest[u.Path] = u.Value
		if !touched {
			touched = slices.ContainsFunc(s.watches, func(w WatchSpec) bool { return w.Path == u.Path })
		}
	}
	return touched
}

// SetReadline sets the readline instance for proper output handling
func (s *DebugState) SetReadline(rl *readline.Instance) {
	s.rl = rl
}

// print outputs a line, handling readline prompt properly
func (s *DebugState) print(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if s.rl != nil {
		s.rl.Clean()
		fmt.Println(line)
		s.rl.Refresh()
	} else {
		fmt.Println(line)
	}
}

// ListPaths prints every path published so far
func (s *DebugState) ListPaths() {
	if len(s.latest) == 0 {
		log.Info().Msg("No data received yet")
		return
	}

	paths := make([]string, 0, len(s.latest))
	for p := range s.latest {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	s.print("Available paths (%d):", len(paths))
	for _, p := range paths {
		s.print("  %s = %s", p, formatValue(s.latest[p]))
	}
}

// PrintStatus prints one line per battery with its reader and freshness state
func (s *DebugState) PrintStatus(now time.Time) {
	if s.sup == nil {
		return
	}
	for _, st := range s.sup.Status() {
		state := "fresh"
		if st.Stale {
			state = "STALE"
		}
		running := "running"
		if !st.Running {
			running = "stopped"
		}
		age := "never"
		if !st.LastUpdate.IsZero() {
			age = now.Sub(st.LastUpdate).Truncate(time.Second).String() + " ago"
		}
		s.print("%d %-12s bus=%-6s %-7s %-5s last=%s", st.ID, st.Name, st.Bus, running, state, age)
	}
}

// PrintRange prints the one hour voltage range of a battery
func (s *DebugState) PrintRange(id int, now time.Time) {
	if s.store == nil {
		return
	}
	minV, maxV, ok := s.store.VoltageRange(id, now)
	if !ok {
		log.Info().Int("battery", id).Msg("No voltage recorded in the last hour")
		return
	}
	s.print("battery %d voltage 1h: min %s max %s", id, formatValue(minV), formatValue(maxV))
}

// PrintHeader prints the column headers
func (s *DebugState) PrintHeader() {
	if len(s.watches) == 0 {
		return
	}

	s.columnWidths = make([]int, len(s.watches))
	for i, w := range s.watches {
		s.columnWidths[i] = len(w.ShortName())
	}

	parts := make([]string, 0, len(s.watches))
	for i, w := range s.watches {
		parts = append(parts, fmt.Sprintf("%*s", s.columnWidths[i], w.ShortName()))
	}
	s.print("%s", strings.Join(parts, " | "))
	s.headerPrinted = true
	s.prevValues = make(map[string]string)
}

// PrintRow prints the current values for all watches (only if changed)
func (s *DebugState) PrintRow() {
	if len(s.watches) == 0 {
		return
	}

	if !s.headerPrinted {
		s.PrintHeader()
	}

	parts := make([]string, 0, len(s.watches))
	anyChanged := false
	newValues := make(map[string]string, len(s.watches))

	for i, w := range s.watches {
		value := w.GetValue(s.latest)
		newValues[w.Path] = value

		width := s.columnWidths[i]
		if len(value) > width {
			width = len(value)
			s.columnWidths[i] = width
		}

		prevValue, hasPrev := s.prevValues[w.Path]
		if !hasPrev || prevValue != value {
			anyChanged = true
			parts = append(parts, fmt.Sprintf("%s%*s%s", ansiYellow, width, value, ansiReset))
		} else {
			parts = append(parts, fmt.Sprintf("%*s", width, value))
		}
	}

	if anyChanged {
		s.print("%s", strings.Join(parts, " | "))
		s.prevValues = newValues
	}
}

// parseWatchSpec parses watch command arguments into a WatchSpec
func parseWatchSpec(args []string) (*WatchSpec, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("usage: watch <path>")
	}
	return &WatchSpec{Path: resolvePath(args[0])}, nil
}

// handleDebugCommand processes a debug command
func handleDebugCommand(cmd string, state *DebugState) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return
	}

	switch parts[0] {
	case "watch":
		spec, err := parseWatchSpec(parts[1:])
		if err != nil {
			log.Warn().Err(err).Msg("Invalid watch")
			return
		}
		state.AddWatch(*spec)

	case "unwatch":
		if len(parts) < 2 {
			log.Warn().Msg("Usage: unwatch <path> | unwatch --all")
			return
		}
		if parts[1] == "--all" {
			state.RemoveAll()
			return
		}
		state.RemoveWatchFuzzy(parts[1])

	case "list":
		state.ListPaths()

	case "status":
		state.PrintStatus(time.Now())

	case "range":
		if len(parts) != 2 {
			log.Warn().Msg("Usage: range <battery id>")
			return
		}
		id, err := strconv.Atoi(parts[1])
		if err != nil {
			log.Warn().Str("id", parts[1]).Msg("Battery id must be a number")
			return
		}
		state.PrintRange(id, time.Now())

	case "help":
		fmt.Println("Commands:")
		fmt.Println("  list                 - List all published paths with their latest value")
		fmt.Println("  watch <path>         - Watch a path, e.g. 'watch voltage.1'")
		fmt.Println("  unwatch <path>       - Remove watch (exact or fuzzy match)")
		fmt.Println("  unwatch --all        - Remove all watches")
		fmt.Println("  status               - Show reader and freshness state per battery")
		fmt.Println("  range <id>           - Show the last hour's voltage range for a battery")
		fmt.Println("  help                 - Show this help")

	default:
		log.Warn().Str("command", parts[0]).Msg("Unknown command (try 'help')")
	}
}

// readlineLoop runs the readline loop, sending commands to the channel
func readlineLoop(
	ctx context.Context,
	cancel context.CancelFunc,
	rl *readline.Instance,
	commandChan chan<- string,
) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			cancel() // Ctrl+C pressed, shutdown the app
			return
		}
		if err != nil {
			return // EOF or other error
		}
		line = strings.TrimSpace(line)
		if line != "" {
			select {
			case commandChan <- line:
			case <-ctx.Done():
				return
			}
		}
	}
}

// getHistoryFilePath returns the path for debug history file
func getHistoryFilePath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "" // No history if we can't find home
		}
		cacheDir = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(cacheDir, "bmsbridge")
	_ = os.MkdirAll(dir, 0750)
	return filepath.Join(dir, "debug_history")
}

// debugWorker provides an interactive view of the published telemetry
func debugWorker(
	ctx context.Context,
	cancel context.CancelFunc,
	dataChan <-chan []telemetry.Update,
	sup statusProvider,
	store *TelemetryStore,
) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "> ",
		HistoryFile: getHistoryFilePath(),
	})
	if err != nil {
		log.Error().Err(err).Msg("Debug worker: readline init failed")
		return
	}
	defer func() {
		rl.Close()
		rlWriter.SetReadline(nil)
	}()

	rlWriter.SetReadline(rl)

	log.Info().Msg("Debug worker started (type 'help' for commands)")

	commandChan := make(chan string, 10)
	state := NewDebugState(sup, store)
	state.SetReadline(rl)

	go readlineLoop(ctx, cancel, rl, commandChan)

	for {
		select {
		case cmd := <-commandChan:
			handleDebugCommand(cmd, state)
		case batch := <-dataChan:
			if state.Apply(batch) {
				state.PrintRow()
			}
		case <-ctx.Done():
			log.Info().Msg("Debug worker stopped")
			return
		}
	}
}
