package library

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/savehub/savehub/pkg/config"
	"github.com/savehub/savehub/pkg/logger"
)

// SaveEntry is the catalog record for one game's save files.
// Entries are immutable once scanned and replaced wholesale on re-scan.
type SaveEntry struct {
	GameID string `json:"gameId"`
	Title  string `json:"title"`
	// save-state paths relative to the library root, newest first
	SaveStatePaths []string  `json:"saveStatePaths"`
	LastModified   time.Time `json:"lastModified"`
}

// HasSave reports whether the path (relative or base name)
// belongs to this entry.
func (e SaveEntry) HasSave(savePath string) bool {
	for _, p := range e.SaveStatePaths {
		if p == savePath || filepath.Base(p) == savePath {
			return true
		}
	}
	return false
}

// ScanError marks an unreadable library root. The previous catalog
// stays in effect when it is raised.
type ScanError struct {
	Dir string
	Err error
}

func (e *ScanError) Error() string { return fmt.Sprintf("library scan of %v failed: %v", e.Dir, e.Err) }
func (e *ScanError) Unwrap() error { return e.Err }

// libConf is an optimized internal library configuration
type libConf struct {
	path       string
	romMapFile string
	supported  map[string]struct{}
	ignored    []string
	verbose    bool
	watchMode  bool
}

type Library struct {
	config    libConf
	hasSource bool
	log       *logger.Logger

	// scan time
	lastScanDuration time.Duration

	// game id -> ROM path, reloaded on every scan
	mu     sync.Mutex
	romMap map[string]string
}

// PPSSPP numbers save states DISCID_slot.ppst,
// SNES9x numbers them game.000 through game.009.
var (
	ppstSlot = regexp.MustCompile(`^(.+)_([0-9]+)$`)
	snesSlot = regexp.MustCompile(`^[0-9]{3}$`)
)

func New(conf config.Library, log *logger.Logger) *Library {
	hasSource := true
	dir, err := filepath.Abs(conf.BasePath)
	if err != nil || conf.BasePath == "" {
		hasSource = false
		log.Error().Str("dir", conf.BasePath).Msg("Library has invalid source")
	}

	return &Library{
		config: libConf{
			path:       dir,
			romMapFile: conf.RomMapFile,
			supported:  toMap(conf.Supported),
			ignored:    conf.Ignored,
			verbose:    conf.Verbose,
			watchMode:  conf.WatchMode,
		},
		hasSource: hasSource,
		log:       log,
	}
}

// Scan walks the library root and produces a fresh catalog.
// Re-scans are full replacements, incremental diffing is not worth it
// for a tree of this size.
func (lib *Library) Scan() ([]SaveEntry, error) {
	if !lib.hasSource {
		return nil, &ScanError{Dir: lib.config.path, Err: os.ErrNotExist}
	}

	lib.log.Debug().Msg("Library scan... started")
	start := time.Now()

	byGame := map[string]*SaveEntry{}
	modTimes := map[string][]time.Time{}
	dir := lib.config.path
	err := filepath.WalkDir(dir, func(path string, info fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if info == nil || info.IsDir() || !lib.isExtAllowed(path) {
			return nil
		}

		id, title := identify(path)
		if id == "" || lib.isIgnored(id) {
			return nil
		}

		relPath, _ := filepath.Rel(dir, path)
		fi, err := info.Info()
		if err != nil {
			return nil
		}

		entry, ok := byGame[id]
		if !ok {
			entry = &SaveEntry{GameID: id, Title: title}
			byGame[id] = entry
		}
		entry.SaveStatePaths = append(entry.SaveStatePaths, relPath)
		modTimes[id] = append(modTimes[id], fi.ModTime())
		if fi.ModTime().After(entry.LastModified) {
			entry.LastModified = fi.ModTime()
		}
		return nil
	})
	if err != nil {
		lib.log.Error().Err(err).Str("dir", dir).Msg("Library scan... failed")
		return nil, &ScanError{Dir: dir, Err: err}
	}

	entries := make([]SaveEntry, 0, len(byGame))
	for id, entry := range byGame {
		sortByModTime(entry.SaveStatePaths, modTimes[id])
		entries = append(entries, *entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].GameID < entries[j].GameID })

	lib.reloadRomMap()

	lib.lastScanDuration = time.Since(start)
	if lib.config.verbose {
		lib.dump(entries)
	}
	lib.log.Info().Msgf("Library scan... completed, %v games in %v", len(entries), lib.lastScanDuration)

	return entries, nil
}

// RomFor returns the mapped ROM path for the game, when one is known.
func (lib *Library) RomFor(gameID string) (string, bool) {
	lib.mu.Lock()
	defer lib.mu.Unlock()
	rom, ok := lib.romMap[gameID]
	return rom, ok
}

// AbsPath expands a catalog-relative save path to an absolute one.
func (lib *Library) AbsPath(savePath string) string {
	if filepath.IsAbs(savePath) {
		return savePath
	}
	return filepath.Join(lib.config.path, savePath)
}

// Watch rescans the library on filesystem changes in the root directory.
// The onChange callback fires on every create or remove event; routing
// the actual scan is up to the caller.
func (lib *Library) Watch(onChange func()) {
	if !lib.config.watchMode || !lib.hasSource {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		lib.log.Error().Err(err).Msg("Library watcher has failed")
		return
	}

	go func() {
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op == fsnotify.Create || event.Op == fsnotify.Remove {
					onChange()
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	if err = watcher.Add(lib.config.path); err != nil {
		lib.log.Error().Err(err).Msg("Library watch error")
	}
}

// reloadRomMap reads the optional game id -> ROM path JSON file.
func (lib *Library) reloadRomMap() {
	if lib.config.romMapFile == "" {
		return
	}

	path := lib.config.romMapFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(lib.config.path, path)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		lib.log.Error().Msgf("couldn't open ROM map file, %v", err)
		return
	}
	romMap := make(map[string]string)
	if err := json.Unmarshal(data, &romMap); err != nil {
		lib.log.Error().Msgf("ROM map file read error, %v", err)
		return
	}

	lib.mu.Lock()
	lib.romMap = romMap
	lib.mu.Unlock()
	lib.log.Debug().Msgf("Library ROM map loaded, %v games", len(romMap))
}

func (lib *Library) isExtAllowed(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return false
	}
	ext = ext[1:]
	if snesSlot.MatchString(ext) {
		return true
	}
	_, ok := lib.config.supported[ext]
	return ok
}

func (lib *Library) isIgnored(id string) bool {
	for _, k := range lib.config.ignored {
		if id == k {
			return true
		}
		if len(k) > 0 && k[0] == '.' && strings.Contains(id, k) {
			return true
		}
	}
	return false
}

// identify infers the game id and display title from a save file path.
// The id is derived from the file name only, so it stays stable across
// re-scans as long as the path is unchanged.
func identify(path string) (id, title string) {
	name := filepath.Base(path)
	ext := strings.ToLower(filepath.Ext(name))
	stem := strings.TrimSuffix(name, filepath.Ext(name))

	if ext == ".ppst" {
		if m := ppstSlot.FindStringSubmatch(stem); m != nil {
			stem = m[1]
		}
	}
	return stem, strings.ReplaceAll(stem, "_", " ")
}

func sortByModTime(paths []string, times []time.Time) {
	idx := make([]int, len(paths))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return times[idx[i]].After(times[idx[j]]) })
	sorted := make([]string, len(paths))
	for i, k := range idx {
		sorted[i] = paths[k]
	}
	copy(paths, sorted)
}

// dump printouts the current catalog
func (lib *Library) dump(entries []SaveEntry) {
	var list strings.Builder
	saves := 0
	for _, e := range entries {
		saves += len(e.SaveStatePaths)
		list.WriteString(fmt.Sprintf("    %-24s %3d state(s)\n", e.GameID, len(e.SaveStatePaths)))
	}
	lib.log.Debug().Msgf("Library dump\n"+
		"--------------------------------------------\n"+
		"%v"+
		"--- Games: %03d --- States: %04d %10s ---",
		list.String(), len(entries), saves, lib.lastScanDuration)
}

func toMap(list []string) map[string]struct{} {
	res := make(map[string]struct{}, len(list))
	for _, s := range list {
		res[strings.ToLower(s)] = struct{}{}
	}
	return res
}
