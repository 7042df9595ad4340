package symtab

import (
	"fmt"
	"os"
	"path"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	elf2 "github.com/grafana/backtrace/pkg/symtab/elf"
)

const loadErrorsCacheSize = 1024

// elfLoader finds symbols for ELF images by opening the backing file under
// fs. Tables go to the shared ElfCache; failures are remembered per path so
// an image without a readable file is tried only once.
type elfLoader struct {
	fs      string
	cache   *ElfCache
	metrics *Metrics // may be nil for tests
	logger  log.Logger

	loadErrors *lru.Cache[string, error]
}

func newElfLoader(logger log.Logger, fs string, cache *ElfCache, metrics *Metrics) *elfLoader {
	loadErrors, _ := lru.New[string, error](loadErrorsCacheSize)
	return &elfLoader{fs: fs, cache: cache, metrics: metrics, logger: logger, loadErrors: loadErrors}
}

func (l *elfLoader) symbols(elfFilePath string) (*elf2.SymbolTable, error) {
	if err, ok := l.loadErrors.Get(elfFilePath); ok {
		return nil, err
	}
	st, err := l.load(elfFilePath)
	if err != nil {
		l.loadErrors.Add(elfFilePath, err)
		l.onLoadError(elfFilePath, err)
		return nil, err
	}
	return st, nil
}

func (l *elfLoader) load(elfFilePath string) (*elf2.SymbolTable, error) {
	fsElfFilePath := path.Join(l.fs, elfFilePath)

	me, err := elf2.OpenFile(fsElfFilePath)
	if err != nil {
		return nil, err
	}
	defer me.Close()

	buildID, err := me.BuildID()
	if err != nil && !errors.Is(err, elf2.ErrNoBuildIDSection) {
		// a malformed note only costs the build ID cache
		level.Debug(l.logger).Log("msg", "ignoring build ID", "f", elfFilePath, "err", err)
		buildID = elf2.BuildID{}
	}

	symbols := l.cache.GetSymbolsByBuildID(buildID)
	if symbols != nil {
		return symbols, nil
	}
	fileInfo, err := os.Stat(fsElfFilePath)
	if err != nil {
		return nil, err
	}
	key := fileKeyOf(fileInfo)
	symbols = l.cache.GetSymbolsByFile(key)
	if symbols != nil {
		return symbols, nil
	}

	if debugFilePath := l.findDebugFile(elfFilePath, buildID, me); debugFilePath != "" {
		symbols, err = l.loadDebugFile(debugFilePath)
		if err == nil {
			l.cache.CacheByBuildID(buildID, symbols)
			return symbols, nil
		}
		level.Debug(l.logger).Log("msg", "debug file unusable", "f", debugFilePath, "err", err)
	}

	symbols, err = me.LoadSymbolTable()
	if err != nil {
		return nil, err
	}
	level.Debug(l.logger).Log("msg", "create symbol table", "f", me.FilePath(), "symbols", symbols.Size(), "mdi", symbols.MiniDebugInfo)
	if buildID.Empty() {
		l.cache.CacheByFile(key, symbols)
	} else {
		l.cache.CacheByBuildID(buildID, symbols)
	}
	return symbols, nil
}

func (l *elfLoader) loadDebugFile(debugFilePath string) (*elf2.SymbolTable, error) {
	debugMe, err := elf2.OpenFile(path.Join(l.fs, debugFilePath))
	if err != nil {
		return nil, err
	}
	defer debugMe.Close()
	return debugMe.NewSymbolTable()
}

func (l *elfLoader) findDebugFileWithBuildID(buildID elf2.BuildID) string {
	id := buildID.ID
	if len(id) < 3 || !buildID.GNU() {
		return ""
	}

	debugFile := fmt.Sprintf("/usr/lib/debug/.build-id/%s/%s.debug", id[:2], id[2:])
	if _, err := os.Stat(path.Join(l.fs, debugFile)); err == nil {
		return debugFile
	}
	return ""
}

// findDebugFile looks where gdb looks for separate debug files, in gdb's
// order: by build ID under /usr/lib/debug/.build-id, then the debug link
// next to the file, in .debug/ next to it, and mirrored under
// /usr/lib/debug.
func (l *elfLoader) findDebugFile(elfFilePath string, buildID elf2.BuildID, elfFile *elf2.File) string {
	if debugFile := l.findDebugFileWithBuildID(buildID); debugFile != "" {
		return debugFile
	}
	debugLink := elfFile.DebugLink()
	if debugLink == "" {
		return ""
	}
	candidates := []string{
		path.Join(path.Dir(elfFilePath), debugLink),
		path.Join(path.Dir(elfFilePath), ".debug", debugLink),
		path.Join("/usr/lib/debug", path.Dir(elfFilePath), debugLink),
	}
	for _, c := range candidates {
		if c == elfFilePath {
			continue
		}
		if _, err := os.Stat(path.Join(l.fs, c)); err == nil {
			return c
		}
	}
	return ""
}

func (l *elfLoader) onLoadError(elfFilePath string, err error) {
	level.Warn(l.logger).Log("msg", "failed to load elf symbols", "err", err,
		"f", elfFilePath,
		"fs", l.fs)
	if l.metrics != nil {
		l.metrics.ElfErrors.WithLabelValues(errorType(err)).Inc()
	}
}

func errorType(err error) string {
	if errors.Is(err, os.ErrNotExist) {
		return "ErrNotExist"
	}
	if errors.Is(err, os.ErrPermission) {
		return "ErrPermission"
	}
	if errors.Is(err, os.ErrClosed) {
		return "ErrClosed"
	}
	if errors.Is(err, os.ErrInvalid) {
		return "ErrInvalid"
	}
	if errors.Is(err, elf2.ErrNoSymbols) {
		return "ErrNoSymbols"
	}
	return "Other"
}
