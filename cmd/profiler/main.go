// Command profiler generates a siva file and exercises one read path in a
// loop so it can be profiled.
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand" //nolint:gosec // intentional use for reproducible benchmarks
	"net/http"
	_ "net/http/pprof" //nolint:gosec // intentional profiling endpoint
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"time"

	"github.com/felixge/fgprof"

	"github.com/meigma/siva"
	"github.com/meigma/siva/cache"
	"github.com/meigma/siva/cache/disk"
	"github.com/meigma/siva/internal/testutil"
)

const cacheNone = "none"

type config struct {
	mode        string
	files       int
	fileSize    int
	dirCount    int
	blocks      int
	rewrite     float64
	pattern     string
	latency     time.Duration
	bytesPerSec int64
	fgProfile   string
	duration    time.Duration
	iterations  int
	pprofAddr   string
	cpuProfile  string
	memProfile  string
	traceFile   string
	cache       string
	cacheDir    string
	glob        string
	workers     int
	cold        bool
	readRandom  bool
	tempDir     string
	keepTemp    bool
	randomSeed  int64
}

//nolint:unused // sink variables prevent compiler optimizations in profiling
var (
	sinkBytes []byte
	sinkEntry *siva.Entry
	sinkCount int
)

//nolint:gocognit,gocyclo // main function complexity is acceptable for CLI tool
func main() {
	cfg := parseFlags()

	if cfg.pprofAddr != "" {
		go func() {
			log.Printf("pprof listening on %s", cfg.pprofAddr)
			//nolint:gosec // intentional pprof server without timeouts for profiling
			if err := http.ListenAndServe(cfg.pprofAddr, nil); err != nil {
				log.Printf("pprof server error: %v", err)
			}
		}()
	}

	dir, cleanup, err := setupTempDir(cfg)
	if err != nil {
		log.Fatal(err)
	}
	if cleanup != nil {
		defer cleanup() //nolint:errcheck // cleanup errors are non-fatal in profiler
	}

	data, paths, err := makeDataset(cfg)
	if err != nil {
		log.Fatal(err) //nolint:gocritic // exitAfterDefer is intentional - cleanup is best-effort
	}

	src, closeSrc, err := openSource(cfg, dir, data)
	if err != nil {
		log.Fatal(err)
	}
	defer closeSrc() //nolint:errcheck // close errors are non-fatal in profiler

	var stopFG func() error
	if cfg.fgProfile != "" {
		fgFile, fgErr := os.Create(cfg.fgProfile)
		if fgErr != nil {
			log.Fatal(fgErr)
		}
		stopFG = fgprof.Start(fgFile, fgprof.FormatPprof)
		defer func() {
			if err := stopFG(); err != nil {
				log.Printf("fgprof stop error: %v", err)
			}
			_ = fgFile.Close()
		}()
	}

	if cfg.cpuProfile != "" {
		cpuFile, cpuErr := os.Create(cfg.cpuProfile)
		if cpuErr != nil {
			log.Fatal(cpuErr)
		}
		if cpuErr = pprof.StartCPUProfile(cpuFile); cpuErr != nil {
			log.Fatal(cpuErr)
		}
		defer func() {
			pprof.StopCPUProfile()
			_ = cpuFile.Close()
		}()
	}

	if cfg.traceFile != "" {
		traceFile, traceErr := os.Create(cfg.traceFile)
		if traceErr != nil {
			log.Fatal(traceErr)
		}
		if traceErr = trace.Start(traceFile); traceErr != nil {
			log.Fatal(traceErr)
		}
		defer func() {
			trace.Stop()
			_ = traceFile.Close()
		}()
	}

	stats, err := runProfile(cfg, src, paths, dir)
	if err != nil {
		log.Fatal(err)
	}

	if cfg.memProfile != "" {
		runtime.GC()
		f, err := os.Create(cfg.memProfile)
		if err != nil {
			log.Fatal(err)
		}
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatal(err)
		}
		_ = f.Close()
	}

	fmt.Printf("mode=%s ops=%d bytes=%d elapsed=%s throughput=%.2f MB/s\n",
		cfg.mode,
		stats.ops,
		stats.bytes,
		stats.elapsed,
		float64(stats.bytes)/(1024*1024)/stats.elapsed.Seconds(),
	)
}

type profileStats struct {
	ops     int
	bytes   int64
	elapsed time.Duration
}

//nolint:gocognit,gocyclo,gocritic // complexity is inherent to multi-mode profiler dispatch; hugeParam acceptable for profiler
func runProfile(cfg config, src siva.ByteSource, paths []string, rootDir string) (profileStats, error) {
	start := time.Now()
	ops := 0
	var byteCount int64

	shouldContinue := func() bool {
		if cfg.iterations > 0 {
			return ops < cfg.iterations
		}
		return time.Since(start) < cfg.duration
	}

	switch cfg.mode {
	case "index-filtered", "index-complete":
		policy := siva.PolicyFiltered
		if cfg.mode == "index-complete" {
			policy = siva.PolicyComplete
		}
		r := siva.NewReader(src)
		for shouldContinue() {
			idx, err := r.ReadIndex(policy)
			if err != nil {
				return profileStats{}, err
			}
			sinkCount = idx.Len()
			byteCount += src.Size()
			ops++
		}

	case "index-lookup":
		a, err := siva.NewArchive(src)
		if err != nil {
			return profileStats{}, err
		}
		rng := rand.New(rand.NewSource(cfg.randomSeed)) //nolint:gosec // intentional for reproducible benchmarks
		for shouldContinue() {
			path := pickPath(paths, ops, rng, cfg.readRandom)
			e, err := a.Entry(path)
			if err != nil {
				return profileStats{}, err
			}
			sinkEntry = e
			ops++
		}

	case "glob":
		a, err := siva.NewArchive(src)
		if err != nil {
			return profileStats{}, err
		}
		for shouldContinue() {
			entries, err := a.Glob(cfg.glob)
			if err != nil {
				return profileStats{}, err
			}
			if len(entries) == 0 {
				return profileStats{}, fmt.Errorf("expected at least one entry for pattern %q", cfg.glob)
			}
			sinkCount = len(entries)
			ops++
		}

	case "readfile":
		var opts []siva.Option
		if cfg.cache != cacheNone {
			c, cleanup, err := newCache(cfg, rootDir)
			if err != nil {
				return profileStats{}, err
			}
			defer cleanup() //nolint:errcheck // cleanup errors are non-fatal in profiler
			opts = append(opts, siva.WithCache(c))
		}
		a, err := siva.NewArchive(src, opts...)
		if err != nil {
			return profileStats{}, err
		}

		rng := rand.New(rand.NewSource(cfg.randomSeed)) //nolint:gosec // intentional for reproducible benchmarks
		for shouldContinue() {
			path := pickPath(paths, ops, rng, cfg.readRandom)
			content, err := a.ReadFile(path)
			if err != nil {
				return profileStats{}, err
			}
			sinkBytes = content
			byteCount += int64(len(content))
			ops++
		}

	case "cached-readfile-hit":
		if cfg.cache == cacheNone {
			return profileStats{}, errors.New("cached-readfile-hit requires cache")
		}
		c, cleanup, err := newCache(cfg, rootDir)
		if err != nil {
			return profileStats{}, err
		}
		defer cleanup() //nolint:errcheck // cleanup errors are non-fatal in profiler

		a, err := siva.NewArchive(src, siva.WithCache(c))
		if err != nil {
			return profileStats{}, err
		}
		for _, path := range paths {
			content, err := a.ReadFile(path)
			if err != nil {
				return profileStats{}, err
			}
			sinkBytes = content
		}

		start = time.Now()
		ops = 0
		byteCount = 0
		rng := rand.New(rand.NewSource(cfg.randomSeed)) //nolint:gosec // intentional for reproducible benchmarks
		for shouldContinue() {
			path := pickPath(paths, ops, rng, cfg.readRandom)
			content, err := a.ReadFile(path)
			if err != nil {
				return profileStats{}, err
			}
			sinkBytes = content
			byteCount += int64(len(content))
			ops++
		}

	case "unpack":
		a, err := siva.NewArchive(src)
		if err != nil {
			return profileStats{}, err
		}
		entries, err := a.Glob(cfg.glob)
		if err != nil {
			return profileStats{}, err
		}
		unpackBytes := totalSize(entries)
		opts := []siva.UnpackOption{siva.UnpackWithWorkers(cfg.workers)}

		if cfg.cold {
			for shouldContinue() {
				destDir := filepath.Join(rootDir, "unpack", fmt.Sprintf("iter-%d", ops))
				if _, err := a.UnpackEntries(destDir, entries, opts...); err != nil {
					return profileStats{}, err
				}
				if err := os.RemoveAll(destDir); err != nil {
					return profileStats{}, err
				}
				byteCount += unpackBytes
				ops++
			}
		} else {
			destDir := filepath.Join(rootDir, "unpack")
			opts = append(opts, siva.UnpackWithOverwrite(true))
			for shouldContinue() {
				if _, err := a.UnpackEntries(destDir, entries, opts...); err != nil {
					return profileStats{}, err
				}
				byteCount += unpackBytes
				ops++
			}
		}

	case "export":
		a, err := siva.NewArchive(src)
		if err != nil {
			return profileStats{}, err
		}
		entries, err := a.Glob(cfg.glob)
		if err != nil {
			return profileStats{}, err
		}
		for shouldContinue() {
			n, err := countingExport(a, entries)
			if err != nil {
				return profileStats{}, err
			}
			byteCount += n
			ops++
		}

	default:
		return profileStats{}, fmt.Errorf("unknown mode: %s", cfg.mode)
	}

	return profileStats{
		ops:     ops,
		bytes:   byteCount,
		elapsed: time.Since(start),
	}, nil
}

func parseFlags() config {
	var cfg config
	var bytesPerSec string
	flag.StringVar(&cfg.mode, "mode", "index-filtered", "mode: index-filtered, index-complete, index-lookup, glob, readfile, cached-readfile-hit, unpack, export")
	flag.IntVar(&cfg.files, "files", 512, "number of files")
	flag.IntVar(&cfg.fileSize, "file-size", 16<<10, "file size in bytes")
	flag.IntVar(&cfg.dirCount, "dir-count", 16, "number of directories")
	flag.IntVar(&cfg.blocks, "blocks", 4, "number of index blocks")
	flag.Float64Var(&cfg.rewrite, "rewrite", 0.1, "fraction of files rewritten or deleted by each later block")
	flag.StringVar(&cfg.pattern, "pattern", "compressible", "pattern: compressible or random")
	flag.DurationVar(&cfg.latency, "latency", 0, "per-read latency of the source (reads from memory when set)")
	flag.StringVar(&bytesPerSec, "bps", "", "bytes/sec throttle of the source (e.g. 10MBps)")
	flag.StringVar(&cfg.fgProfile, "fgprofile", "", "write fgprof (wall clock) profile to file")
	flag.DurationVar(&cfg.duration, "duration", 10*time.Second, "duration to run (ignored if iterations > 0)")
	flag.IntVar(&cfg.iterations, "iterations", 0, "number of iterations to run")
	flag.StringVar(&cfg.pprofAddr, "pprof-addr", "", "pprof listen address (e.g. :6060)")
	flag.StringVar(&cfg.cpuProfile, "cpuprofile", "", "write CPU profile to file")
	flag.StringVar(&cfg.memProfile, "memprofile", "", "write heap profile to file")
	flag.StringVar(&cfg.traceFile, "trace", "", "write trace to file")
	flag.StringVar(&cfg.cache, "cache", "memory", "cache: memory, disk, none")
	flag.StringVar(&cfg.cacheDir, "cache-dir", "", "cache directory (disk cache only)")
	flag.StringVar(&cfg.glob, "glob", "dir00/**", "pattern for glob, unpack and export modes")
	flag.IntVar(&cfg.workers, "workers", 0, "unpack workers: <0 serial, 0 auto, >0 fixed")
	flag.BoolVar(&cfg.cold, "cold", true, "recreate the unpack destination each iteration")
	flag.BoolVar(&cfg.readRandom, "read-random", true, "randomize readfile path selection")
	flag.StringVar(&cfg.tempDir, "temp-dir", "", "directory to use for dataset")
	flag.BoolVar(&cfg.keepTemp, "keep-temp", false, "keep temp dir after run")
	flag.Int64Var(&cfg.randomSeed, "seed", 1, "random seed")
	flag.Parse()
	if bytesPerSec != "" {
		bps, err := parseBytesPerSecond(bytesPerSec)
		if err != nil {
			log.Fatalf("bps: %v", err)
		}
		cfg.bytesPerSec = bps
	}
	return cfg
}

func pickPath(paths []string, idx int, rng *rand.Rand, random bool) string {
	if random {
		return paths[rng.Intn(len(paths))]
	}
	return paths[idx%len(paths)]
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func setupTempDir(cfg config) (string, func() error, error) {
	if cfg.tempDir != "" {
		return cfg.tempDir, nil, os.MkdirAll(cfg.tempDir, 0o755) //nolint:gosec // 0o755 is intentional for profiler temp dirs
	}
	dir, err := os.MkdirTemp("", "siva-profiler-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() error {
		if cfg.keepTemp {
			return nil
		}
		return os.RemoveAll(dir)
	}
	return dir, cleanup, nil
}

// makeDataset encodes cfg.files files into the first block and lets every
// later block rewrite or delete a cfg.rewrite share of them. It returns the
// file bytes and the names that are live in the filtered index.
//
//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func makeDataset(cfg config) ([]byte, []string, error) {
	if cfg.dirCount <= 0 {
		cfg.dirCount = 1
	}
	rng := rand.New(rand.NewSource(cfg.randomSeed)) //nolint:gosec // intentional use for reproducible benchmarks
	modTime := time.Unix(1500000000, 0)

	content := func(i int) ([]byte, error) {
		data := make([]byte, cfg.fileSize)
		switch cfg.pattern {
		case "random":
			if _, err := rng.Read(data); err != nil {
				return nil, err
			}
		default:
			fillByte := byte('a' + (i % 26))
			for j := range data {
				data[j] = fillByte
			}
			if len(data) > 0 {
				data[0] = byte(i)
			}
		}
		return data, nil
	}

	names := make([]string, cfg.files)
	first := make([]testutil.File, 0, cfg.files)
	for i := range cfg.files {
		names[i] = fmt.Sprintf("dir%02d/file%05d.dat", i%cfg.dirCount, i)
		data, err := content(i)
		if err != nil {
			return nil, nil, err
		}
		first = append(first, testutil.File{Name: names[i], Data: data, Mode: 0o644, ModTime: modTime})
	}

	b := testutil.NewBuilder().AddBlock(first...)
	live := make(map[string]bool, cfg.files)
	for _, name := range names {
		live[name] = true
	}

	changes := min(int(float64(cfg.files)*cfg.rewrite), cfg.files)
	for range max(cfg.blocks-1, 0) {
		block := make([]testutil.File, 0, changes)
		for _, i := range rng.Perm(cfg.files)[:changes] {
			if rng.Intn(4) == 0 {
				block = append(block, testutil.Delete(names[i]))
				live[names[i]] = false
				continue
			}
			data, err := content(i)
			if err != nil {
				return nil, nil, err
			}
			block = append(block, testutil.File{Name: names[i], Data: data, Mode: 0o644, ModTime: modTime})
			live[names[i]] = true
		}
		b.AddBlock(block...)
	}

	paths := make([]string, 0, len(names))
	for _, name := range names {
		if live[name] {
			paths = append(paths, name)
		}
	}
	if len(paths) == 0 {
		return nil, nil, errors.New("dataset has no live entries")
	}
	return b.Bytes(), paths, nil
}

// openSource writes data to a file in dir and opens it, or serves it from
// memory behind a throttled reader when latency or bandwidth limits are set.
//
//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func openSource(cfg config, dir string, data []byte) (siva.ByteSource, func() error, error) {
	if cfg.latency > 0 || cfg.bytesPerSec > 0 {
		r := &throttledReaderAt{
			r:              bytes.NewReader(data),
			latency:        cfg.latency,
			bytesPerSecond: cfg.bytesPerSec,
		}
		src := siva.NewSectionSource(r, int64(len(data)), "throttled")
		return src, func() error { return nil }, nil
	}

	path := filepath.Join(dir, "dataset.siva")
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // 0o644 is intentional for profiler test files
		return nil, nil, err
	}
	f, err := siva.OpenFile(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func totalSize(entries []*siva.Entry) int64 {
	var total uint64
	for _, e := range entries {
		next := total + e.Size
		if next < total {
			return int64(^uint64(0) >> 1) //nolint:gosec // overflow check is explicit above
		}
		total = next
	}
	return int64(total) //nolint:gosec // overflow is checked and bounded above
}

func countingExport(a *siva.Archive, entries []*siva.Entry) (int64, error) {
	var w countingWriter
	err := a.ExportTar(&w, entries)
	return w.n, err
}

type countingWriter struct {
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func newCache(cfg config, rootDir string) (cache.Cache, func() error, error) {
	switch cfg.cache {
	case cacheNone:
		return nil, nil, errors.New("cache=none should not create a cache")
	case "memory":
		c, err := cache.NewMemory(cfg.files)
		if err != nil {
			return nil, nil, err
		}
		return c, func() error { return nil }, nil
	case "disk":
		cacheDir := cfg.cacheDir
		autoDir := false
		if cacheDir == "" {
			base := filepath.Join(rootDir, "cache")
			if err := os.MkdirAll(base, 0o755); err != nil { //nolint:gosec // 0o755 is intentional for profiler
				return nil, nil, err
			}
			dir, err := os.MkdirTemp(base, "run-*")
			if err != nil {
				return nil, nil, err
			}
			cacheDir = dir
			autoDir = true
		}

		c, err := disk.New(cacheDir)
		if err != nil {
			return nil, nil, err
		}
		cleanup := func() error {
			if autoDir {
				return os.RemoveAll(cacheDir)
			}
			return nil
		}
		return c, cleanup, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache: %s", cfg.cache)
	}
}
