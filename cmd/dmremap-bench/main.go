// Command dmremap-bench drives synthetic I/O and remap traffic against an
// in-process Manager and reports throughput and latency, the way the
// teacher's cmd/tk-bench drives synthetic workloads against tk. Unlike
// tk-bench this never shells out to an external binary or to hyperfine —
// the whole pipeline (primary/spare devices, dispatcher, background
// workers) lives in this process, so the benchmark is just a Go loop
// around the pkg/manager API.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"github.com/dmremap/dmremap/pkg/blockdev"
	"github.com/dmremap/dmremap/pkg/config"
	"github.com/dmremap/dmremap/pkg/dispatcher"
	"github.com/dmremap/dmremap/pkg/manager"
)

type benchConfig struct {
	primarySectors uint64
	spareSectors   uint64
	metaSectors    uint64
	ops            int
	manualRemaps   int
	workDir        string
	seed           int64
}

func main() {
	cfg := benchConfig{}

	pflag.Uint64Var(&cfg.primarySectors, "primary-sectors", 200_000, "primary device size in sectors")
	pflag.Uint64Var(&cfg.spareSectors, "spare-sectors", 20_000, "spare device size in sectors")
	pflag.Uint64Var(&cfg.metaSectors, "meta-sectors", 400, "metadata region size in sectors")
	pflag.IntVar(&cfg.ops, "ops", 50_000, "number of read/write requests to issue")
	pflag.IntVar(&cfg.manualRemaps, "manual-remaps", 100, "number of manual remap_p operations to issue before the I/O run")
	pflag.StringVar(&cfg.workDir, "dir", "", "directory to hold the two device files (default: a temp dir)")
	pflag.Int64Var(&cfg.seed, "seed", 1, "PRNG seed for the synthetic workload")

	pflag.Usage = func() {
		fmt.Fprint(os.Stderr, "Usage: dmremap-bench [flags]\n\n")
		fmt.Fprint(os.Stderr, "Drives synthetic read/write traffic and manual remaps against an\nin-process dmremap Manager and prints a status/timing report.\n\n")
		fmt.Fprint(os.Stderr, "Flags:\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "dmremap-bench: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg benchConfig) error {
	dir := cfg.workDir
	if dir == "" {
		var err error

		dir, err = os.MkdirTemp("", "dmremap-bench-")
		if err != nil {
			return err
		}

		defer os.RemoveAll(dir)
	}

	primary, err := blockdev.CreateFileDevice(filepath.Join(dir, "primary.img"), cfg.primarySectors)
	if err != nil {
		return fmt.Errorf("create primary device: %w", err)
	}
	defer primary.Close()

	spare, err := blockdev.CreateFileDevice(filepath.Join(dir, "spare.img"), cfg.spareSectors)
	if err != nil {
		return fmt.Errorf("create spare device: %w", err)
	}
	defer spare.Close()

	m, err := manager.Activate(manager.ActivationParams{
		Primary:              primary,
		Spare:                spare,
		MetaRegionSectors:    cfg.metaSectors,
		SpareDataRegionStart: cfg.metaSectors,
		SpareDataRegionLen:   cfg.spareSectors - cfg.metaSectors,
		Config:               config.DefaultConfig(),
	})
	if err != nil {
		return fmt.Errorf("activate manager: %w", err)
	}
	defer m.Shutdown()

	rng := rand.New(rand.NewSource(cfg.seed))

	fmt.Fprintf(os.Stderr, "seeding %d manual remaps...\n", cfg.manualRemaps)

	remapStart := time.Now()

	for i := 0; i < cfg.manualRemaps; i++ {
		sector := rng.Uint64() % cfg.primarySectors
		if err := m.Remap(sector); err != nil {
			continue // collisions against an already-remapped sector are expected at random
		}
	}

	remapElapsed := time.Since(remapStart)

	fmt.Fprintf(os.Stderr, "issuing %d I/O requests...\n", cfg.ops)

	buf := make([]byte, blockdev.SectorSize)
	ioStart := time.Now()

	var reads, writes, ioErrors int

	for i := 0; i < cfg.ops; i++ {
		sector := rng.Uint64() % cfg.primarySectors

		if rng.Intn(2) == 0 {
			if err := m.Dispatcher().Submit(dispatcher.Request{Op: dispatcher.OpRead, Sector: sector, Length: 1}, buf); err != nil {
				ioErrors++
			} else {
				reads++
			}

			continue
		}

		if err := m.Dispatcher().Submit(dispatcher.Request{Op: dispatcher.OpWrite, Sector: sector, Length: 1}, buf); err != nil {
			ioErrors++
		} else {
			writes++
		}
	}

	ioElapsed := time.Since(ioStart)

	if err := m.Save(); err != nil {
		return fmt.Errorf("final save: %w", err)
	}

	status := m.Status()

	fmt.Printf("manual remaps: %d issued in %s\n", cfg.manualRemaps, remapElapsed)
	fmt.Printf("io: %d reads, %d writes, %d errors in %s (%.0f ops/sec)\n",
		reads, writes, ioErrors, ioElapsed, float64(reads+writes)/ioElapsed.Seconds())
	fmt.Printf("table: %d entries (%d manual, %d auto), %d buckets, %d resizes\n",
		status.Table.EntriesCount, status.Table.ManualCount, status.Table.AutoCount,
		status.Table.BucketCount, status.Table.ResizeCount)
	fmt.Printf("autoremap worker: %d processed, %d failed, %d exhausted\n",
		status.AutoRemap.Processed, status.AutoRemap.Failed, status.AutoRemap.Exhausted)
	fmt.Printf("error histogram: %v\n", status.ErrorHistogram)

	return nil
}
