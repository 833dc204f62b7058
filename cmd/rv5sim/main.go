// Package main provides the full rv5sim command line: functional
// emulation, cycle-accurate timing simulation, and an interactive
// monitor.
package main

import (
	"fmt"
	"log/slog"
	"os"

	getopt "github.com/pborman/getopt/v2"

	"github.com/sarchlab/rv5sim/emu"
	"github.com/sarchlab/rv5sim/loader"
	"github.com/sarchlab/rv5sim/timing/config"
	"github.com/sarchlab/rv5sim/timing/core"
)

func main() {
	optTiming := getopt.BoolLong("timing", 't', "Run the cycle-accurate timing model")
	optMonitor := getopt.BoolLong("monitor", 'i', "Start the interactive monitor")
	optConfig := getopt.StringLong("config", 'c', "", "Core configuration JSON file")
	optCycles := getopt.Uint64Long("max-cycles", 'n', 0, "Stop after this many cycles (0 = unlimited)")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file (default stderr)")
	optVerbose := getopt.BoolLong("verbose", 'v', "Log debug detail")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.SetParameters("program.elf")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	args := getopt.Args()
	if len(args) < 1 {
		getopt.Usage()
		os.Exit(1)
	}

	setupLogging(*optLogFile, *optVerbose)

	prog, err := loader.Load(args[0])
	if err != nil {
		slog.Error("failed to load program", "path", args[0], "error", err)
		os.Exit(1)
	}
	slog.Debug("program loaded",
		"path", args[0],
		"entry", fmt.Sprintf("%#x", prog.EntryPoint),
		"segments", len(prog.Segments))

	cfg := config.DefaultConfig()
	if *optConfig != "" {
		cfg, err = config.LoadConfig(*optConfig)
		if err != nil {
			slog.Error("failed to load core config", "error", err)
			os.Exit(1)
		}
	}
	cfg.ResetVector = prog.EntryPoint

	if *optTiming || *optMonitor {
		os.Exit(runTiming(prog, cfg, *optCycles, *optMonitor))
	}
	os.Exit(runEmulation(prog, *optCycles))
}

func setupLogging(path string, verbose bool) {
	out := os.Stderr
	if path != "" {
		file, err := os.Create(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot create log file: %v\n", err)
			os.Exit(1)
		}
		out = file
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{
		Level: level,
	})))
}

// runEmulation executes the program on the functional reference model.
func runEmulation(prog *loader.Program, maxInstructions uint64) int {
	memory := emu.NewMemory()
	regs := &emu.RegFile{}
	loadSegments(memory, prog)
	regs.PC = prog.EntryPoint

	emulator := emu.NewEmulator(regs, memory)
	if maxInstructions == 0 {
		maxInstructions = ^uint64(0)
	}
	if err := emulator.Run(maxInstructions); err != nil {
		slog.Error("emulation failed", "error", err)
		return 1
	}

	slog.Info("emulation finished",
		"instructions", emulator.Instructions(),
		"exit_code", emulator.ExitCode())
	return int(emulator.ExitCode())
}

// runTiming executes the program on the cycle-accurate core.
func runTiming(prog *loader.Program, cfg config.CoreConfig, maxCycles uint64, monitor bool) int {
	memory := emu.NewMemory()
	c := core.New(cfg, memory)
	c.LoadProgram(prog)

	if monitor {
		return runMonitor(c)
	}

	if maxCycles == 0 {
		maxCycles = ^uint64(0)
	}
	cycles := c.Run(maxCycles)

	if !c.Halted() {
		slog.Warn("cycle limit reached before exit", "cycles", cycles)
	}
	reportStats(c)
	return int(c.ExitCode())
}

func loadSegments(memory *emu.Memory, prog *loader.Program) {
	for _, seg := range prog.Segments {
		memory.WriteBytes(seg.VirtAddr, seg.Data)
		for addr := seg.VirtAddr + uint32(len(seg.Data)); addr < seg.VirtAddr+seg.MemSize; addr++ {
			memory.Write8(addr, 0)
		}
	}
}

func reportStats(c *core.Core) {
	s := c.Stats()
	slog.Info("pipeline",
		"cycles", s.Pipeline.Cycles,
		"instructions", s.Pipeline.Instructions,
		"ipc", fmt.Sprintf("%.3f", s.Pipeline.IPC()),
		"stall_cycles", s.Pipeline.StallCycles,
		"mispredicts", s.Pipeline.Mispredicts,
		"replays", s.Pipeline.Replays)
	slog.Info("icache",
		"reads", s.ICache.Reads,
		"hit_rate", fmt.Sprintf("%.3f", s.ICache.HitRate()),
		"fills", s.ICache.Fills)
	slog.Info("dcache",
		"reads", s.DCache.Reads,
		"writes", s.DCache.Writes,
		"hit_rate", fmt.Sprintf("%.3f", s.DCache.HitRate()),
		"fills", s.DCache.Fills,
		"replays", s.DCache.Replays)
	slog.Info("mmu",
		"lookups", s.MMU.Lookups,
		"hits", s.MMU.Hits,
		"walks", s.MMU.Walks,
		"walk_faults", s.MMU.WalkFaults)
	slog.Info("traps",
		"interrupts", s.CSR.Interrupts,
		"returns", s.CSR.Returns)
}
