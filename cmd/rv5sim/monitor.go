package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/sarchlab/rv5sim/timing/core"
)

var monitorCommands = []string{
	"step", "run", "regs", "csr", "mem", "stats", "flush", "reset", "help", "quit",
}

// runMonitor drives the timing core from an interactive prompt. It
// returns the program's exit code once the core halts or the user quits.
func runMonitor(c *core.Core) int {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(prefix string) []string {
		var matches []string
		for _, cmd := range monitorCommands {
			if strings.HasPrefix(cmd, strings.ToLower(prefix)) {
				matches = append(matches, cmd)
			}
		}
		return matches
	})

	fmt.Println("rv5sim monitor; 'help' lists commands")
	for {
		input, err := line.Prompt("rv5sim> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				return int(c.ExitCode())
			}
			fmt.Println("error reading line:", err)
			return 1
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		quit := monitorCommand(c, input)
		if quit || c.Halted() {
			if c.Halted() {
				fmt.Printf("core halted, exit code %d\n", c.ExitCode())
			}
			return int(c.ExitCode())
		}
	}
}

// monitorCommand executes one monitor command. It returns true to quit.
func monitorCommand(c *core.Core, input string) bool {
	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]

	switch strings.ToLower(cmd) {
	case "step", "s":
		n := parseCount(args, 1)
		for i := uint64(0); i < n && !c.Halted(); i++ {
			c.Tick()
		}
		fmt.Printf("cycle %d  pc %#010x\n", c.Stats().Pipeline.Cycles, c.Pipeline.PC())
	case "run", "r":
		n := parseCount(args, ^uint64(0))
		ran := c.Run(n)
		fmt.Printf("ran %d cycles, pc %#010x\n", ran, c.Pipeline.PC())
	case "regs":
		printRegs(c)
	case "csr":
		printCSRs(c)
	case "mem", "m":
		dumpMemory(c, args)
	case "stats":
		printStats(c)
	case "flush":
		c.FlushCaches()
		fmt.Println("cache flush started; the walks drain as the core ticks")
	case "reset":
		c.Reset()
		fmt.Printf("reset, pc %#010x\n", c.Pipeline.PC())
	case "help", "h", "?":
		fmt.Println("step [n]   advance n cycles (default 1)")
		fmt.Println("run [n]    run until halt or n cycles")
		fmt.Println("regs       show integer registers")
		fmt.Println("csr        show control and status registers")
		fmt.Println("mem A [n]  dump n words at hex address A")
		fmt.Println("stats      show performance counters")
		fmt.Println("flush      invalidate both caches")
		fmt.Println("reset      reset the core")
		fmt.Println("quit       leave the monitor")
	case "quit", "q", "exit":
		return true
	default:
		fmt.Println("unknown command:", cmd)
	}
	return false
}

func parseCount(args []string, def uint64) uint64 {
	if len(args) == 0 {
		return def
	}
	n, err := strconv.ParseUint(args[0], 0, 64)
	if err != nil || n == 0 {
		return def
	}
	return n
}

func printRegs(c *core.Core) {
	fmt.Printf("pc  %#010x\n", c.Pipeline.PC())
	for i := 0; i < 32; i += 4 {
		for j := i; j < i+4; j++ {
			fmt.Printf("x%-2d %#010x  ", j, c.Regs.ReadReg(uint8(j)))
		}
		fmt.Println()
	}
}

func printCSRs(c *core.Core) {
	f := c.CSRs
	fmt.Printf("priv %-10s  mtvec %#010x  mepc %#010x\n", f.Priv, f.Mtvec, f.Mepc)
	fmt.Printf("mcause %#010x  mtval %#010x  mscratch %#010x\n", f.Mcause, f.Mtval, f.Mscratch)
	fmt.Printf("mie %#010x  mip %#010x  mie(bit) %v  satp mode=%v ppn=%#x\n",
		f.Mie, f.Mip, f.MIE, f.Satp.Mode, f.Satp.PPN)
	fmt.Printf("mcycle %d  minstret %d\n", f.Mcycle, f.Minstret)
}

func dumpMemory(c *core.Core, args []string) {
	if len(args) == 0 {
		fmt.Println("usage: mem <hexaddr> [words]")
		return
	}
	addr64, err := strconv.ParseUint(strings.TrimPrefix(args[0], "0x"), 16, 32)
	if err != nil {
		fmt.Println("bad address:", args[0])
		return
	}
	words := parseCount(args[1:], 4)

	addr := uint32(addr64) &^ 3
	for i := uint64(0); i < words; i++ {
		if i%4 == 0 {
			if i != 0 {
				fmt.Println()
			}
			fmt.Printf("%#010x:", addr)
		}
		fmt.Printf(" %08x", c.Mem.Read32(addr))
		addr += 4
	}
	fmt.Println()
}

func printStats(c *core.Core) {
	s := c.Stats()
	fmt.Printf("cycles %d  instructions %d  ipc %.3f\n",
		s.Pipeline.Cycles, s.Pipeline.Instructions, s.Pipeline.IPC())
	fmt.Printf("stalls %d  mispredicts %d  replays %d\n",
		s.Pipeline.StallCycles, s.Pipeline.Mispredicts, s.Pipeline.Replays)
	fmt.Printf("icache hit rate %.3f  dcache hit rate %.3f\n",
		s.ICache.HitRate(), s.DCache.HitRate())
	fmt.Printf("tlb hits %d/%d  walks %d  walk faults %d\n",
		s.MMU.Hits, s.MMU.Lookups, s.MMU.Walks, s.MMU.WalkFaults)
	fmt.Printf("predictor lookups %d  taken guesses %d  stale drops %d\n",
		s.Predictor.Lookups, s.Predictor.TakenGuess, s.Predictor.StaleDrops)
	fmt.Printf("interrupts %d  trap returns %d\n", s.CSR.Interrupts, s.CSR.Returns)
}
