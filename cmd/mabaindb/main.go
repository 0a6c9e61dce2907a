// mabaindb is an interactive CLI for inspecting and mutating a mabain
// store. Its only contract with the store is the public github.com/
// mabaindb/mabain package: every REPL command is a thin wrapper around
// Add, Append, Find, FindLongestPrefix, Remove, RemoveAll, Iterator,
// Shrink, Stats or Flush.
//
// Usage:
//
//	mabaindb --dir <store-dir> [--writer] [--async] [options]
//
// Options:
//
//	    --dir            store directory (required)
//	    --writer         open for writing (default: read-only)
//	    --async          queue mutations through an async writer
//	    --async-depth    async queue capacity (default: 1024)
//	    --memcap-index   index block size in bytes (must match an existing store's)
//	    --memcap-data    data block size in bytes (must match an existing store's)
//	    --prefix-cache   enable the shared-memory prefix cache
//	    --hash-index     enable the exact-match hash index
//	    --memory-only    skip explicit msync on writeback
//
// Commands (in REPL):
//
//	add <key> <value>            Insert or overwrite a key
//	append <key> <extra>         Append bytes to an existing key's value
//	find <key>                   Look up a key
//	lp <key>                     Find the longest stored prefix of key
//	rm <key>                     Remove a key
//	rmall                        Remove every key
//	iter [limit]                 List keys (and value lengths)
//	shrink [min-index] [min-data] Compact the store
//	stats                        Show store counters
//	flush                        Force an msync of both address spaces
//	help                         Show this help
//	exit / quit / q              Exit
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mabaindb/mabain/pkg/mabain"
	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mabaindb: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flagSet := flag.NewFlagSet("mabaindb", flag.ContinueOnError)

	dir := flagSet.String("dir", "", "store directory (required)")
	writer := flagSet.Bool("writer", false, "open for writing")
	async := flagSet.Bool("async", false, "queue mutations through an async writer")
	asyncDepth := flagSet.Int("async-depth", 1024, "async queue capacity")
	memcapIndex := flagSet.Int("memcap-index", 0, "index block size in bytes (must match an existing store's)")
	memcapData := flagSet.Int("memcap-data", 0, "data block size in bytes (must match an existing store's)")
	prefixCache := flagSet.Bool("prefix-cache", false, "enable the shared-memory prefix cache")
	hashIndex := flagSet.Bool("hash-index", false, "enable the exact-match hash index")
	memoryOnly := flagSet.Bool("memory-only", false, "skip explicit msync on writeback")

	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: mabaindb --dir <store-dir> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	if *dir == "" {
		flagSet.Usage()

		return fmt.Errorf("--dir is required")
	}

	opt := mabain.Options{
		Dir:               *dir,
		IndexBlockSize:    *memcapIndex,
		DataBlockSize:     *memcapData,
		EnablePrefixCache: *prefixCache,
		EnableHashIndex:   *hashIndex,
		MemoryOnly:        *memoryOnly,
	}

	if *writer {
		opt.Access = mabain.Writer
	}

	var asyncWriter mabain.AsyncWriter

	if *async {
		if !*writer {
			return fmt.Errorf("--async requires --writer")
		}

		asyncWriter = mabain.NewChanAsyncWriter(*asyncDepth)
		opt.AsyncWriter = asyncWriter
	}

	db, err := mabain.Open(opt)
	if err != nil {
		return fmt.Errorf("opening %s: %w", *dir, err)
	}

	defer db.Close()

	if asyncWriter != nil {
		defer asyncWriter.Close()
	}

	repl := &REPL{db: db, dir: *dir, writable: *writer}

	return repl.Run()
}

// REPL is the interactive command loop, styled after the package's other
// liner-based CLI drivers.
type REPL struct {
	db       *mabain.DB
	dir      string
	writable bool
	liner    *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".mabaindb_history")
}

func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	mode := "read-only"
	if r.writable {
		mode = "writer"
	}

	fmt.Printf("mabaindb - %s (%s)\n", r.dir, mode)
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("mabaindb> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nBye!")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")
			r.saveHistory()

			return nil

		case "help", "?":
			r.printHelp()

		case "add":
			r.cmdAdd(args)

		case "append":
			r.cmdAppend(args)

		case "find", "get":
			r.cmdFind(args)

		case "lp", "longest-prefix":
			r.cmdLongestPrefix(args)

		case "rm", "del", "remove":
			r.cmdRemove(args)

		case "rmall", "clear-all":
			r.cmdRemoveAll()

		case "iter", "ls", "list":
			r.cmdIterate(args)

		case "shrink", "gc":
			r.cmdShrink(args)

		case "stats", "info":
			r.cmdStats()

		case "flush":
			r.cmdFlush()

		case "clear", "cls":
			fmt.Print("\033[H\033[2J")

		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.saveHistory()

	return nil
}

func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *REPL) completer(line string) []string {
	commands := []string{
		"add", "append", "find", "get", "lp", "rm", "del", "remove",
		"rmall", "iter", "ls", "shrink", "gc", "stats", "info", "flush",
		"clear", "cls", "help", "exit", "quit", "q",
	}

	var completions []string

	lower := strings.ToLower(line)
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}

	return completions
}

func (r *REPL) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  add <key> <value>             Insert or overwrite a key")
	fmt.Println("  append <key> <extra>          Append bytes to an existing key's value")
	fmt.Println("  find <key>                     Look up a key")
	fmt.Println("  lp <key>                       Find the longest stored prefix of key")
	fmt.Println("  rm <key>                       Remove a key")
	fmt.Println("  rmall                          Remove every key")
	fmt.Println("  iter [limit]                   List keys (and value lengths)")
	fmt.Println("  shrink [min-index] [min-data]  Compact the store")
	fmt.Println("  stats                          Show store counters")
	fmt.Println("  flush                          Force an msync of both address spaces")
	fmt.Println("  help                           Show this help")
	fmt.Println("  exit / quit / q                Exit")
}

func (r *REPL) requireWriter() bool {
	if !r.writable {
		fmt.Println("store opened read-only; restart with --writer")

		return false
	}

	return true
}

func (r *REPL) cmdAdd(args []string) {
	if !r.requireWriter() {
		return
	}

	if len(args) < 2 {
		fmt.Println("usage: add <key> <value>")

		return
	}

	if err := r.db.Add([]byte(args[0]), []byte(strings.Join(args[1:], " ")), true); err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	fmt.Println("OK")
}

func (r *REPL) cmdAppend(args []string) {
	if !r.requireWriter() {
		return
	}

	if len(args) < 2 {
		fmt.Println("usage: append <key> <extra>")

		return
	}

	if err := r.db.Append([]byte(args[0]), []byte(strings.Join(args[1:], " "))); err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	fmt.Println("OK")
}

func (r *REPL) cmdFind(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: find <key>")

		return
	}

	v, err := r.db.Find([]byte(args[0]))
	if err != nil {
		fmt.Printf("not found: %v\n", err)

		return
	}

	fmt.Printf("%s\n", v)
}

func (r *REPL) cmdLongestPrefix(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: lp <key>")

		return
	}

	v, n, err := r.db.FindLongestPrefix([]byte(args[0]))
	if err != nil {
		fmt.Printf("not found: %v\n", err)

		return
	}

	fmt.Printf("matched %d bytes: %s\n", n, v)
}

func (r *REPL) cmdRemove(args []string) {
	if !r.requireWriter() {
		return
	}

	if len(args) < 1 {
		fmt.Println("usage: rm <key>")

		return
	}

	if err := r.db.Remove([]byte(args[0])); err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	fmt.Println("OK")
}

func (r *REPL) cmdRemoveAll() {
	if !r.requireWriter() {
		return
	}

	if err := r.db.RemoveAll(); err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	fmt.Println("OK")
}

func (r *REPL) cmdIterate(args []string) {
	limit := -1

	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			fmt.Println("usage: iter [limit]")

			return
		}

		limit = n
	}

	it, err := r.db.Iterator()
	if err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	defer it.Close()

	count := 0

	for it.Next() {
		if limit >= 0 && count >= limit {
			fmt.Println("...")

			break
		}

		e := it.Entry()
		fmt.Printf("%s -> %d bytes\n", e.Key, len(e.Value))

		count++
	}

	if err := it.Err(); err != nil {
		fmt.Printf("error: %v\n", err)
	}
}

func (r *REPL) cmdShrink(args []string) {
	if !r.requireWriter() {
		return
	}

	var minIndex, minData uint64

	if len(args) > 0 {
		n, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			fmt.Println("usage: shrink [min-index] [min-data]")

			return
		}

		minIndex = n
	}

	if len(args) > 1 {
		n, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			fmt.Println("usage: shrink [min-index] [min-data]")

			return
		}

		minData = n
	}

	stats, err := r.db.Shrink(minIndex, minData)
	if err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	fmt.Printf("rescanned %d keys; index blocks %d -> %d; data blocks %d -> %d\n",
		stats.KeysRescanned, stats.IndexBlocksFrom, stats.IndexBlocksTo, stats.DataBlocksFrom, stats.DataBlocksTo)
}

func (r *REPL) cmdStats() {
	st, err := r.db.Stats()
	if err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	fmt.Printf("keys:            %d\n", st.KeyCount)
	fmt.Printf("index highwater: %d\n", st.IndexHighwater)
	fmt.Printf("data highwater:  %d\n", st.DataHighwater)
	fmt.Printf("shrink epoch:    %d\n", st.ShrinkEpoch)
	fmt.Printf("prefix cache:    %v\n", st.PrefixCacheOn)
	fmt.Printf("hash index:      %v\n", st.HashIndexOn)
}

func (r *REPL) cmdFlush() {
	if err := r.db.Flush(); err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	fmt.Println("OK")
}
