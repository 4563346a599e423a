package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"jimtransmit/internal/journal"
)

const usage = `usage: %s <command>
  migrate    apply pending journal migrations
  tail [n]   print the last n cycles (default 20)
`

func main() {
	path := os.Getenv("JOURNAL_PATH")
	if path == "" {
		path = "./data/journal.db"
	}
	path = filepath.Clean(path)

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(1)
	}

	// Open applies migrations, so "migrate" is just an open and close.
	j, err := journal.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "journal open: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := j.Close(); closeErr != nil {
			slog.Error("journal close", "err", closeErr)
		}
	}()

	switch os.Args[1] {
	case "migrate":
		fmt.Println("migrations applied")
	case "tail":
		n := 20
		if len(os.Args) > 2 {
			n, err = strconv.Atoi(os.Args[2])
			if err != nil || n <= 0 {
				fmt.Fprintf(os.Stderr, "invalid count %q\n", os.Args[2])
				os.Exit(1)
			}
		}
		if err := tail(j, n); err != nil {
			fmt.Fprintf(os.Stderr, "tail: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
}

func tail(j *journal.Journal, n int) error {
	entries, err := j.Recent(context.Background(), n)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AT\tBOOT\tSEQ\tPAYLOAD\tRESULT\tSTATE\tBLINK_MS")
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%d\n", e.At.Format("2006-01-02 15:04:05"), e.BootID, e.Seq, e.Payload, e.Result, e.State, e.BlinkMS)
	}
	return w.Flush()
}
