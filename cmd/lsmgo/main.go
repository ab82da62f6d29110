// Command lsmgo is a thin demo CLI over package lsmgo: open a store
// rooted at --dir and run a single verb against it. Not part of the
// engine's public API — an external collaborator exercising it.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lsmgo/lsmgo"
)

func logrusVerbose() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.DebugLevel)
	return l
}

func main() {
	var dir string
	var memThreshold int
	var l0Trigger int
	var syncOnWrite bool
	var verbose bool

	openDB := func() (*lsmgo.DB, error) {
		opts := []lsmgo.Option{
			lsmgo.WithSyncOnWrite(syncOnWrite),
		}
		if memThreshold > 0 {
			opts = append(opts, lsmgo.WithMemtableThresholdBytes(memThreshold))
		}
		if l0Trigger > 0 {
			opts = append(opts, lsmgo.WithL0CompactionTrigger(l0Trigger))
		}
		if verbose {
			logger := logrusVerbose()
			opts = append(opts, lsmgo.WithLogger(logger))
		}
		return lsmgo.Open(dir, opts...)
	}

	root := &cobra.Command{
		Use:   "lsmgo",
		Short: "lsmgo is a demo CLI for the embedded LSM key-value store",
	}
	root.PersistentFlags().StringVar(&dir, "dir", "data", "store directory (WAL + SSTables live here)")
	root.PersistentFlags().IntVar(&memThreshold, "mem", 0, "MemtableThresholdBytes override (0 uses the default)")
	root.PersistentFlags().IntVar(&l0Trigger, "l0-trigger", 0, "L0CompactionTrigger override (0 uses the default)")
	root.PersistentFlags().BoolVar(&syncOnWrite, "sync", true, "fsync the WAL on each write")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "debug-level logging")

	root.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "write key=value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			if err := db.Set(args[0], []byte(args[1])); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "read the current value for key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			v, ok, err := db.Get(args[0])
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("(not found)")
				os.Exit(1)
			}
			fmt.Println(string(v))
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "delete <key>",
		Short: "write a tombstone for key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			if err := db.Delete(args[0]); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "flush",
		Short: "force the active memtable to an L0 SSTable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			if err := db.Flush(); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "compact",
		Short: "run leveled compaction starting at L0",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			if err := db.Compact(); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
