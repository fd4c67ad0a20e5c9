package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/buaaliyuan/readros/internal/bag"
	"github.com/buaaliyuan/readros/internal/errors"
)

type dumpOptions struct {
	Topic     string
	StartTime string
	EndTime   string
	Raw       bool
}

var dumpOpts dumpOptions

func newDumpCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump bagfile...",
		Short: "Print messages recorded in one or more bag files, merged in time order",
		Long: `
The "dump" command walks every message across the given bag files in
timestamp order, optionally restricted to one topic and/or a time
window. With --raw and exactly one matching message, it writes that
message's payload bytes to stdout instead of a one-line summary, so the
output can be piped straight into a decoder.
`,
		DisableAutoGenTag: true,
		Args:              cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(cmd.Context(), args, dumpOpts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&dumpOpts.Topic, "topic", "", "only print messages on this topic")
	f.StringVar(&dumpOpts.StartTime, "start", "", "only print messages at or after this time, as seconds.nanoseconds")
	f.StringVar(&dumpOpts.EndTime, "end", "", "only print messages at or before this time, as seconds.nanoseconds")
	f.BoolVar(&dumpOpts.Raw, "raw", false, "write raw payload bytes to stdout instead of a summary line")
	return cmd
}

func parseCLITime(s string) (bag.Time, error) {
	var sec, nsec uint32
	if _, err := fmt.Sscanf(s, "%d.%d", &sec, &nsec); err != nil {
		if _, err := fmt.Sscanf(s, "%d", &sec); err != nil {
			return bag.Time{}, errors.Fatalf("invalid time %q, want seconds or seconds.nanoseconds", s)
		}
	}
	return bag.Time{Sec: sec, Nsec: nsec}, nil
}

func runDump(ctx context.Context, paths []string, opts dumpOptions) error {
	q := bag.NewQuery(func(c *bag.ConnectionInfo) bool {
		return opts.Topic == "" || c.Topic == opts.Topic
	})
	if opts.StartTime != "" {
		t, err := parseCLITime(opts.StartTime)
		if err != nil {
			return err
		}
		q = q.WithStartTime(t)
	}
	if opts.EndTime != "" {
		t, err := parseCLITime(opts.EndTime)
		if err != nil {
			return err
		}
		q = q.WithEndTime(t)
	}

	v, bags, err := bag.OpenMultiView(ctx, paths, q)
	if err != nil {
		return err
	}
	defer func() {
		for _, b := range bags {
			b.Close()
		}
	}()

	it := v.Iterator()
	n := 0
	var last bag.MessageInstance
	for {
		mi, ok, err := it.Next()
		if err != nil {
			return errors.Wrap(err, "iterate messages")
		}
		if !ok {
			break
		}
		n++
		last = mi
		if !opts.Raw {
			fmt.Printf("%s %-30s %6d bytes\n", mi.Time, mi.Connection.Topic, len(mi.Data))
		}
	}

	if opts.Raw {
		if n != 1 {
			return errors.Fatalf("--raw requires exactly one matching message, found %d", n)
		}
		if _, err := os.Stdout.Write(last.Data); err != nil {
			return errors.Wrap(err, "write payload")
		}
	}

	return nil
}
