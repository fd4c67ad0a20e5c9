package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info bagfile",
		Short: "Print a summary of a bag file's connections and chunks",
		Long: `
The "info" command reports the connection count, chunk count, each
connection's topic, datatype and message count, and the start and end
time of the recorded chunks, all taken from a bag file's trailer index.
`,
		DisableAutoGenTag: true,
		Args:              cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runInfo(args[0])
		},
	}
}

func runInfo(path string) error {
	b, err := openBag(path)
	if err != nil {
		return err
	}
	defer b.Close()

	counts := b.MessageCounts()
	fmt.Printf("path:        %s\n", path)
	fmt.Printf("connections: %d\n", b.ConnectionCount())
	fmt.Printf("chunks:      %d\n", b.ChunkCount())
	fmt.Println()

	for _, conn := range b.Connections() {
		fmt.Printf("  %-30s %-40s %6d msgs\n", conn.Topic, conn.Datatype, counts[conn.ID])
	}

	if chunks := b.ChunkInfos(); len(chunks) > 0 {
		fmt.Println()
		fmt.Printf("start: %s\n", chunks[0].StartTime)
		fmt.Printf("end:   %s\n", chunks[len(chunks)-1].EndTime)
	}

	return nil
}
