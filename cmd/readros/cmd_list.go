package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list bagfile",
		Short: "List the topics recorded in a bag file",
		Long: `
The "list" command prints one line per connection: its topic, datatype
and md5sum, with no chunk or message-count detail. A topic recorded
under several connections appears once for each. Use "info" for a fuller
summary.
`,
		DisableAutoGenTag: true,
		Args:              cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runListTopics(args[0])
		},
	}
}

func runListTopics(path string) error {
	b, err := openBag(path)
	if err != nil {
		return err
	}
	defer b.Close()

	for _, conn := range b.Connections() {
		fmt.Printf("%s\t%s\t%s\n", conn.Topic, conn.Datatype, conn.MD5Sum)
	}
	return nil
}
