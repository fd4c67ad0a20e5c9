package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/buaaliyuan/readros/internal/debug"
	"github.com/buaaliyuan/readros/internal/errors"
)

func init() {
	// don't import go.uber.org/automaxprocs directly to disable its log output
	_, _ = maxprocs.Set()
}

// cmdRoot is the base command when no other command has been specified.
var cmdRoot = &cobra.Command{
	Use:   "readros",
	Short: "Inspect and query bag files",
	Long: `
readros reads the chunked, append-only bag container format: it lists the
topics and connections recorded in a file, dumps message payloads, and
verifies that a file's trailer index matches what its chunks actually hold.
`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	DisableAutoGenTag: true,

	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return runDebug()
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		stopDebug()
	},
}

func init() {
	cmdRoot.PersistentFlags().StringVar(&globalOptions.Passphrase, "passphrase", "", "passphrase for an AES-encrypted bag (default: $READROS_PASSPHRASE)")
	cmdRoot.AddCommand(newInfoCommand())
	cmdRoot.AddCommand(newListCommand())
	cmdRoot.AddCommand(newDumpCommand())
	cmdRoot.AddCommand(newVerifyCommand())

	if p := os.Getenv("READROS_PASSPHRASE"); p != "" {
		globalOptions.Passphrase = p
	}
}

func createGlobalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-ch
		debug.Log("signal %v received, cancelling", s)
		cancel()
	}()

	return ctx
}

// Exit terminates the process with the given exit code.
func Exit(code int) {
	debug.Log("exiting with status code %d", code)
	os.Exit(code)
}

func main() {
	ctx := createGlobalContext()

	err := cmdRoot.ExecuteContext(ctx)

	if err == nil {
		err = ctx.Err()
	}

	var exitCode int
	switch {
	case err == nil:
		exitCode = 0
	case errors.IsFatal(err):
		fmt.Fprintln(os.Stderr, err)
		exitCode = 1
	case errors.Is(err, context.Canceled):
		exitCode = 130
	case err != nil:
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		exitCode = 1
	}

	Exit(exitCode)
}
