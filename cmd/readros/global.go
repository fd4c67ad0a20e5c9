package main

import (
	"github.com/pkg/profile"

	"github.com/buaaliyuan/readros/internal/bag"
	"github.com/buaaliyuan/readros/internal/errors"
)

// GlobalOptions holds flags shared by every subcommand.
type GlobalOptions struct {
	Passphrase string

	CPUProfilePath string
	MemProfilePath string
}

var globalOptions = GlobalOptions{}

func init() {
	cmdRoot.PersistentFlags().StringVar(&globalOptions.CPUProfilePath, "cpu-profile", "", "write a CPU profile to `dir` for the duration of the command")
	cmdRoot.PersistentFlags().StringVar(&globalOptions.MemProfilePath, "mem-profile", "", "write a memory profile to `dir` on exit")
}

var activeProfile interface{ Stop() }

// runDebug starts whichever profiler was requested on the command line.
// It is split out from main so a profiling build can swap it for a
// no-op the way restic's build-tag-gated runDebug does.
func runDebug() error {
	if globalOptions.CPUProfilePath != "" && globalOptions.MemProfilePath != "" {
		return errors.Fatal("only one of --cpu-profile or --mem-profile may be given at a time")
	}

	switch {
	case globalOptions.CPUProfilePath != "":
		activeProfile = profile.Start(profile.Quiet, profile.NoShutdownHook, profile.CPUProfile, profile.ProfilePath(globalOptions.CPUProfilePath))
	case globalOptions.MemProfilePath != "":
		activeProfile = profile.Start(profile.Quiet, profile.NoShutdownHook, profile.MemProfile, profile.ProfilePath(globalOptions.MemProfilePath))
	}

	return nil
}

func stopDebug() {
	if activeProfile != nil {
		activeProfile.Stop()
	}
}

// openBag opens path read-only, resolving the encryptor from
// --passphrase when one is set. A bag recorded without encryption
// ignores the passphrase entirely, matching Open's own semantics: the
// file header names its own plugin, and NoopEncryptor never needs a key.
func openBag(path string) (*bag.Bag, error) {
	var enc bag.Encryptor
	if globalOptions.Passphrase != "" {
		enc = bag.NewAESEncryptor(globalOptions.Passphrase)
	}
	b, err := bag.Open(path, enc)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	return b, nil
}
