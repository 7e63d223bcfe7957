// Package cli implements the command-line interface for uaedb.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	flags "github.com/jessevdk/go-flags"

	"github.com/rretrogamerr/uaedb/internal/uaerr"
)

// Root defines the default patch operation's flags and positional
// arguments. There is no "patch" subcommand name: SOURCE PATCH OUTPUT is
// the default action, matching the patcher-contract shape of spec §6.
type Root struct {
	Uncompress  string `long:"uncompress" value-name:"OUTPUT" description:"Write the uncompressed (.decomp) form of SOURCE to OUTPUT and exit; PATCH/OUTPUT positionals are not required"`
	ListEntries bool   `long:"list-entries" description:"Print SOURCE's entry paths and exit"`
	Entry       string `long:"entry" value-name:"PATH" description:"Force entry mode against this entry path instead of auto-selecting"`
	Xdelta      string `long:"xdelta" value-name:"PATH" description:"Path to the xdelta3-compatible executable (default: look up xdelta3 on PATH)"`
	KeepWork    bool   `long:"keep-work" description:"Do not delete the temporary work directory on exit"`
	SkipCache   bool   `long:"no-cache" description:"Ignore the patch-result cache and always re-run the patcher"`

	Args struct {
		Source string `positional-arg-name:"source" description:"Source UnityFS bundle"`
		Patch  string `positional-arg-name:"patch" description:"Patch file passed to the external patcher"`
		Output string `positional-arg-name:"output" description:"Path the rebuilt bundle is written to"`
	} `positional-args:"yes"`
}

// Run parses arguments and executes the selected command.
func Run(args []string) error {
	var root Root

	parser := flags.NewParser(&root, flags.Default)
	parser.Name = filepath.Base(os.Args[0])

	prog := parser.Name
	if _, err := parser.AddCommand(
		"batch",
		"Run multiple patch jobs from a config file",
		fmt.Sprintf(
			`Run every job listed in a YAML config against the orchestrator.

Examples:
  %s batch ./uaedb.yaml
  %s batch ./uaedb.yaml --job fix-texture`,
			prog, prog,
		),
		&CmdBatch{},
	); err != nil {
		return err
	}

	if _, err := parser.ParseArgs(args); err != nil {
		if fe, ok := err.(*flags.Error); ok && fe.Type == flags.ErrHelp {
			return nil
		}
		return fmt.Errorf("%w: %v", uaerr.ErrUsage, err)
	}

	if parser.Active != nil {
		return nil
	}

	return runPatch(&root)
}
