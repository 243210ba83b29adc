package main

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/praetorian-inc/sigscan/pkg/matcher"
	"github.com/praetorian-inc/sigscan/pkg/memory"
	"github.com/praetorian-inc/sigscan/pkg/signature"
	"github.com/praetorian-inc/sigscan/pkg/types"
)

var (
	verifyPattern    string
	verifyAt         string
	verifyBase       string
	verifyBaseSlot   int
	verifyStepBudget int
)

var verifyCmd = &cobra.Command{
	Use:   "verify <file>",
	Short: "Check whether a signature matches at an address",
	Long: `Map a file at --base and match a single signature exactly at --at.
Prints the capture vector on success.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&verifyPattern, "pattern", "", "Signature text")
	verifyCmd.Flags().StringVar(&verifyAt, "at", "", "Address the signature must match at")
	verifyCmd.Flags().StringVar(&verifyBase, "base", "0", "Address the file is loaded at")
	verifyCmd.Flags().IntVar(&verifyBaseSlot, "base-slot", 1, "Slot of the first explicit save")
	verifyCmd.Flags().IntVar(&verifyStepBudget, "step-budget", 0, "Maximum matcher steps (0 for no limit)")
	_ = verifyCmd.MarkFlagRequired("pattern")
	_ = verifyCmd.MarkFlagRequired("at")
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	seq, err := signature.Parse(verifyPattern, verifyBaseSlot, true)
	if err != nil {
		return err
	}
	base, err := types.ParseAddress(verifyBase)
	if err != nil {
		return errors.Wrap(err, "parsing --base")
	}
	at, err := types.ParseAddress(verifyAt)
	if err != nil {
		return errors.Wrap(err, "parsing --at")
	}

	region, err := memory.MapFile(args[0], base)
	if err != nil {
		return err
	}
	defer region.Close()

	m := matcher.New(region, matcher.WithStepBudget(verifyStepBudget))
	addrs, err := m.Verify(ctx, seq, at)
	if err != nil {
		if errors.Is(err, matcher.ErrNotFound) {
			return errors.Newf("%s does not match at %s", seq, at)
		}
		return err
	}

	out := cmd.OutOrStdout()
	for slot, a := range addrs {
		fmt.Fprintf(out, "%d\t%s\n", slot, a)
	}
	return nil
}
