// Command callsim drives a scripted call through a running ClinicGuard server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var defaultTurns = []string{
	"Hi, I'd like to book an appointment with Dr. Patel.",
	"Thursday morning works best for me.",
	"Thanks, that's all.",
}

type runOptions struct {
	baseURL   string
	callSID   string
	from      string
	turns     []string
	audioFile string
	interTurn time.Duration
	timeout   time.Duration
	watch     bool
	perf      bool
	resetPerf bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "callsim",
		Short:         "Simulate phone calls against a ClinicGuard server",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newRunCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Play scripted caller turns and end the call",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.normalize(); err != nil {
				return err
			}
			return runCall(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.baseURL, "base-url", "http://127.0.0.1:8000", "ClinicGuard base URL")
	f.StringVar(&opts.callSID, "call-sid", "", "call id to use (random when empty)")
	f.StringVar(&opts.from, "from", "+15555550100", "caller phone number")
	f.StringArrayVar(&opts.turns, "turn", nil, "caller utterance; repeat for multiple turns")
	f.StringVar(&opts.audioFile, "audio-file", "", "WAV file sent as the first turn instead of text")
	f.DurationVar(&opts.interTurn, "inter-turn", 200*time.Millisecond, "pause between turns")
	f.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "overall deadline for the call")
	f.BoolVar(&opts.watch, "watch", false, "print call events from the websocket feed")
	f.BoolVar(&opts.perf, "perf", false, "print the turn stage latency snapshot after the call")
	f.BoolVar(&opts.resetPerf, "reset-perf", false, "reset the latency window after printing it")
	return cmd
}

func (o *runOptions) normalize() error {
	o.baseURL = strings.TrimRight(strings.TrimSpace(o.baseURL), "/")
	if o.baseURL == "" {
		return fmt.Errorf("base-url is required")
	}
	if strings.TrimSpace(o.callSID) == "" {
		o.callSID = "CA" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	turns := o.turns[:0]
	for _, t := range o.turns {
		if t = strings.TrimSpace(t); t != "" {
			turns = append(turns, t)
		}
	}
	o.turns = turns
	if len(o.turns) == 0 && o.audioFile == "" {
		o.turns = append([]string(nil), defaultTurns...)
	}
	if o.interTurn < 0 {
		o.interTurn = 0
	}
	if o.timeout <= 0 {
		o.timeout = 2 * time.Minute
	}
	return nil
}
