// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quietloop/riftpull/internal/store"
	"github.com/quietloop/riftpull/internal/tui"
	"github.com/quietloop/riftpull/pkg/riftpull"
)

// RootOpts holds global CLI options.
type RootOpts struct {
	JSONOut bool
	Quiet   bool
	Verbose bool
	Config  string
	Force   bool
}

// Execute runs the CLI with the given version string.
func Execute(version string) error {
	ro := &RootOpts{}
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	root := &cobra.Command{
		Use:           "riftpull",
		Short:         "Parallel, resumable ranged downloader",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	root.PersistentFlags().BoolVar(&ro.JSONOut, "json", false, "Emit machine-readable JSON events")
	root.PersistentFlags().BoolVarP(&ro.Quiet, "quiet", "q", false, "Quiet mode (minimal logs)")
	root.PersistentFlags().BoolVarP(&ro.Verbose, "verbose", "v", false, "Verbose logs")
	root.PersistentFlags().StringVar(&ro.Config, "config", "", "Path to config file (JSON)")

	downloadCmd := newDownloadCmd(ctx, ro)
	root.AddCommand(downloadCmd)
	root.AddCommand(newVersionCmd(version))
	root.AddCommand(newServeCmd(ro))
	root.AddCommand(newConfigCmd())

	root.RunE = downloadCmd.RunE
	root.SetHelpCommand(&cobra.Command{Use: "help", Hidden: true})

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

func newDownloadCmd(ctx context.Context, ro *RootOpts) *cobra.Command {
	args := riftpull.DefaultArgs()
	var retryGapStr, pullTimeoutStr string

	cmd := &cobra.Command{
		Use:   "download [URL]",
		Short: "Download a file with parallel ranged requests",
		Args:  cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, cmdArgs []string) error {
			return applySettingsDefaults(cmd, &args, ro.Config)
		},
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			finalArgs, err := finalize(&args, cmdArgs, retryGapStr, pullTimeoutStr)
			if err != nil {
				return err
			}

			storePath, err := defaultStorePath()
			if err != nil {
				return err
			}
			st, err := store.Open(storePath)
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer st.Close()

			ro.Force = finalArgs.Force
			finalArgs.Confirm = terminalConfirm(ro)

			switch {
			case ro.JSONOut:
				finalArgs.Observer = jsonProgress(os.Stdout)
			case ro.Quiet:
				finalArgs.Observer = cliProgress(finalArgs.URL)
			default:
				ui := tui.NewLiveRenderer(finalArgs.URL, finalArgs.FileName, 0)
				defer ui.Close()
				finalArgs.Observer = ui.Observer()
			}

			engine := riftpull.NewEngine(st)
			return engine.Download(ctx, finalArgs)
		},
	}

	cmd.Flags().StringVarP(&args.SaveFolder, "output", "o", "Downloads", "Destination directory")
	cmd.Flags().StringVar(&args.FileName, "name", "", "Override the derived file name")
	cmd.Flags().IntVarP(&args.Concurrent, "connections", "c", args.Concurrent, "Concurrent ranged connections")
	cmd.Flags().Uint64Var(&args.MinChunkSize, "min-chunk-size", args.MinChunkSize, "Never split a chunk smaller than this many bytes")
	cmd.Flags().StringVar(&retryGapStr, "retry-gap", args.RetryGap.String(), "Fixed delay between retry attempts")
	cmd.Flags().IntVar(&args.MaxRetries, "max-retries", args.MaxRetries, "Maximum retry attempts per chunk")
	cmd.Flags().StringVar(&pullTimeoutStr, "pull-timeout", args.PullTimeout.String(), "Per-read inactivity timeout")
	cmd.Flags().StringVar(&args.Proxy, "proxy", "", "HTTP(S) proxy URL")
	cmd.Flags().BoolVar(&args.Force, "force", false, "Overwrite without confirmation")
	cmd.Flags().BoolVar(&args.Resume, "resume", true, "Resume a prior partial download without confirmation")

	return cmd
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func finalize(args *riftpull.Args, cmdArgs []string, retryGapStr, pullTimeoutStr string) (riftpull.Args, error) {
	a := *args
	if a.URL == "" && len(cmdArgs) > 0 {
		a.URL = cmdArgs[0]
	}
	if a.URL == "" {
		return a, fmt.Errorf("missing URL")
	}
	if retryGapStr != "" {
		d, err := time.ParseDuration(retryGapStr)
		if err != nil {
			return a, fmt.Errorf("invalid --retry-gap: %w", err)
		}
		a.RetryGap = d
	}
	if pullTimeoutStr != "" {
		d, err := time.ParseDuration(pullTimeoutStr)
		if err != nil {
			return a, fmt.Errorf("invalid --pull-timeout: %w", err)
		}
		a.PullTimeout = d
	}
	return a, nil
}

func defaultStorePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".config", "riftpull")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, "store.v1.bin"), nil
}

// terminalConfirm prompts on stdin for resume/overwrite decisions, unless
// --force or quiet/JSON mode forces a pre-decided answer (a headless
// caller, per spec §6.3, injects a confirm that returns a pre-decided
// boolean).
func terminalConfirm(ro *RootOpts) func(string, bool) bool {
	if ro.Force {
		return func(string, bool) bool { return true }
	}
	if ro.JSONOut || ro.Quiet {
		return func(_ string, defaultYes bool) bool { return defaultYes }
	}
	return func(prompt string, defaultYes bool) bool {
		suffix := "[Y/n]"
		if !defaultYes {
			suffix = "[y/N]"
		}
		fmt.Printf("%s %s ", prompt, suffix)
		var line string
		fmt.Scanln(&line)
		line = strings.ToLower(strings.TrimSpace(line))
		if line == "" {
			return defaultYes
		}
		return line == "y" || line == "yes"
	}
}

func applySettingsDefaults(cmd *cobra.Command, dst *riftpull.Args, configFile string) error {
	path := configFile
	if path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, ".config", "riftpull", "config.json")
		}
	}
	if path == "" {
		return nil
	}
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var cfg map[string]any
	if err := json.Unmarshal(b, &cfg); err != nil {
		return fmt.Errorf("invalid JSON config file: %w", err)
	}

	setInt := func(flagName string, set func(int)) {
		if cmd.Flags().Changed(flagName) {
			return
		}
		if v, ok := cfg[flagName]; ok && v != nil {
			var x int
			fmt.Sscan(fmt.Sprint(v), &x)
			set(x)
		}
	}
	setStr := func(flagName string, set func(string)) {
		if cmd.Flags().Changed(flagName) {
			return
		}
		if v, ok := cfg[flagName]; ok && v != nil {
			set(fmt.Sprint(v))
		}
	}

	setStr("output", func(v string) { dst.SaveFolder = v })
	setInt("connections", func(v int) { dst.Concurrent = v })
	setStr("retry-gap", func(v string) {
		if d, err := time.ParseDuration(v); err == nil {
			dst.RetryGap = d
		}
	})
	setInt("max-retries", func(v int) { dst.MaxRetries = v })

	return nil
}

// cliProgress returns a simple text-based progress handler.
func cliProgress(url string) func(riftpull.Event) {
	return func(ev riftpull.Event) {
		switch ev.Kind {
		case riftpull.EventPullError:
			fmt.Fprintf(os.Stderr, "worker %d error: %v\n", ev.ChunkID, ev.Err)
		case riftpull.EventPullTimeout:
			fmt.Fprintf(os.Stderr, "worker %d timeout at offset %d\n", ev.ChunkID, ev.Offset)
		case riftpull.EventFinished:
			fmt.Printf("worker %d finished\n", ev.ChunkID)
		}
	}
}

// jsonProgress returns a JSON-lines progress handler.
func jsonProgress(w io.Writer) func(riftpull.Event) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	var mu sync.Mutex
	return func(ev riftpull.Event) {
		mu.Lock()
		_ = enc.Encode(ev)
		mu.Unlock()
	}
}
