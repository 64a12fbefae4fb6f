package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/termhost/internal/config"
	"github.com/Iron-Ham/termhost/internal/host"
	"github.com/Iron-Ham/termhost/internal/transport"
)

var buffersCmd = &cobra.Command{
	Use:   "buffers",
	Short: "Manage shared output buffers",
	Long: `Manage the shared-memory rings that carry terminal output from the host
to the UI. The UI normally creates these itself; these commands exist for
development and for UIs that cannot create memory-mapped files.`,
}

var buffersCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a set of shared buffers and print their handles",
	Long: `Create the shard rings, the signal counter and (optionally) the analysis
ring, sized from the transport configuration. The handles are printed as JSON
in the shape an init-buffers request expects.`,
	Args: cobra.NoArgs,
	RunE: runBuffersCreate,
}

var buffersRemoveCmd = &cobra.Command{
	Use:   "remove <prefix>",
	Short: "Remove shared buffers created with the given prefix",
	Args:  cobra.ExactArgs(1),
	RunE:  runBuffersRemove,
}

var (
	buffersPrefix string
	buffersDir    string
)

func init() {
	buffersCreateCmd.Flags().StringVar(&buffersPrefix, "prefix", "", "file name prefix (default: termhost-<random>)")
	buffersCmd.PersistentFlags().StringVar(&buffersDir, "dir", "", "directory for the buffer files (default: transport.shm_dir)")
	buffersCmd.AddCommand(buffersCreateCmd)
	buffersCmd.AddCommand(buffersRemoveCmd)
	rootCmd.AddCommand(buffersCmd)
}

// initBuffersMessage is the init-buffers request for a set of handles.
type initBuffersMessage struct {
	Type           string   `json:"type"`
	ShardHandles   []string `json:"shardHandles"`
	SignalHandle   string   `json:"signalHandle"`
	AnalysisHandle string   `json:"analysisHandle,omitempty"`
}

func runBuffersCreate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	dir := buffersDir
	if dir == "" {
		dir = cfg.Transport.ShmDir
	}
	prefix := buffersPrefix
	if prefix == "" {
		prefix = "termhost-" + uuid.NewString()[:8]
	}

	h, err := transport.Create(dir, prefix, cfg.Transport.ShardCount, cfg.Transport.ShardSize, cfg.Transport.AnalysisSize)
	if err != nil {
		return fmt.Errorf("failed to create buffers: %w", err)
	}

	msg := initBuffersMessage{
		Type:           host.TypeInitBuffers,
		ShardHandles:   h.Shards,
		SignalHandle:   h.Signal,
		AnalysisHandle: h.Analysis,
	}
	out, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func runBuffersRemove(cmd *cobra.Command, args []string) error {
	dir := buffersDir
	if dir == "" {
		dir = config.Get().Transport.ShmDir
	}

	matches, err := filepath.Glob(filepath.Join(dir, args[0]+"-*"))
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return fmt.Errorf("no buffers with prefix %q in %s", args[0], dir)
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", path)
	}
	return nil
}
