package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/FraMan97/hydfs/internal/config"
	"github.com/FraMan97/hydfs/internal/model"
	"github.com/FraMan97/hydfs/internal/node"
)

var (
	dropRate   float64
	storageDir string
	seedDir    string
	logDir     string
)

var rootCmd = &cobra.Command{
	Use:   "hydfs <host> <port> [introducer_host introducer_port]",
	Short: "Run a HyDFS node",
	Long: `Runs one HyDFS node: joins the membership ring, stores file blocks
for the names hashing onto it, and serves the interactive command shell
(type 'help' once running).`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 2 && len(args) != 4 {
			return fmt.Errorf("expected <host> <port> or <host> <port> <introducer_host> <introducer_port>")
		}
		return nil
	},
	RunE: run,
}

func run(cmd *cobra.Command, args []string) error {
	host, port := args[0], args[1]
	introducerHost, introducerPort := config.IntroducerHost, config.IntroducerPort
	if len(args) == 4 {
		introducerHost, introducerPort = args[2], args[3]
	}

	if storageDir != "" {
		config.StorageDir = storageDir
	}
	if seedDir != "" {
		config.SeedDir = seedDir
	}
	if logDir != "" {
		config.LogDir = logDir
	}

	closeLog, err := setupLogging(host, port)
	if err != nil {
		return err
	}
	defer closeLog()

	introducer := model.NodeId{Host: introducerHost, Port: introducerPort}
	n, err := node.New(host, port, introducer, dropRate)
	if err != nil {
		return err
	}

	n.Run()
	n.Shell()
	return nil
}

// setupLogging tees the log to stdout and a per-session transcript.
func setupLogging(host, port string) (func(), error) {
	if err := os.MkdirAll(config.LogDir, 0o755); err != nil {
		return nil, err
	}
	session := uuid.New().String()
	path := filepath.Join(config.LogDir, fmt.Sprintf("%s_%s_%s.log", host, port, session))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	log.SetOutput(io.MultiWriter(os.Stdout, f))
	log.Printf("[Main] - Session %s, transcript at %s\n", session, path)
	return func() { f.Close() }, nil
}

func main() {
	rootCmd.Flags().Float64Var(&dropRate, "drop-rate", 0, "ingress datagram drop probability for fault injection")
	rootCmd.Flags().StringVar(&storageDir, "storage-dir", "", "override the block-store directory")
	rootCmd.Flags().StringVar(&seedDir, "seed-dir", "", "override the local-cache seed directory")
	rootCmd.Flags().StringVar(&logDir, "log-dir", "", "override the log directory")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
