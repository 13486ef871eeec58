// revertstore daemon and CLI
// Serves the revert gRPC API and runs one-shot history, diff, revert and report commands
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nainya/revertstore/internal/app"
	"github.com/nainya/revertstore/internal/config"
	"github.com/nainya/revertstore/internal/logger"
	"github.com/nainya/revertstore/internal/server"
)

type globalFlags struct {
	configPath string
	addr       string
	actor      string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "revertd",
		Short:         "Versioned record history with transactional revert",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (YAML)")
	root.PersistentFlags().StringVar(&flags.addr, "addr", "", "address of a running revertd; empty opens the store directly")
	root.PersistentFlags().StringVar(&flags.actor, "actor", os.Getenv("USER"), "actor id used for permission checks")

	root.AddCommand(
		newServeCmd(flags),
		newHistoryCmd(flags),
		newDiffCmd(flags),
		newRevertCmd(flags),
		newReportCmd(flags),
	)
	return root
}

func loadConfig(flags *globalFlags) (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, nil, err
	}
	log := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Pretty:     cfg.Log.Pretty,
		Output:     os.Stderr,
		WithCaller: cfg.Log.WithCaller,
	})
	return cfg, log, nil
}

// openCaller returns a remote client when --addr is set, otherwise an
// in-process server over the configured store. The returned func releases it.
func openCaller(flags *globalFlags) (server.Caller, func(), error) {
	if flags.addr != "" {
		conn, err := grpc.NewClient(flags.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, nil, fmt.Errorf("connect %s: %w", flags.addr, err)
		}
		return server.NewClient(conn), func() { conn.Close() }, nil
	}

	cfg, log, err := loadConfig(flags)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return server.NewLocal(server.NewServer(a)), func() { a.Close() }, nil
}

func call(cmd *cobra.Command, flags *globalFlags, method string, req map[string]any) error {
	caller, closeFn, err := openCaller(flags)
	if err != nil {
		return err
	}
	defer closeFn()

	in, err := structpb.NewStruct(req)
	if err != nil {
		return err
	}
	out, err := caller.Call(context.Background(), method, flags.actor, in)
	if err != nil {
		return err
	}
	return printStruct(cmd, out)
}

func printStruct(cmd *cobra.Command, s *structpb.Struct) error {
	b, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(s)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}
