package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yanet-platform/ylink/common/go/logging"
	"github.com/yanet-platform/ylink/common/go/xcmd"
	"github.com/yanet-platform/ylink/netstack"
	"github.com/yanet-platform/ylink/netstack/device"
)

var cmd Cmd

// Cmd is the command line arguments.
type Cmd struct {
	// ConfigPath is the path to the configuration file.
	ConfigPath string
}

var rootCmd = &cobra.Command{
	Use:   "ylink",
	Short: "Userspace Ethernet/ARP/IPv4 stack attached to a TAP interface",
	Run: func(rawCmd *cobra.Command, _ []string) {
		if err := run(cmd); err != nil {
			var interrupted xcmd.Interrupted
			if errors.As(err, &interrupted) {
				return
			}

			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cmd.ConfigPath, "config", "c", "", "Path to the configuration file (required)")
	rootCmd.MarkFlagRequired("config")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd Cmd) error {
	cfg, err := netstack.LoadConfig(cmd.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, _, err := logging.Init(&cfg.Logging)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx := context.Background()
	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return runStack(ctx, cfg, log)
	})
	wg.Go(func() error {
		err := xcmd.WaitInterrupted(ctx)
		log.Infof("caught signal: %v", err)
		return err
	})

	return wg.Wait()
}

func runStack(ctx context.Context, cfg *netstack.Config, log *zap.SugaredLogger) error {
	open := func() (device.Driver, error) {
		return device.OpenTAP(&cfg.Device, device.WithLog(log.Named("tap")))
	}
	driver, err := device.OpenWithRetry(ctx, open, device.WithLog(log))
	if err != nil {
		return fmt.Errorf("failed to open device: %w", err)
	}
	defer driver.Close()

	if cfg.Dump.Path != "" {
		file, err := os.Create(cfg.Dump.Path)
		if err != nil {
			return fmt.Errorf("failed to create dump file: %w", err)
		}
		defer file.Close()

		driver, err = device.NewDump(driver, file, uint32(cfg.Dump.Snaplen.Bytes()), device.WithLog(log))
		if err != nil {
			return err
		}
		log.Infow("recording frames", zap.String("path", cfg.Dump.Path))
	}

	stack, err := netstack.NewStack(cfg, driver, netstack.WithLog(log))
	if err != nil {
		return fmt.Errorf("failed to initialize stack: %w", err)
	}

	return stack.Run(ctx)
}
