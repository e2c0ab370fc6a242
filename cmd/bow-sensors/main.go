package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/ihavn1/boat-bowsensors/internal/config"
	"github.com/ihavn1/boat-bowsensors/internal/natsbus"
	"github.com/ihavn1/boat-bowsensors/internal/node"
	"github.com/ihavn1/boat-bowsensors/internal/sensor"
	"github.com/ihavn1/boat-bowsensors/internal/signalk"
	"github.com/ihavn1/boat-bowsensors/internal/ws"
)

var version = "dev"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "bow-sensors",
		Short: "Boat bow sensor node",
		Long: `bow-sensors reads battery shunt monitors and the anchor chain counter,
integrates battery current into amp-hours and publishes everything as
Signal K deltas over WebSocket and NATS.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "bow-sensors.yaml", "configuration file")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sensor node until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}

	portsCmd := &cobra.Command{
		Use:   "ports",
		Short: "List serial ports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listPorts(cmd.OutOrStdout())
		},
	}

	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Show persisted battery state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showState(cmd.Context(), cmd.OutOrStdout(), configPath)
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(configPath, force)
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	root.AddCommand(runCmd, portsCmd, stateCmd, initCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		log.Printf("Error: %v", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var nc *nats.Conn
	if cfg.Telemetry.NATSURL != "" {
		nc, err = natsbus.Connect(cfg.Telemetry.NATSURL, cfg.Hostname)
		if err != nil {
			return err
		}
		defer nc.Close()
	}

	store, err := node.OpenStore(ctx, cfg, nc)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer store.Close()

	vessel, err := node.VesselUUID(cfg, store)
	if err != nil {
		return err
	}

	source, err := node.OpenSource(cfg)
	if err != nil {
		return err
	}

	hub := ws.NewHub()
	publishers := signalk.Fanout{ws.NewBridge(hub)}
	var bus *natsbus.Bus
	if nc != nil {
		bus = natsbus.New(nc, cfg.Telemetry.SubjectPrefix)
		publishers = append(publishers, bus)
		defer func() {
			if err := bus.Close(); err != nil {
				log.Printf("Closing NATS bus: %v", err)
			}
		}()
	}

	n := node.New(cfg, vessel, store, source, publishers)

	if bus != nil {
		if err := bus.ServeCommands(ctx, n); err != nil {
			return err
		}
	}

	if cfg.Telemetry.Listen != "" {
		info := ws.Info{Name: cfg.Hostname, Version: version, Self: signalk.SelfContext(vessel)}
		srv := &http.Server{
			Addr:              cfg.Telemetry.Listen,
			Handler:           routes(hub, info, n),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Printf("Starting Signal K stream on %s", cfg.Telemetry.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("HTTP server: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Printf("HTTP shutdown: %v", err)
			}
		}()
	}

	return n.Run(ctx)
}

func routes(hub *ws.Hub, info ws.Info, commands signalk.CommandHandler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.Handle("GET /signalk", ws.Discovery(info))
	mux.Handle(ws.StreamPath, ws.NewHandler(hub, info, commands))
	return mux
}

func listPorts(w io.Writer) error {
	ports, err := sensor.Ports()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Fprintln(w, "no serial ports found")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PORT\tDESCRIPTION")
	for _, p := range ports {
		fmt.Fprintf(tw, "%s\t%s\n", p.Name, p.Description)
	}
	return tw.Flush()
}

func showState(ctx context.Context, w io.Writer, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var nc *nats.Conn
	if cfg.Storage.Driver == config.DriverNATS {
		nc, err = natsbus.Connect(cfg.Telemetry.NATSURL, cfg.Hostname+"-state")
		if err != nil {
			return err
		}
		defer nc.Close()
	}

	store, err := node.OpenStore(ctx, cfg, nc)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer store.Close()

	states, err := node.ReadState(cfg, store)
	if err != nil {
		return err
	}
	return printState(w, cfg, states)
}

func printState(w io.Writer, cfg *config.Config, states []node.BatteryState) error {
	capacity := make(map[string]float64, len(cfg.Batteries))
	for _, b := range cfg.Batteries {
		capacity[b.ID] = b.CapacityAh
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BATTERY\tAH\tCAPACITY\tSOC")
	for _, s := range states {
		if !s.Stored {
			fmt.Fprintf(tw, "%s\t-\t%.1f\t-\n", s.ID, capacity[s.ID])
			continue
		}
		soc := "-"
		if c := capacity[s.ID]; c > 0 {
			soc = fmt.Sprintf("%.0f%%", s.Ah/c*100)
		}
		fmt.Fprintf(tw, "%s\t%.2f\t%.1f\t%s\n", s.ID, s.Ah, capacity[s.ID], soc)
	}
	return tw.Flush()
}

func initConfig(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	if err := config.Default().Save(path); err != nil {
		return err
	}
	log.Printf("Wrote default configuration to %s", path)
	return nil
}
