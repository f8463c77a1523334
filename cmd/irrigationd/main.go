// Irrigation Engine edge controller.
// Main entry point for the irrigationd service.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/irrigation-engine/edge-controller/internal/engine"
	"github.com/irrigation-engine/edge-controller/internal/transport"
)

// Config represents the configuration file structure.
type Config struct {
	Garden struct {
		UID  string `yaml:"uid"`
		Name string `yaml:"name"`
	} `yaml:"garden"`

	Device struct {
		ID string `yaml:"id"`
	} `yaml:"device"`

	Cloud struct {
		URL            string `yaml:"url"`
		InviteCode     string `yaml:"invite_code"`
		ReconnectDelay int    `yaml:"reconnect_delay"`
		PingInterval   int    `yaml:"ping_interval"`
	} `yaml:"cloud"`

	Hardware struct {
		Relay struct {
			VendorID  uint16 `yaml:"vendor_id"`
			ProductID uint16 `yaml:"product_id"`
			OffOpcode *uint8 `yaml:"off_opcode"`
			Simulate  bool   `yaml:"simulate"`
		} `yaml:"relay"`

		Valves struct {
			Total int `yaml:"total"`
		} `yaml:"valves"`

		Sensors struct {
			Ports    []string `yaml:"ports"`
			BaudRate int      `yaml:"baud_rate"`
			Simulate bool     `yaml:"simulate"`
		} `yaml:"sensors"`
	} `yaml:"hardware"`

	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
}

var (
	configFile string
	rootCmd    = &cobra.Command{
		Use:   "irrigationd",
		Short: "Irrigation Engine edge controller",
		Long:  "Edge controller for the smart irrigation system. Drives relay/sensor hardware and a cloud-facing command surface.",
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the controller service",
		RunE:  runController,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("irrigationd v0.1.0")
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/irrigationd/controller.yaml", "Configuration file path")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides implements §6's environment-variable override
// contract (SERVER_URL, FAMILY_CODE, TOTAL_VALVES, TOTAL_SENSORS),
// following the same override-if-nonzero pattern used for the rest of
// the config below. TOTAL_SENSORS rebuilds the simulated port list only
// when the config file didn't already enumerate explicit ports.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_URL"); v != "" {
		cfg.Cloud.URL = v
	}
	if v := os.Getenv("FAMILY_CODE"); v != "" {
		cfg.Cloud.InviteCode = v
	}
	if v := os.Getenv("TOTAL_VALVES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Hardware.Valves.Total = n
		} else {
			log.Printf("ignoring invalid TOTAL_VALVES=%q", v)
		}
	}
	if v := os.Getenv("TOTAL_SENSORS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			log.Printf("ignoring invalid TOTAL_SENSORS=%q", v)
		} else if len(cfg.Hardware.Sensors.Ports) == 0 {
			cfg.Hardware.Sensors.Ports = simulatedSensorPorts(n)
		}
	}
}

// simulatedSensorPorts synthesizes a pool of n placeholder port
// identifiers for deployments that size their sensor pool from
// TOTAL_SENSORS instead of listing real device paths in the config file.
func simulatedSensorPorts(n int) []string {
	ports := make([]string, n)
	for i := range ports {
		ports[i] = fmt.Sprintf("/dev/ttyUSB%d", i)
	}
	return ports
}

func runController(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	applyEnvOverrides(cfg)

	if cfg.Device.ID == "" {
		return fmt.Errorf("device.id is required")
	}
	if cfg.Cloud.URL == "" {
		return fmt.Errorf("cloud.url is required")
	}

	transportCfg := transport.DefaultConfig()
	transportCfg.URL = cfg.Cloud.URL
	transportCfg.DeviceID = cfg.Device.ID
	transportCfg.InviteCode = cfg.Cloud.InviteCode
	if cfg.Cloud.ReconnectDelay > 0 {
		transportCfg.ReconnectDelay = secondsToDuration(cfg.Cloud.ReconnectDelay)
	}
	if cfg.Cloud.PingInterval > 0 {
		transportCfg.PingInterval = secondsToDuration(cfg.Cloud.PingInterval)
	}

	engineCfg := engine.DefaultConfig()
	if cfg.Hardware.Valves.Total > 0 {
		engineCfg.TotalValves = cfg.Hardware.Valves.Total
	}
	if len(cfg.Hardware.Sensors.Ports) > 0 {
		engineCfg.SensorPorts = cfg.Hardware.Sensors.Ports
	}
	if cfg.Hardware.Sensors.BaudRate > 0 {
		engineCfg.SensorBaud = cfg.Hardware.Sensors.BaudRate
	}
	engineCfg.SimulateAll = cfg.Hardware.Sensors.Simulate
	if cfg.Hardware.Relay.VendorID != 0 {
		engineCfg.Relay.VendorID = cfg.Hardware.Relay.VendorID
	}
	if cfg.Hardware.Relay.ProductID != 0 {
		engineCfg.Relay.ProductID = cfg.Hardware.Relay.ProductID
	}
	if cfg.Hardware.Relay.OffOpcode != nil {
		engineCfg.Relay.OffOpcode = *cfg.Hardware.Relay.OffOpcode
	}
	engineCfg.Relay.SimulationMode = cfg.Hardware.Relay.Simulate || engineCfg.SimulateAll

	// The transport client and the engine reference each other: the
	// client needs the engine as its Handler, the engine needs the
	// client as its Sender. Built in two steps to close the cycle.
	eng, err := engine.New(engineCfg, nil)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	client := transport.New(transportCfg, eng)
	eng.SetSender(client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Printf("starting irrigationd for garden %s (device %s)", cfg.Garden.UID, cfg.Device.ID)
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}

	sig := <-sigChan
	log.Printf("received signal %v, shutting down...", sig)

	if err := client.Stop(); err != nil {
		log.Printf("error stopping transport: %v", err)
	}
	if err := eng.Stop(); err != nil {
		log.Printf("error during shutdown: %v", err)
	}

	log.Println("shutdown complete")
	return nil
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
