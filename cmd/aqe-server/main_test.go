package main

import (
	"testing"

	"github.com/spf13/cobra"

	"github.com/sahithikokkula/approximate-query-engine/pkg/config"
)

func newFlagCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "aqe-server"}
	flags := cmd.Flags()
	flags.String("db-path", "", "")
	flags.Int("port", 0, "")
	flags.String("host", "", "")
	flags.Int("cache-size", 0, "")
	return cmd
}

func TestApplyFlagOverrides_UnsetFlagsLeaveConfigUntouched(t *testing.T) {
	cmd := newFlagCmd()
	cfg := config.Config{DBPath: "aqe.sqlite", Port: 8080, Host: "0.0.0.0", CacheSize: 256}

	applyFlagOverrides(cmd, &cfg)

	if cfg.DBPath != "aqe.sqlite" || cfg.Port != 8080 || cfg.Host != "0.0.0.0" || cfg.CacheSize != 256 {
		t.Errorf("cfg = %+v, want unchanged from defaults", cfg)
	}
}

func TestApplyFlagOverrides_SetFlagsWinOverConfig(t *testing.T) {
	cmd := newFlagCmd()
	if err := cmd.Flags().Set("port", "9090"); err != nil {
		t.Fatalf("set port flag: %v", err)
	}
	if err := cmd.Flags().Set("db-path", "/tmp/other.sqlite"); err != nil {
		t.Fatalf("set db-path flag: %v", err)
	}

	cfg := config.Config{DBPath: "aqe.sqlite", Port: 8080, Host: "0.0.0.0", CacheSize: 256}
	applyFlagOverrides(cmd, &cfg)

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090 from explicit flag", cfg.Port)
	}
	if cfg.DBPath != "/tmp/other.sqlite" {
		t.Errorf("DBPath = %q, want /tmp/other.sqlite from explicit flag", cfg.DBPath)
	}
	if cfg.Host != "0.0.0.0" {
		t.Errorf("Host = %q, want unchanged since the host flag was never set", cfg.Host)
	}
}
