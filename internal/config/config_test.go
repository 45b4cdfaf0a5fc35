package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  environment: test\n"))
	if err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Scheduler.Interval != 24*time.Hour {
		t.Fatalf("scheduler.interval = %s", cfg.Scheduler.Interval)
	}
	if cfg.Mail.Transport != TransportLog {
		t.Fatalf("mail.transport = %q", cfg.Mail.Transport)
	}
	if len(cfg.Eligibility.ExitPorts) != 2 || cfg.Eligibility.ExitPorts[0] != 80 {
		t.Fatalf("exit ports = %v", cfg.Eligibility.ExitPorts)
	}
	if cfg.Eligibility.CheckDeployTime {
		t.Fatal("check_deploy_time should default to false")
	}
	if len(cfg.Directory.HistoryGraphs) != 2 || cfg.Directory.HistoryGraphs[1] != "6_months" {
		t.Fatalf("history graphs = %v", cfg.Directory.HistoryGraphs)
	}
}

func TestLoadFileOverrides(t *testing.T) {
	body := `
eligibility:
  check_deploy_time: true
  exit_ports: [80, 443, 8080]
mail:
  transport: smtp
  from: weather@example.org
  smtp:
    host: smtp.example.org
directory:
  request_timeout: 5s
  history_graphs: [1_month]
`
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("config should load: %v", err)
	}
	if !cfg.Eligibility.CheckDeployTime {
		t.Fatal("check_deploy_time override ignored")
	}
	if len(cfg.Eligibility.ExitPorts) != 3 {
		t.Fatalf("exit ports = %v", cfg.Eligibility.ExitPorts)
	}
	if cfg.Directory.RequestTimeout != 5*time.Second {
		t.Fatalf("request_timeout = %s", cfg.Directory.RequestTimeout)
	}
	if len(cfg.Directory.HistoryGraphs) != 1 || cfg.Directory.HistoryGraphs[0] != "1_month" {
		t.Fatalf("history graphs = %v", cfg.Directory.HistoryGraphs)
	}
	if cfg.Mail.SMTP.Port != 587 {
		t.Fatalf("smtp port default lost: %d", cfg.Mail.SMTP.Port)
	}
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cases := map[string]string{
		"unknown transport":   "mail:\n  transport: pigeon\n",
		"smtp without host":   "mail:\n  transport: smtp\n",
		"webhook without url": "mail:\n  transport: webhook\n",
		"bad port":            "eligibility:\n  exit_ports: [0]\n",
		"telegram no token":   "alerting:\n  telegram:\n    enabled: true\n    chat_id: x\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("%s should fail validation", name)
			}
		})
	}
}
