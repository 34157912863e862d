package cmd

import (
	"reflect"
	"testing"

	"github.com/andy963/ads/internal/config"
)

func TestBuildToolContext_CopiesToolsConfigAndDisablesVector(t *testing.T) {
	cfg := config.Default()
	cfg.Tools.AllowedDirs = []string{"/workspace"}
	cfg.Tools.ExecAllowlist = []string{"go", "git"}
	cfg.Tools.ExecTimeoutMs = 5000
	cfg.Tools.MaxOutputBytes = 4096
	cfg.Tools.ExecDisabled = true

	tc := buildToolContext(cfg, "/workspace")

	if tc.Cwd != "/workspace" {
		t.Errorf("Cwd = %q", tc.Cwd)
	}
	if !reflect.DeepEqual(tc.AllowedDirs, []string{"/workspace"}) {
		t.Errorf("AllowedDirs = %v", tc.AllowedDirs)
	}
	if !reflect.DeepEqual(tc.ExecAllowlist, []string{"go", "git"}) {
		t.Errorf("ExecAllowlist = %v", tc.ExecAllowlist)
	}
	if tc.ExecTimeoutMs != 5000 || tc.ExecMaxOutput != 4096 {
		t.Errorf("exec limits = %d/%d", tc.ExecTimeoutMs, tc.ExecMaxOutput)
	}
	if !tc.ExecDisabled {
		t.Error("ExecDisabled should carry through from ToolsConfig")
	}
	if !tc.VectorDisabled {
		t.Error("VectorDisabled must always be true for task-queue runs")
	}
}
