package command

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRun_Builtins(t *testing.T) {
	e := NewEmulator()

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"whoami"}, "root\n"},
		{[]string{"pwd"}, "/root\n"},
		{[]string{"echo", "hello", "world"}, "hello world\n"},
		{[]string{"uname"}, "Linux\n"},
		{[]string{"ls", "-la"}, ""},
	}
	for _, tt := range tests {
		got := string(e.Run(tt.args))
		if got != tt.want {
			t.Errorf("Run(%v) = %q, want %q", tt.args, got, tt.want)
		}
	}
}

func TestRun_UnameAll(t *testing.T) {
	e := NewEmulator()
	got := string(e.Run([]string{"uname", "-a"}))
	if !strings.Contains(got, "GNU/Linux") {
		t.Errorf("uname -a output %q missing kernel string", got)
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	e := NewEmulator()
	got := string(e.Run([]string{"nmap", "-sS", "10.0.0.0/8"}))
	want := "bash: nmap: command not found\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRun_EmptyArgs(t *testing.T) {
	e := NewEmulator()
	if out := e.Run(nil); out != nil {
		t.Errorf("Run(nil) = %q, want no output", out)
	}
}

func TestLoadFile_MergesOverBuiltins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commands.yaml")
	table := "commands:\n  nproc: \"4\\n\"\n  whoami: \"admin\\n\"\n"
	if err := os.WriteFile(path, []byte(table), 0o644); err != nil {
		t.Fatal(err)
	}

	e := NewEmulator()
	if err := e.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if got := string(e.Run([]string{"nproc"})); got != "4\n" {
		t.Errorf("nproc = %q, want %q", got, "4\n")
	}
	if got := string(e.Run([]string{"whoami"})); got != "admin\n" {
		t.Errorf("whoami override = %q, want %q", got, "admin\n")
	}
}

func TestLoadFile_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commands.yaml")
	if err := os.WriteFile(path, []byte("commands: [not a map"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := NewEmulator().LoadFile(path); err == nil {
		t.Error("LoadFile with invalid YAML: expected error, got nil")
	}
}
