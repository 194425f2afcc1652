// Package command fabricates shell output for the deception service. No
// command ever touches real OS resources; everything an attacker sees is
// generated from a static table.
package command

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Built-in outputs for the commands attackers try first. Kept deliberately
// boring: a believable but empty-looking Ubuntu box.
var builtins = map[string]string{
	"whoami":   "root\n",
	"id":       "uid=0(root) gid=0(root) groups=0(root)\n",
	"pwd":      "/root\n",
	"hostname": "web-prod-01\n",
	"uname":    "Linux\n",
	"ls":       "",
	"w":        " 21:14:02 up 163 days,  4:22,  1 user,  load average: 0.00, 0.01, 0.05\nUSER     TTY      FROM             LOGIN@   IDLE   JCPU   PCPU WHAT\nroot     pts/0    -                21:13    0.00s  0.02s  0.00s w\n",
	"ps":       "  PID TTY          TIME CMD\n 1031 pts/0    00:00:00 bash\n 1058 pts/0    00:00:00 ps\n",
}

const unameAll = "Linux web-prod-01 5.4.0-135-generic #152-Ubuntu SMP Wed Nov 23 20:19:22 UTC 2022 x86_64 x86_64 x86_64 GNU/Linux\n"

// Emulator maps command names to fabricated output. The zero value is not
// usable; construct with NewEmulator.
type Emulator struct {
	commands map[string]string
}

// NewEmulator returns an emulator loaded with the built-in command table.
func NewEmulator() *Emulator {
	cmds := make(map[string]string, len(builtins))
	for k, v := range builtins {
		cmds[k] = v
	}
	return &Emulator{commands: cmds}
}

// tableFile is the YAML shape of an operator-provided command table:
//
//	commands:
//	  docker: "Cannot connect to the Docker daemon ...\n"
//	  nproc: "4\n"
type tableFile struct {
	Commands map[string]string `yaml:"commands"`
}

// LoadFile merges a YAML command table over the built-ins. Entries in the
// file win on name collisions.
func (e *Emulator) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read command table: %w", err)
	}
	var tf tableFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return fmt.Errorf("parse command table %s: %w", path, err)
	}
	for name, output := range tf.Commands {
		e.commands[name] = output
	}
	logrus.Infof("emulator: loaded %d commands from %s", len(tf.Commands), path)
	return nil
}

// Run produces the fabricated output for one tokenized command line. It
// never fails: anything that would be an error inside the emulator degrades
// to empty output and an implied success.
func (e *Emulator) Run(args []string) []byte {
	if len(args) == 0 {
		return nil
	}

	name := args[0]
	switch name {
	case "echo":
		return []byte(strings.Join(args[1:], " ") + "\n")
	case "uname":
		for _, a := range args[1:] {
			if a == "-a" {
				return []byte(unameAll)
			}
		}
	case "cat":
		if len(args) > 1 {
			return []byte(fmt.Sprintf("cat: %s: No such file or directory\n", args[1]))
		}
		return nil
	}

	if out, ok := e.commands[name]; ok {
		return []byte(out)
	}
	return []byte(fmt.Sprintf("bash: %s: command not found\n", name))
}
