package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/soyeahso/anonrelay/internal/config"
)

const defaultCommandTimeout = 5 * time.Second

// CommandHandler runs command through sh with the JSON payload on stdin.
// A zero timeout selects five seconds.
func CommandHandler(command string, timeout time.Duration) Handler {
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	return func(ctx context.Context, p Payload) error {
		body, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encoding payload: %w", err)
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		cmd.Stdin = bytes.NewReader(body)
		cmd.Env = append(cmd.Environ(), "ANONRELAY_HOOK_EVENT="+p.Event)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return fmt.Errorf("hook command %q: %w: %s", command, err, msg)
			}
			return fmt.Errorf("hook command %q: %w", command, err)
		}
		return nil
	}
}

// RegisterConfig registers a command handler for every hook entry in cfg
// and returns how many were registered.
func (m *Manager) RegisterConfig(cfg config.HooksConfig) int {
	n := 0
	for event, entries := range cfg.ByEvent() {
		for i, e := range entries {
			if strings.TrimSpace(e.Command) == "" {
				continue
			}
			name := fmt.Sprintf("config:%s[%d]", event, i)
			m.On(event, name, CommandHandler(e.Command, time.Duration(e.Timeout)*time.Millisecond))
			n++
		}
	}
	return n
}
