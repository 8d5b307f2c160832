//go:build linux

package screen

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

type linuxBackend struct{}

// tools are tried in order; grim covers Wayland sessions.
var linuxTools = []struct {
	name string
	args func(path string) []string
}{
	{"grim", func(p string) []string { return []string{p} }},
	{"gnome-screenshot", func(p string) []string { return []string{"-f", p} }},
	{"scrot", func(p string) []string { return []string{"-o", p} }},
}

func (linuxBackend) captureRaw(ctx context.Context, path string) error {
	for _, tool := range linuxTools {
		if _, err := exec.LookPath(tool.name); err != nil {
			continue
		}
		cmd := exec.CommandContext(ctx, tool.name, tool.args(path)...)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("%s: %w: %s", tool.name, err, stderr.String())
		}
		return nil
	}
	return ErrNoTool
}

// New creates the platform screen capturer.
func New() (Capturer, error) {
	return newFileCapturer(linuxBackend{})
}
