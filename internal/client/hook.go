package client

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/kballard/go-shellquote"
)

// DefaultHookTimeout bounds post-deploy hook execution.
const DefaultHookTimeout = 60 * time.Second

// RunPostDeployHook runs the configured post_deploy command after a
// successful deploy. The command is shell-quoted in the config file
// but executed directly, never through a shell. The deployed site URL
// is exposed as SITEBOX_SITE_URL.
func RunPostDeployHook(ctx context.Context, command, siteURL string) ([]byte, error) {
	parts, err := shellquote.Split(command)
	if err != nil {
		return nil, fmt.Errorf("failed to parse post_deploy command: %w", err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty post_deploy command")
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultHookTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Env = append(os.Environ(), "SITEBOX_SITE_URL="+siteURL)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("post_deploy command failed: %w", err)
	}
	return output, nil
}
