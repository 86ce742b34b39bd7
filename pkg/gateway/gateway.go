// Package gateway exposes the HGU data-acquisition gateway to callers
// outside this module.
package gateway

import (
	"context"

	"hgu-gateway/internal/tasks"
)

// Options re-exposes the tasks.Options type for external callers.
type Options = tasks.Options

// Run starts the gateway and blocks until ctx is done or the controller
// session gives up.
func Run(ctx context.Context, opts Options) error {
	return tasks.InitAndRunGateway(ctx, opts)
}

// ExitCode maps an error returned by Run to a process exit code.
func ExitCode(err error) int { return tasks.Code(err) }
