package app

import (
	"context"
	"fmt"
	"log/slog"

	stepboxerrors "stepbox/internal/errors"
	"stepbox/internal/ui"
	"stepbox/pkg/runtime"
)

// Doctor checks that the container engine is reachable and, when image is
// set, that the image is available. With pull set a missing image is pulled.
func Doctor(ctx context.Context, rt runtime.ContainerRuntime, image string, pull bool, console *ui.Console) error {
	slog.Info("Validating stepbox prerequisites", "image", image)

	if err := rt.Ping(ctx); err != nil {
		return stepboxerrors.NewRuntimeError("Docker daemon is not reachable", err.Error(),
			"Start Docker or point DOCKER_HOST at a running daemon", err)
	}
	console.PrintSuccess("Docker daemon is reachable")

	if image == "" {
		return nil
	}

	exists, err := rt.ImageExists(ctx, image)
	if err != nil {
		return stepboxerrors.NewRuntimeError("Cannot inspect local images", err.Error(), "", err)
	}
	if exists {
		console.PrintSuccess(fmt.Sprintf("Image %s is available", image))
		return nil
	}
	if !pull {
		err := fmt.Errorf("image %s not found locally", image)
		return stepboxerrors.NewRuntimeError(fmt.Sprintf("Image %s is missing", image), err.Error(),
			"Build or pull the image, or rerun with --pull", err)
	}

	if err := rt.PullImage(ctx, image); err != nil {
		return stepboxerrors.NewRuntimeError(fmt.Sprintf("Cannot pull image %s", image), err.Error(),
			"Check the image name and registry credentials", err)
	}
	console.PrintSuccess(fmt.Sprintf("Image %s pulled", image))
	return nil
}
