package dfx

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/bitrise-io/chunk-uploader/chunkuploader"
)

// Fragments of dfx / replica error output that no retry can fix.
var permanentFailures = []string{
	"cannot find canister id",
	"canister not found",
	"has no update method",
	"has no query method",
	"method not found",
	"failed to parse",
	"invalid data",
	"unable to serialize",
	"type mismatch",
	"trapped",
	"unauthorized",
	"not authorized",
	"is not a controller",
	"out of cycles",
	"identity",
}

func classifyFailure(printableArgs string, err error, stderr string) error {
	message := strings.TrimSpace(stderr)

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		err = fmt.Errorf("command failed with exit status %d (%s):\n%w", exitErr.ExitCode(), printableArgs, errors.New(message))
	} else {
		err = fmt.Errorf("executing command failed (%s): %w: %s", printableArgs, err, message)
	}

	lower := strings.ToLower(message)
	for _, fragment := range permanentFailures {
		if strings.Contains(lower, fragment) {
			return chunkuploader.NewPermanentError(err)
		}
	}
	return chunkuploader.NewTransientError(err)
}
