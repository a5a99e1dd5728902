package vision

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrProviderUnreachable = errors.New("vision provider unreachable")
	ErrInferenceTimeout    = errors.New("vision inference timeout")
	ErrInvalidResponse     = errors.New("vision provider returned invalid response")
)

// classifyTransportError maps HTTP client failures onto the package sentinels
// so callers can tell timeouts from a provider that is down.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrProviderUnreachable, err)
}
