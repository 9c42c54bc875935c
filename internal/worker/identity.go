package worker

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Identity returns a stable-for-the-process worker ID of the form
// host-role-shortuuid. Job leases and trigger claims are attributed to it,
// so it has to be unique across restarts of the same host.
func Identity(role string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	if i := strings.IndexByte(host, '.'); i > 0 {
		host = host[:i]
	}
	short := uuid.New().String()[:8]
	return fmt.Sprintf("%s-%s-%s", host, role, short)
}
