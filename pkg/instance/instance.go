package instance

import (
	"os"
	"strings"
	"sync"

	"github.com/angelmondragon/settlement-engine/pkg/env"
)

const fallbackID = "settlement-0"

var resolved = sync.OnceValue(func() string {
	return resolve(os.Getenv, os.Hostname)
})

// GetID identifies this process in logs and lock ownership. It prefers
// SETTLEMENT_INSTANCE_ID, then the Cloud Run revision plus hostname, then the
// hostname alone.
func GetID() string {
	return resolved()
}

func resolve(getenv func(string) string, hostname func() (string, error)) string {
	if id := strings.TrimSpace(getenv("SETTLEMENT_INSTANCE_ID")); id != "" {
		return id
	}
	host, err := hostname()
	host = strings.TrimSpace(host)
	if err != nil || host == "" {
		return env.Get("WORKER_ID", fallbackID)
	}
	if revision := strings.TrimSpace(getenv("K_REVISION")); revision != "" {
		return revision + "/" + host
	}
	return host
}
