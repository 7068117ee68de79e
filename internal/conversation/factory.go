package conversation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ent0n29/clinicguard/internal/memory"
)

// NewStore selects the backend once at startup.
func NewStore(backend string, repo memory.Repository, log logrus.FieldLogger) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "ephemeral":
		return NewEphemeralStore(), nil
	case "persistent", "durable":
		if repo == nil {
			return nil, errors.New("persistent backend requires a repository")
		}
		return NewDurableStore(repo, log), nil
	default:
		return nil, fmt.Errorf("unsupported memory backend %q", backend)
	}
}
