package cmd

import (
	"github.com/nadia/dcap/internal/config"
	"github.com/nadia/dcap/internal/remote"
)

// sessionID is generated once per process run. It is the identity the lock
// protocol keys holders by, so it must not survive across runs.
var sessionID = config.NewSessionID()

// newClient builds the server client from the global config and environment.
func newClient() *remote.Client {
	return remote.New(config.GetServerURL(), config.GetAPIKey(), sessionID, config.GetUserID())
}
