package sim

import (
	"log"

	"driftline/server/logging"
)

// Deps carries shared infrastructure dependencies required by the simulation
// engine.
type Deps struct {
	Logger    *log.Logger
	Metrics   *logging.Metrics
	Clock     logging.Clock
	Publisher logging.Publisher
}
