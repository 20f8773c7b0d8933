package app

import (
	"github.com/semops/semops-backend/internal/clients/redis"
	"github.com/semops/semops-backend/internal/pkg/logger"
	"github.com/semops/semops-backend/internal/platform/neo4jdb"
	"github.com/semops/semops-backend/internal/platform/openai"
	"github.com/semops/semops-backend/internal/platform/qdrant"
	"github.com/semops/semops-backend/internal/platform/vector"
)

// Clients holds the optional external services. Any of them may be nil;
// the classifier degrades the stages that need a missing client and the
// graph store skips its projection/vector writes.
type Clients struct {
	Neo4j  *neo4jdb.Client
	Vector vector.Store
	AI     openai.Client
	Events redis.EventBus
}

func wireClients(log *logger.Logger) Clients {
	log.Info("Wiring external clients...")
	var c Clients

	neo, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		log.Warn("Neo4j unavailable, graph projection disabled", "error", err)
	} else {
		c.Neo4j = neo
	}

	qcfg := qdrant.ConfigFromEnv()
	if qcfg.URL != "" {
		vs, err := qdrant.NewStore(log, qcfg)
		if err != nil {
			log.Warn("Qdrant unavailable, embedding tier will degrade", "error", err)
		} else {
			c.Vector = vs
		}
	}

	ai, err := openai.NewClient(log)
	if err != nil {
		log.Warn("OpenAI unavailable, embedding and generative tiers will degrade", "error", err)
	} else {
		c.AI = ai
	}

	bus, err := redis.NewEventBus(log)
	if err != nil {
		log.Warn("Redis unavailable, episode events disabled", "error", err)
	} else {
		c.Events = bus
	}

	return c
}
