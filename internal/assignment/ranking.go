package assignment

import (
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/angelmondragon/rentflow-backend/pkg/db/models"
)

type candidate struct {
	agent    models.DeliveryAgent
	active   int
	distance float64
}

// Rank filters agents down to the ones eligible for job and orders them:
// success rate desc, active jobs asc, distance from last known location to
// the job origin asc (unknown last), then id.
func Rank(job *models.RentalJob, agents []models.DeliveryAgent, active map[uuid.UUID]int, maxActive int) []uuid.UUID {
	pool := make([]candidate, 0, len(agents))
	for _, agent := range agents {
		if !eligible(job, agent, active[agent.ID], maxActive) {
			continue
		}
		distance := math.Inf(1)
		if agent.LastLocation != nil {
			distance = agent.LastLocation.DistanceKm(job.Origin)
		}
		pool = append(pool, candidate{agent: agent, active: active[agent.ID], distance: distance})
	}

	sort.Slice(pool, func(i, j int) bool {
		a, b := pool[i], pool[j]
		if c := a.agent.SuccessRate.Cmp(b.agent.SuccessRate); c != 0 {
			return c > 0
		}
		if a.active != b.active {
			return a.active < b.active
		}
		if a.distance != b.distance {
			return a.distance < b.distance
		}
		return a.agent.ID.String() < b.agent.ID.String()
	})

	ids := make([]uuid.UUID, 0, len(pool))
	for _, c := range pool {
		ids = append(ids, c.agent.ID)
	}
	return ids
}

func eligible(job *models.RentalJob, agent models.DeliveryAgent, active, maxActive int) bool {
	if !agent.Available {
		return false
	}
	if maxActive > 0 && active >= maxActive {
		return false
	}
	return agent.ServiceCenter.WithinKm(job.Origin, agent.ServiceRadiusKm) ||
		agent.ServiceCenter.WithinKm(job.Destination, agent.ServiceRadiusKm)
}
