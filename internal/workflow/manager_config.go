package workflow

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"animeindex/internal/config"
)

// buildLanes turns lane configuration into runnable lanes. Only the first
// lane reclaims stale claims; reclaiming is store-wide.
func buildLanes(lanes []config.Lane) []*laneState {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		host = "worker"
	}
	session := uuid.NewString()[:8]

	out := make([]*laneState, 0, len(lanes))
	for i, lane := range lanes {
		name := strings.TrimSpace(lane.Name)
		if name == "" {
			name = fmt.Sprintf("lane%d", i+1)
		}
		kinds := make([]string, 0, len(lane.Kinds))
		for _, kind := range lane.Kinds {
			if kind = strings.TrimSpace(kind); kind != "" {
				kinds = append(kinds, kind)
			}
		}
		if len(kinds) == 0 {
			kinds = config.KnownTaskKinds()
		}
		out = append(out, &laneState{
			name:         name,
			kinds:        kinds,
			workerID:     fmt.Sprintf("%s/%s/%s", host, session, name),
			runReclaimer: i == 0,
		})
	}
	return out
}
