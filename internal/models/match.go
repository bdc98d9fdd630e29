package models

// MatchStats is the transient per-server aggregate for the map in progress.
// It lives only in the match handler's memory between the first ROUND_START
// and the next MAP_CHANGE or SERVER_SHUTDOWN, when it is finalized.
type MatchStats struct {
	ServerID    int64
	Map         string
	TotalRounds int
	Duration    int64 // accumulated round seconds
	TeamScores  map[string]int
}

// NewMatchStats returns an empty aggregate for a server and map.
func NewMatchStats(serverID int64, mapName string) *MatchStats {
	return &MatchStats{
		ServerID:   serverID,
		Map:        mapName,
		TeamScores: make(map[string]int),
	}
}
