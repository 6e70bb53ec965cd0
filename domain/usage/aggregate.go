package usage

import "sort"

// Fold combines events into per-client statistics for the window.
// This is a PURE function: identical inputs produce an identical Report
// regardless of event order, so it can run concurrently for different
// windows without synchronization.
//
// Events outside the window are excluded. Upstream sources are asked for
// the window but their filtering is not trusted.
func Fold(events []Event, w Window) Report {
	byClient := make(map[string]*ClientStats)

	for _, e := range events {
		if !w.Contains(e.Timestamp) {
			continue
		}

		id := e.ClientID
		if id == "" {
			id = UnknownClient
		}

		stats, ok := byClient[id]
		if !ok {
			stats = &ClientStats{ClientID: id}
			byClient[id] = stats
		}

		stats.RequestCount++
		if e.IsError() {
			stats.ErrorCount++
		}
		if e.Timestamp.After(stats.LastSeen) {
			stats.LastSeen = e.Timestamp
		}
	}

	clients := make([]ClientStats, 0, len(byClient))
	for _, stats := range byClient {
		clients = append(clients, *stats)
	}

	// Deterministic ordering: request count descending, client ID ascending.
	sort.Slice(clients, func(i, j int) bool {
		if clients[i].RequestCount != clients[j].RequestCount {
			return clients[i].RequestCount > clients[j].RequestCount
		}
		return clients[i].ClientID < clients[j].ClientID
	})

	return Report{Window: w, Clients: clients}
}
