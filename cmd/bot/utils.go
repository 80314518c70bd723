package main

// shortID truncates position and order IDs to 8 characters for log lines.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
