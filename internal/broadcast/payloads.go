package broadcast

// JobUpdate frames a job view for the stream.
func JobUpdate(payload any) (Event, error) {
	return NewEvent(TypeJobUpdate, payload)
}

// StatsUpdate frames a stats view for the stream.
func StatsUpdate(payload any) (Event, error) {
	return NewEvent(TypeStatsUpdate, payload)
}
