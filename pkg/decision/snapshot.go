package decision

// WorkerSnapshot is the read-only view of one worker handed to the reasoning core each tick.
type WorkerSnapshot struct {
	ID             string
	Name           string
	Role           string
	Location       string
	Energy         int
	Activity       string
	RecentMemories []string
	Peers          []string // Names of workers in the same location
	ScheduledTask  string   // Empty when nothing is scheduled
	Priority       string   // News the worker was handed and should act on
}

// Context is the world state surrounding a decision.
type Context struct {
	Time         string
	Situation    string
	Observations []string
	Locations    []string
}
