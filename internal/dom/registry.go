package dom

// Registry maps interface identifiers to their monitors. Monitors are created
// on first sight and never removed. A Registry has a single owner and is not
// safe for concurrent use.
type Registry struct {
	settings Settings
	opts     []Option
	monitors map[string]*Monitor
	order    []string
}

// NewRegistry returns an empty registry whose monitors share settings and opts.
func NewRegistry(settings Settings, opts ...Option) *Registry {
	return &Registry{
		settings: settings,
		opts:     opts,
		monitors: make(map[string]*Monitor),
	}
}

// GetOrCreate returns the monitor for id, creating it in the down state if needed.
func (r *Registry) GetOrCreate(id string) *Monitor {
	if m, ok := r.monitors[id]; ok {
		return m
	}

	m := NewMonitor(id, r.settings, r.opts...)
	r.monitors[id] = m
	r.order = append(r.order, id)

	return m
}

func (r *Registry) Get(id string) (*Monitor, bool) {
	m, ok := r.monitors[id]
	return m, ok
}

func (r *Registry) Len() int {
	return len(r.order)
}

// IDs returns the interface identifiers in first-seen order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// LinksUp counts monitors whose last observation saw the link up.
func (r *Registry) LinksUp() int {
	n := 0
	for _, m := range r.monitors {
		if m.LinkUp() {
			n++
		}
	}
	return n
}
