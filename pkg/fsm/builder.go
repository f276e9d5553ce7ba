package fsm

// RuleBuilder configures the rule for one (state, event) pair
type RuleBuilder struct {
	m *Machine
	r *rule
}

// When declares that event is accepted in state from. Until GoTo is called
// the rule keeps the machine in from.
func (m *Machine) When(from State, event Event) *RuleBuilder {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := edge{from, event}
	r, ok := m.rules[key]
	if !ok {
		r = &rule{to: from}
		m.rules[key] = r
	}
	return &RuleBuilder{m: m, r: r}
}

// GoTo sets the target state
func (b *RuleBuilder) GoTo(to State) *RuleBuilder {
	b.m.mu.Lock()
	defer b.m.mu.Unlock()
	b.r.to = to
	return b
}

// If guards the rule. A later call replaces the guard.
func (b *RuleBuilder) If(guard Guard) *RuleBuilder {
	b.m.mu.Lock()
	defer b.m.mu.Unlock()
	b.r.guard = guard
	return b
}

// Do appends a hook
func (b *RuleBuilder) Do(hook Hook) *RuleBuilder {
	b.m.mu.Lock()
	defer b.m.mu.Unlock()
	b.r.hooks = append(b.r.hooks, hook)
	return b
}
