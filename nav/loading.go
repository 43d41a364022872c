package nav

// BeginLoading marks label as loading. Labels are counted: beginning the
// same label twice needs two EndLoading calls.
func (n *Navigator) BeginLoading(label string) {
	n.mu.Lock()
	n.loading = append(n.loading, label)
	n.mu.Unlock()
	n.observer.OnLoadingChanged(label, true)
}

// EndLoading removes the first occurrence of label. Ending a label that
// is not loading is a no-op.
func (n *Navigator) EndLoading(label string) {
	n.mu.Lock()
	removed := false
	for i, l := range n.loading {
		if l == label {
			n.loading = append(n.loading[:i:i], n.loading[i+1:]...)
			removed = true
			break
		}
	}
	still := n.isLoadingLocked(label)
	n.mu.Unlock()
	if removed {
		n.observer.OnLoadingChanged(label, still)
	}
}

// DidLoad reports whether none of labels is loading.
func (n *Navigator) DidLoad(labels ...string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, l := range labels {
		if n.isLoadingLocked(l) {
			return false
		}
	}
	return true
}

// Loading returns the active labels in the order they began.
func (n *Navigator) Loading() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.loading))
	copy(out, n.loading)
	return out
}

func (n *Navigator) isLoadingLocked(label string) bool {
	for _, l := range n.loading {
		if l == label {
			return true
		}
	}
	return false
}
