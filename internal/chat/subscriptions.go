package chat

import "strings"

func normalizeGroup(group string) string {
	return strings.TrimSpace(group)
}

// groups is the many-to-many group <-> connection index. Only the Manager
// goroutine touches it.
type groups struct {
	members map[string]map[*Client]struct{} // group -> connections
	joined  map[*Client]map[string]struct{} // connection -> groups
}

func newGroups() *groups {
	return &groups{
		members: map[string]map[*Client]struct{}{},
		joined:  map[*Client]map[string]struct{}{},
	}
}

// join reports whether c was newly added.
func (g *groups) join(c *Client, group string) bool {
	if _, ok := g.members[group][c]; ok {
		return false
	}
	if _, ok := g.members[group]; !ok {
		g.members[group] = map[*Client]struct{}{}
	}
	g.members[group][c] = struct{}{}

	if _, ok := g.joined[c]; !ok {
		g.joined[c] = map[string]struct{}{}
	}
	g.joined[c][group] = struct{}{}
	return true
}

func (g *groups) leave(c *Client, group string) bool {
	set, ok := g.members[group]
	if !ok {
		return false
	}
	if _, ok := set[c]; !ok {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(g.members, group)
	}
	if gs, ok := g.joined[c]; ok {
		delete(gs, group)
		if len(gs) == 0 {
			delete(g.joined, c)
		}
	}
	return true
}

// leaveAll removes c from every group it is in.
func (g *groups) leaveAll(c *Client) {
	for group := range g.joined[c] {
		if set, ok := g.members[group]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(g.members, group)
			}
		}
	}
	delete(g.joined, c)
}

func (g *groups) has(c *Client, group string) bool {
	_, ok := g.members[group][c]
	return ok
}

func (g *groups) size(group string) int {
	return len(g.members[group])
}

func (g *groups) of(c *Client) []string {
	out := make([]string, 0, len(g.joined[c]))
	for group := range g.joined[c] {
		out = append(out, group)
	}
	return out
}
