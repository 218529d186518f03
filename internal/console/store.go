package console

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
)

// memoKey builds a composite cache key. Server IDs cannot contain NUL, so
// the separator is unambiguous.
func memoKey(serverID, name string) string {
	return serverID + "\x00" + name
}

// Store holds the client-side snapshot of the fleet: configured servers,
// their runtime statuses, and their discovered capabilities. Writes replace
// whole categories; there is no per-item merge. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	servers   map[string]ServerConfig
	statuses  map[string]ServerStatus
	tools     map[string][]Tool
	resources map[string][]Resource
	prompts   map[string][]Prompt

	// toolOwners maps a tool name to the servers exposing it, in sorted
	// server order. Rebuilt on every SetTools.
	toolOwners map[string][]string

	resourceContent map[string]string
	promptResults   map[string]json.RawMessage
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		servers:         map[string]ServerConfig{},
		statuses:        map[string]ServerStatus{},
		tools:           map[string][]Tool{},
		resources:       map[string][]Resource{},
		prompts:         map[string][]Prompt{},
		toolOwners:      map[string][]string{},
		resourceContent: map[string]string{},
		promptResults:   map[string]json.RawMessage{},
	}
}

// SetServers replaces the server configuration snapshot.
func (s *Store) SetServers(servers map[string]ServerConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers = make(map[string]ServerConfig, len(servers))
	for id, cfg := range servers {
		s.servers[id] = cfg
	}
}

// SetStatuses replaces the runtime status snapshot.
func (s *Store) SetStatuses(statuses map[string]ServerStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = make(map[string]ServerStatus, len(statuses))
	for id, st := range statuses {
		s.statuses[id] = st
	}
}

// SetStatus upserts the status of a single server.
func (s *Store) SetStatus(serverID string, st ServerStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.ServerID == "" {
		st.ServerID = serverID
	}
	s.statuses[serverID] = st
}

// SetTools replaces the tool snapshot and rebuilds the name ownership
// index.
func (s *Store) SetTools(tools map[string][]Tool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools = make(map[string][]Tool, len(tools))
	for id, list := range tools {
		s.tools[id] = append([]Tool(nil), list...)
	}
	s.toolOwners = map[string][]string{}
	for _, id := range sortedKeys(s.tools) {
		for _, t := range s.tools[id] {
			s.toolOwners[t.Name] = append(s.toolOwners[t.Name], id)
		}
	}
}

// SetResources replaces the resource snapshot and invalidates memoized
// resource content.
func (s *Store) SetResources(resources map[string][]Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources = make(map[string][]Resource, len(resources))
	for id, list := range resources {
		s.resources[id] = append([]Resource(nil), list...)
	}
	s.resourceContent = map[string]string{}
}

// SetPrompts replaces the prompt snapshot and invalidates memoized prompt
// results.
func (s *Store) SetPrompts(prompts map[string][]Prompt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = make(map[string][]Prompt, len(prompts))
	for id, list := range prompts {
		s.prompts[id] = append([]Prompt(nil), list...)
	}
	s.promptResults = map[string]json.RawMessage{}
}

// ServerIDs returns the configured server IDs in sorted order.
func (s *Store) ServerIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.servers)
}

// Server returns the configuration of one server.
func (s *Store) Server(serverID string) (ServerConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.servers[serverID]
	return cfg, ok
}

// Servers returns a copy of the configuration snapshot.
func (s *Store) Servers() map[string]ServerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ServerConfig, len(s.servers))
	for id, cfg := range s.servers {
		out[id] = cfg
	}
	return out
}

// StatusFor returns the last known status of one server.
func (s *Store) StatusFor(serverID string) (ServerStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.statuses[serverID]
	return st, ok
}

// Statuses returns a copy of the status snapshot.
func (s *Store) Statuses() map[string]ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ServerStatus, len(s.statuses))
	for id, st := range s.statuses {
		out[id] = st
	}
	return out
}

// ToolsFor returns the tools of one server. Unknown servers yield an empty
// slice, not an error.
func (s *Store) ToolsFor(serverID string) []Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Tool(nil), s.tools[serverID]...)
}

// ResourcesFor returns the resources of one server. Unknown servers yield
// an empty slice, not an error.
func (s *Store) ResourcesFor(serverID string) []Resource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Resource(nil), s.resources[serverID]...)
}

// PromptsFor returns the prompts of one server. Unknown servers yield an
// empty slice, not an error.
func (s *Store) PromptsFor(serverID string) []Prompt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Prompt(nil), s.prompts[serverID]...)
}

// AllTools returns every known tool, ordered by server ID then position.
func (s *Store) AllTools() []Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Tool
	for _, id := range sortedKeys(s.tools) {
		out = append(out, s.tools[id]...)
	}
	return out
}

// AllResources returns every known resource, ordered by server ID then
// position.
func (s *Store) AllResources() []Resource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Resource
	for _, id := range sortedKeys(s.resources) {
		out = append(out, s.resources[id]...)
	}
	return out
}

// AllPrompts returns every known prompt, ordered by server ID then
// position.
func (s *Store) AllPrompts() []Prompt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Prompt
	for _, id := range sortedKeys(s.prompts) {
		out = append(out, s.prompts[id]...)
	}
	return out
}

// ToolOn returns the named tool as exposed by a specific server.
func (s *Store) ToolOn(serverID, name string) (Tool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tools[serverID] {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

// PromptOn returns the named prompt as exposed by a specific server.
func (s *Store) PromptOn(serverID, name string) (Prompt, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.prompts[serverID] {
		if p.Name == name {
			return p, true
		}
	}
	return Prompt{}, false
}

// ToolOwner resolves a tool name to the one server exposing it. A name
// exposed by no server yields a NotFoundError; a name exposed by several
// yields an AmbiguousToolError listing them all.
func (s *Store) ToolOwner(name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owners := s.toolOwners[name]
	switch len(owners) {
	case 0:
		return "", &NotFoundError{Kind: "tool", Name: name}
	case 1:
		return owners[0], nil
	default:
		return "", &AmbiguousToolError{Name: name, ServerIDs: append([]string(nil), owners...)}
	}
}

// SearchTools returns tools whose name or description contains the query,
// case-insensitively, ordered by server ID.
func (s *Store) SearchTools(query string) []Tool {
	q := strings.ToLower(query)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Tool
	for _, id := range sortedKeys(s.tools) {
		for _, t := range s.tools[id] {
			if strings.Contains(strings.ToLower(t.Name), q) ||
				strings.Contains(strings.ToLower(t.Description), q) {
				out = append(out, t)
			}
		}
	}
	return out
}

// SearchResources returns resources whose URI, name, or description
// contains the query, case-insensitively, ordered by server ID.
func (s *Store) SearchResources(query string) []Resource {
	q := strings.ToLower(query)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Resource
	for _, id := range sortedKeys(s.resources) {
		for _, r := range s.resources[id] {
			if strings.Contains(strings.ToLower(r.URI), q) ||
				strings.Contains(strings.ToLower(r.Name), q) ||
				strings.Contains(strings.ToLower(r.Description), q) {
				out = append(out, r)
			}
		}
	}
	return out
}

// ResourceContent returns the memoized content of a resource.
func (s *Store) ResourceContent(serverID, uri string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.resourceContent[memoKey(serverID, uri)]
	return content, ok
}

// SetResourceContent memoizes the content of a resource. The entry lives
// until the next SetResources.
func (s *Store) SetResourceContent(serverID, uri, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resourceContent[memoKey(serverID, uri)] = content
}

// PromptResult returns the memoized result of an argument-less prompt.
func (s *Store) PromptResult(serverID, name string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.promptResults[memoKey(serverID, name)]
	return res, ok
}

// SetPromptResult memoizes the result of an argument-less prompt. The
// entry lives until the next SetPrompts.
func (s *Store) SetPromptResult(serverID, name string, result json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promptResults[memoKey(serverID, name)] = result
}

// Clear drops everything, returning the store to its initial state.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers = map[string]ServerConfig{}
	s.statuses = map[string]ServerStatus{}
	s.tools = map[string][]Tool{}
	s.resources = map[string][]Resource{}
	s.prompts = map[string][]Prompt{}
	s.toolOwners = map[string][]string{}
	s.resourceContent = map[string]string{}
	s.promptResults = map[string]json.RawMessage{}
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
