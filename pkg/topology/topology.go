// Package topology implements the network topology manager of spec
// §3/§4.G: an in-memory id/edge graph over hierarchical, mesh,
// hierarchical-mesh, and adaptive strategies, with partition detection
// and healing. Per spec §9 ("Cyclic references between topology
// nodes"), nodes never hold direct pointers to one another — only
// neighbor id sets looked up through the Manager. Grounded on the
// teacher's ollama-distributed/pkg/p2p.Node's identity concept (a
// stable id plus a role), adapted away from real libp2p networking into
// a pure id-set graph, since §1 scopes the wire protocol to the pub/sub
// framing of §6 and this manager only tracks the physical arrangement
// behind the queen/worker coordination layer.
package topology

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hivemesh/swarmcore/internal/errs"
	"github.com/hivemesh/swarmcore/internal/events"
)

// Role is a node's position in the swarm.
type Role string

const (
	RoleQueen       Role = "queen"
	RoleWorker      Role = "worker"
	RoleCoordinator Role = "coordinator"
)

// Type selects a topology strategy (spec §4.G).
type Type string

const (
	TypeHierarchical     Type = "hierarchical"
	TypeMesh             Type = "mesh"
	TypeHierarchicalMesh Type = "hierarchical-mesh"
	TypeAdaptive         Type = "adaptive"
)

// Node is a NodeConnection of spec §3.
type Node struct {
	ID          string
	Role        Role
	Connections map[string]struct{}
	Level       int // 0 means unset
}

// Config configures a Manager (spec §6's topology configuration surface).
type Config struct {
	Type                    Type
	MaxConnectionsPerWorker int
	HierarchyLevels         int
	AdaptIntervalMs         int64
}

// DefaultConfig returns spec §6's stated defaults.
func DefaultConfig() Config {
	return Config{
		Type:                    TypeHierarchical,
		MaxConnectionsPerWorker: 5,
		AdaptIntervalMs:         60000,
	}
}

// Manager owns the node/edge graph and topology strategy. All queries
// and mutations go through it; no caller holds a direct node reference.
type Manager struct {
	mu      sync.Mutex
	cfg     Config
	current Type // the strategy actually used to wire new nodes
	nodes   map[string]*Node
	queenID string
	rnd     *rand.Rand
	bus     *events.Bus
	log     zerolog.Logger
}

// NewManager creates an empty topology under cfg.
func NewManager(cfg Config, bus *events.Bus, log zerolog.Logger) *Manager {
	if cfg.MaxConnectionsPerWorker == 0 {
		cfg = DefaultConfig()
	}
	current := cfg.Type
	if current == TypeAdaptive {
		current = TypeHierarchical // adaptive begins as hierarchical, spec §4.G
	}
	return &Manager{
		cfg:     cfg,
		current: current,
		nodes:   make(map[string]*Node),
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
		bus:     bus,
		log:     log,
	}
}

func (m *Manager) emit(name string, data interface{}) {
	if m.bus != nil {
		m.bus.Publish(events.Event{Name: name, Data: data})
	}
}

func (m *Manager) connect(a, b string) {
	if a == b {
		return
	}
	m.nodes[a].Connections[b] = struct{}{}
	m.nodes[b].Connections[a] = struct{}{}
}

// AddNode inserts a node and wires it per the active strategy. Adding a
// second queen fails (spec §3 invariant: at most one queen).
func (m *Manager) AddNode(nodeID string, role Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.nodes[nodeID]; exists {
		return fmt.Errorf("%w: node %s already present", errs.ErrDuplicateID, nodeID)
	}
	if role == RoleQueen && m.queenID != "" {
		return fmt.Errorf("%w: topology already has queen %s", errs.ErrInvalidInput, m.queenID)
	}

	n := &Node{ID: nodeID, Role: role, Connections: make(map[string]struct{})}
	m.nodes[nodeID] = n
	if role == RoleQueen {
		m.queenID = nodeID
	}

	switch m.activeStrategy() {
	case TypeMesh:
		m.wireMesh(n)
	case TypeHierarchicalMesh:
		m.wireHierarchical(n)
		if role != RoleQueen {
			m.wireMeshPeers(n, m.cfg.MaxConnectionsPerWorker/2)
		}
	default: // hierarchical and adaptive (adaptive begins hierarchical)
		m.wireHierarchical(n)
	}

	m.emit("topology.changed", struct {
		NodeID string
		Role   Role
		Type   Type
	}{nodeID, role, m.cfg.Type})
	return nil
}

func (m *Manager) activeStrategy() Type {
	return m.current
}

// wireHierarchical connects a newly added node to the queen (if it is a
// worker/coordinator) or to every existing worker (if it is the queen).
func (m *Manager) wireHierarchical(n *Node) {
	if n.Role == RoleQueen {
		for id, other := range m.nodes {
			if id == n.ID || other.Role == RoleQueen {
				continue
			}
			m.connect(n.ID, id)
			other.Level = 1
		}
		return
	}
	if m.queenID != "" && m.queenID != n.ID {
		m.connect(n.ID, m.queenID)
	}
	n.Level = 1
}

// wireMesh connects n to up to MaxConnectionsPerWorker random existing
// nodes that still have remaining capacity.
func (m *Manager) wireMesh(n *Node) {
	candidates := make([]string, 0, len(m.nodes))
	for id, other := range m.nodes {
		if id == n.ID {
			continue
		}
		if len(other.Connections) < m.cfg.MaxConnectionsPerWorker {
			candidates = append(candidates, id)
		}
	}
	sort.Strings(candidates)
	m.rnd.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	limit := m.cfg.MaxConnectionsPerWorker
	for i := 0; i < len(candidates) && i < limit; i++ {
		m.connect(n.ID, candidates[i])
	}
}

// wireMeshPeers links n to up to limit random existing worker peers with
// remaining capacity, used by hierarchical-mesh's worker-worker links.
func (m *Manager) wireMeshPeers(n *Node, limit int) {
	if limit <= 0 {
		return
	}
	candidates := make([]string, 0, len(m.nodes))
	for id, other := range m.nodes {
		if id == n.ID || other.Role == RoleQueen {
			continue
		}
		if len(other.Connections) < m.cfg.MaxConnectionsPerWorker {
			candidates = append(candidates, id)
		}
	}
	sort.Strings(candidates)
	m.rnd.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	for i := 0; i < len(candidates) && i < limit; i++ {
		m.connect(n.ID, candidates[i])
	}
}

// RemoveNode removes a node and its symmetric edges. Removing the queen
// marks the slot free and emits queen.removed. After any removal, a
// partition check runs and partition.detected is emitted if the removal
// split the graph — but per spec §8 scenario 6's literal sequencing
// (detectPartitions() observed, then healPartitions() invoked
// separately), RemoveNode does not heal on the caller's behalf; callers
// that want auto-repair call HealPartitions themselves.
func (m *Manager) RemoveNode(nodeID string) error {
	m.mu.Lock()
	n, ok := m.nodes[nodeID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: node %s", errs.ErrNotFound, nodeID)
	}
	wasQueen := n.Role == RoleQueen
	for peer := range n.Connections {
		if other, ok := m.nodes[peer]; ok {
			delete(other.Connections, nodeID)
		}
	}
	delete(m.nodes, nodeID)
	if wasQueen {
		m.queenID = ""
	}
	m.mu.Unlock()

	if wasQueen {
		m.emit("queen.removed", nodeID)
	}

	if partitions := m.DetectPartitions(); len(partitions) > 1 {
		m.emit("partition.detected", partitions)
	}
	return nil
}

// DetectPartitions returns the connected components via BFS, in
// ascending order of each component's smallest node id (a stable,
// deterministic ordering since Go map iteration is not).
func (m *Manager) DetectPartitions() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detectPartitionsLocked()
}

func (m *Manager) detectPartitionsLocked() [][]string {
	ids := make([]string, 0, len(m.nodes))
	for id := range m.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	visited := make(map[string]bool, len(ids))
	var partitions [][]string
	for _, start := range ids {
		if visited[start] {
			continue
		}
		var component []string
		queue := []string{start}
		visited[start] = true
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			component = append(component, cur)
			neighbors := make([]string, 0, len(m.nodes[cur].Connections))
			for nb := range m.nodes[cur].Connections {
				neighbors = append(neighbors, nb)
			}
			sort.Strings(neighbors)
			for _, nb := range neighbors {
				if !visited[nb] {
					visited[nb] = true
					queue = append(queue, nb)
				}
			}
		}
		sort.Strings(component)
		partitions = append(partitions, component)
	}
	return partitions
}

// HealPartitions links each non-largest partition's first node to the
// largest partition's first node (the first-listed partition wins ties).
func (m *Manager) HealPartitions() {
	m.mu.Lock()
	partitions := m.detectPartitionsLocked()
	if len(partitions) <= 1 {
		m.mu.Unlock()
		return
	}
	largestIdx := 0
	for i, p := range partitions {
		if len(p) > len(partitions[largestIdx]) {
			largestIdx = i
		}
	}
	anchor := partitions[largestIdx][0]
	for i, p := range partitions {
		if i == largestIdx || len(p) == 0 {
			continue
		}
		m.connect(anchor, p[0])
	}
	m.mu.Unlock()

	m.emit("partition.healed", m.DetectPartitions())
}

// Connected reports a direct edge between a and b.
func (m *Manager) Connected(a, b string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[a]
	if !ok {
		return false
	}
	_, ok = n.Connections[b]
	return ok
}

// ShortestPath returns the node-id path from a to b via BFS, or nil if
// unreachable.
func (m *Manager) ShortestPath(a, b string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[a]; !ok {
		return nil
	}
	if a == b {
		return []string{a}
	}
	prev := map[string]string{a: ""}
	queue := []string{a}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		neighbors := make([]string, 0, len(m.nodes[cur].Connections))
		for nb := range m.nodes[cur].Connections {
			neighbors = append(neighbors, nb)
		}
		sort.Strings(neighbors)
		for _, nb := range neighbors {
			if _, seen := prev[nb]; seen {
				continue
			}
			prev[nb] = cur
			if nb == b {
				return reconstruct(prev, a, b)
			}
			queue = append(queue, nb)
		}
	}
	return nil
}

func reconstruct(prev map[string]string, a, b string) []string {
	var path []string
	for cur := b; cur != ""; cur = prev[cur] {
		path = append([]string{cur}, path...)
		if cur == a {
			break
		}
	}
	return path
}

// Node returns a copy of the node's id/role/level and a snapshot of its
// connection set, so callers never hold a live reference into the graph.
func (m *Manager) Node(nodeID string) (Node, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[nodeID]
	if !ok {
		return Node{}, false
	}
	cp := Node{ID: n.ID, Role: n.Role, Level: n.Level, Connections: make(map[string]struct{}, len(n.Connections))}
	for k := range n.Connections {
		cp.Connections[k] = struct{}{}
	}
	return cp, true
}

// Len returns the node count.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.nodes)
}
