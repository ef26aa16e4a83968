package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sauerworld/qmaster/internal/metrics"
	"github.com/sauerworld/qmaster/internal/query"
	"github.com/sauerworld/qmaster/internal/telemetry"
)

var tracer = telemetry.Tracer("qmaster/registry")

// Pinger probes a server's info port, returning the raw UDP reply bytes.
// Satisfied by internal/ping.Ping.
type Pinger func(ctx context.Context, host string, infoPort uint16) ([]byte, error)

// EventPublisher is notified of registry mutations. A nil EventPublisher
// disables notification entirely; this is strictly an observability
// side-channel and failures here are never fatal to a mutation.
type EventPublisher interface {
	Published(added bool, id Identity)
}

// PingCache reports whether a server had a successful probe recently, used
// only to decide whether a freshly-failed prune probe deserves one grace retry.
type PingCache interface {
	RecentlyOK(id Identity) bool
}

// RemoteClient scrapes one peer master's server list. Satisfied by
// internal/remote.Client.
type RemoteClient interface {
	ListServers(ctx context.Context) ([]Record, error)
}

// Peer pairs a configured peer master with the client that scrapes it.
type Peer struct {
	Ref    PeerRef
	Client RemoteClient
}

// ErrImmutableIdentity is returned when a connection that already
// overrode its private-IP address to a public one attempts to register a
// different address on a later line.
var ErrImmutableIdentity = errors.New("registry: server address is already fixed for this connection")

// ErrDuplicateInsert indicates add_or_update found two different identities
// colliding where the invariant says one should be impossible. It signals a
// logic bug, never a client-facing condition.
var ErrDuplicateInsert = errors.New("registry: duplicate insert under mutex")

// Registry is the deduplicated set of known servers, guarded by a single
// mutex per §4.6's concurrency model.
type Registry struct {
	mu      sync.Mutex
	records map[Identity]Record

	pinger  Pinger
	events  EventPublisher
	cache   PingCache
	peers   []Peer
	metrics *metrics.Metrics

	backupPath string
}

// New constructs an empty Registry. events and cache may be nil.
func New(pinger Pinger, events EventPublisher, cache PingCache) *Registry {
	return &Registry{
		records: make(map[Identity]Record),
		pinger:  pinger,
		events:  events,
		cache:   cache,
	}
}

// SetPeers configures the peer masters federation polls. Not safe to call
// concurrently with Start.
func (r *Registry) SetPeers(peers []Peer) { r.peers = peers }

// SetBackupPath configures the flat snapshot file written every 60s. An
// empty path disables the backup entirely.
func (r *Registry) SetBackupPath(path string) { r.backupPath = path }

// SetMetrics attaches the series registrations/probes/federation scrapes are
// recorded against. A nil *metrics.Metrics (the default) makes every
// recording a no-op.
func (r *Registry) SetMetrics(m *metrics.Metrics) { r.metrics = m }

// Snapshot returns a copy of the current set, safe to range over without
// the registry mutex.
func (r *Registry) Snapshot() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.clone())
	}
	return out
}

// Register constructs a candidate record for a server connecting from
// peerHost, applies the private-IP override rule, and performs
// add_or_update. prevIdentity is the identity this same connection already
// registered, if any (nil on a connection's first "server" line); it
// enforces that once a private address has been overridden to a public
// one, it cannot be changed again on the same connection.
func (r *Registry) Register(ctx context.Context, peerHost, serverIP string, port uint16, priority int, description, authHandle, role, branch string, prevIdentity *Identity) (*Record, error) {
	ip := peerHost
	if isPrivateIPv4(peerHost) && serverIP != "" && serverIP != "*" {
		ip = serverIP
	}

	if prevIdentity != nil && prevIdentity.IP != ip {
		return nil, ErrImmutableIdentity
	}

	candidate := Record{
		Identity:    Identity{IP: ip, Port: port},
		Priority:    priority,
		Description: truncate(description, 80),
		AuthHandle:  authHandle,
		Role:        role,
		Branch:      branch,
	}

	rec, err := r.addOrUpdate(ctx, candidate)
	if err != nil {
		r.metrics.IncRegistration("error")
		return nil, err
	}
	r.metrics.IncRegistration("ok")
	return rec, nil
}

// addOrUpdate implements §4.6 exactly: the probe runs with the registry
// mutex held, serializing all registrations.
//
// FIXME: this blocks unrelated registrations for the full probe duration.
// A language-neutral remedy (insert a pending-probe sentinel, probe
// unlocked, reacquire to finalize) is documented in DESIGN.md but not
// implemented, to keep this method's correctness easy to audit.
func (r *Registry) addOrUpdate(ctx context.Context, candidate Record) (*Record, error) {
	r.mu.Lock()

	if existing, ok := r.records[candidate.Identity]; ok {
		existing.Priority = candidate.Priority
		existing.Description = candidate.Description
		existing.AuthHandle = candidate.AuthHandle
		existing.Role = candidate.Role
		existing.Branch = candidate.Branch
		r.records[candidate.Identity] = existing
		r.mu.Unlock()
		out := existing
		return &out, nil
	}

	reply, err := r.probe(ctx, candidate.Identity)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}

	candidate.Description = truncate(reply.Description, 80)
	r.records[candidate.Identity] = candidate
	r.metrics.SetRegistrySize(len(r.records))
	r.mu.Unlock()

	r.notify(true, candidate.Identity)

	out := candidate
	return &out, nil
}

func (r *Registry) probe(ctx context.Context, id Identity) (*query.Reply, error) {
	ctx, span := tracer.Start(ctx, "registry.probe")
	defer span.End()

	if r.pinger == nil {
		r.metrics.IncProbe("unconfigured")
		return nil, fmt.Errorf("registry: no pinger configured")
	}

	start := time.Now()
	raw, err := r.pinger(ctx, id.IP, id.InfoPort())
	r.metrics.ObserveProbeDuration(time.Since(start).Seconds())
	if err != nil {
		r.metrics.IncProbe("timeout")
		return nil, err
	}

	reply, err := query.Parse(raw)
	if err != nil {
		r.metrics.IncProbe("malformed")
		return nil, err
	}
	r.metrics.IncProbe("ok")
	return reply, nil
}

// Remove deletes id from the registry, reporting whether it was present.
func (r *Registry) Remove(id Identity) bool {
	r.mu.Lock()
	if _, ok := r.records[id]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.records, id)
	r.metrics.SetRegistrySize(len(r.records))
	r.mu.Unlock()

	r.notify(false, id)
	return true
}

func (r *Registry) notify(added bool, id Identity) {
	if r.events == nil {
		return
	}
	r.events.Published(added, id)
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
