package registry

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sauerworld/qmaster/internal/logging"
)

// Interval is the cadence of every periodic task: prune, federation, and
// backup all run every 60 seconds per §5.
const Interval = 60 * time.Second

// pruneGrace bounds the pingcache-backed retry-before-evict exception
// (§4.14 of SPEC_FULL.md): a server with a cache entry younger than one
// prune interval gets exactly one extra probe before being dropped.
const pruneGrace = 1

// RunPeriodic drives name's task on Interval until ctx is cancelled. A
// failing iteration is logged and the loop continues — matching §7's
// "periodic-task exceptions are logged, the task sleeps and retries"
// policy — so one bad tick never stops future ones.
func RunPeriodic(ctx context.Context, name string, task func(context.Context) error) {
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			if err := task(ctx); err != nil {
				logging.Warn("%s: %v", name, err)
				continue
			}
			logging.Debug("%s completed in %s", name, logging.Elapsed(time.Since(start)))
		}
	}
}

// probeResult pairs a snapshotted record with the outcome of its ping.
type probeResult struct {
	record     Record
	reachable  bool
	retryGrace bool
}

// Prune re-pings every currently listed server and evicts the ones that no
// longer answer, per §4.6's periodic prune.
func (r *Registry) Prune(ctx context.Context) error {
	snapshot := r.Snapshot()
	if len(snapshot) == 0 {
		return nil
	}

	results := make([]probeResult, len(snapshot))
	var wg sync.WaitGroup
	for i, rec := range snapshot {
		wg.Add(1)
		go func(i int, rec Record) {
			defer wg.Done()
			results[i] = r.pruneOne(ctx, rec)
		}(i, rec)
	}
	wg.Wait()

	r.mu.Lock()
	removed, kept := 0, 0
	for _, res := range results {
		if _, ok := r.records[res.record.Identity]; !ok {
			// Removed or superseded already, or never re-reconciled —
			// leave whatever add_or_update did in place.
			continue
		}
		delete(r.records, res.record.Identity)
		if res.reachable {
			r.records[res.record.Identity] = res.record
			kept++
		} else {
			removed++
		}
	}
	r.mu.Unlock()

	for _, res := range results {
		if !res.reachable {
			r.notify(false, res.record.Identity)
		}
	}

	logging.Info("prune: %s reachable, %s evicted", logging.Count(kept), logging.Count(removed))
	return nil
}

func (r *Registry) pruneOne(ctx context.Context, rec Record) probeResult {
	reply, err := r.probe(ctx, rec.Identity)
	if err == nil {
		rec.Description = truncate(reply.Description, 80)
		return probeResult{record: rec, reachable: true}
	}

	if r.cache != nil && r.cache.RecentlyOK(rec.Identity) {
		// Grace retry: a cache hit suggests this is a transient blip
		// rather than the server actually having gone away.
		reply, err = r.probe(ctx, rec.Identity)
		if err == nil {
			rec.Description = truncate(reply.Description, 80)
			return probeResult{record: rec, reachable: true, retryGrace: true}
		}
	}

	return probeResult{record: rec, reachable: false}
}

// Federate scrapes every configured peer master and merges its listings in,
// per §4.6's periodic federation.
func (r *Registry) Federate(ctx context.Context) error {
	var firstErr error
	for _, peer := range r.peers {
		servers, err := r.federateOne(ctx, peer)
		if err != nil {
			logging.Warn("federation: peer %s:%d: %v", peer.Ref.Host, peer.Ref.Port, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		for _, rec := range servers {
			rec.Priority = 0
			rec.RemoteMaster = &PeerRef{Host: peer.Ref.Host, Port: peer.Ref.Port}
			if _, err := r.addOrUpdate(ctx, rec); err != nil {
				logging.Debug("federation: %s:%d from %s:%d rejected: %v",
					rec.IP, rec.Port, peer.Ref.Host, peer.Ref.Port, err)
			}
		}
	}
	return firstErr
}

// federateOne scrapes a single peer master, wrapped in its own span and
// recorded against qmaster_federation_scrapes_total.
func (r *Registry) federateOne(ctx context.Context, peer Peer) ([]Record, error) {
	ctx, span := tracer.Start(ctx, "registry.federate")
	defer span.End()

	peerLabel := fmt.Sprintf("%s:%d", peer.Ref.Host, peer.Ref.Port)
	servers, err := peer.Client.ListServers(ctx)
	if err != nil {
		r.metrics.IncFederationScrape(peerLabel, "error")
		return nil, err
	}
	r.metrics.IncFederationScrape(peerLabel, "ok")
	return servers, nil
}

// WriteBackup overwrites the backup file with one ip:port line per record.
// A nil/empty backup path is a no-op. The file is written to a uuid-suffixed
// temp path first and renamed into place, so a crash mid-write never leaves
// a truncated backup file for RestoreBackup to trip over.
func (r *Registry) WriteBackup() error {
	if r.backupPath == "" {
		return nil
	}

	r.mu.Lock()
	lines := make([]string, 0, len(r.records))
	for id := range r.records {
		lines = append(lines, fmt.Sprintf("%s:%d", id.IP, id.Port))
	}
	r.mu.Unlock()

	tmpPath := fmt.Sprintf("%s.%s.tmp", r.backupPath, uuid.NewString())

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("registry: writing backup: %w", err)
	}

	w := bufio.NewWriter(f)
	for _, line := range lines {
		if _, err := w.WriteString(line + "\n"); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("registry: writing backup line: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("registry: flushing backup: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("registry: closing backup: %w", err)
	}

	if err := os.Rename(tmpPath, r.backupPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("registry: renaming backup into place: %w", err)
	}
	return nil
}

// RestoreBackup reads the backup file, if configured, and re-probes every
// entry through add_or_update so only servers that still respond get
// listed.
func (r *Registry) RestoreBackup(ctx context.Context) error {
	if r.backupPath == "" {
		return nil
	}

	f, err := os.Open(r.backupPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("registry: reading backup: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	restored := 0
	for scanner.Scan() {
		line := scanner.Text()
		host, port, ok := splitHostPort(line)
		if !ok {
			logging.Warn("registry: skipping malformed backup line %q", line)
			continue
		}

		if _, err := r.addOrUpdate(ctx, Record{Identity: Identity{IP: host, Port: port}}); err != nil {
			logging.Debug("registry: backup entry %s did not respond: %v", line, err)
			continue
		}
		restored++
	}
	logging.Info("restored %s servers from backup", logging.Count(restored))
	return scanner.Err()
}

func splitHostPort(line string) (host string, port uint16, ok bool) {
	idx := lastColon(line)
	if idx < 0 {
		return "", 0, false
	}
	host = line[:idx]
	var p int
	if _, err := fmt.Sscanf(line[idx+1:], "%d", &p); err != nil || p <= 0 || p > 65535 {
		return "", 0, false
	}
	return host, uint16(p), true
}

func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}
