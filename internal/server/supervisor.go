package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sauerworld/qmaster/internal/auth"
	"github.com/sauerworld/qmaster/internal/logging"
	"github.com/sauerworld/qmaster/internal/metrics"
	"github.com/sauerworld/qmaster/internal/registry"
	"github.com/sauerworld/qmaster/internal/snapshotstore"
)

// lifecycleState tracks the Supervisor's Unstarted -> Running -> Stopped
// progression.
type lifecycleState int

const (
	stateUnstarted lifecycleState = iota
	stateRunning
	stateStopped
)

// ErrAlreadyStarted, ErrAlreadyStopped, and ErrNotStarted are the lifecycle
// misuse errors §4.8 specifies.
var (
	ErrAlreadyStarted = errors.New("server: already started")
	ErrAlreadyStopped = errors.New("server: already stopped")
	ErrNotStarted     = errors.New("server: not started")
)

// Supervisor owns the TCP listener, the Registry, and the Auth Store, and
// drives the three periodic tasks for as long as it runs.
type Supervisor struct {
	registry  *registry.Registry
	authStore *auth.AuthStore
	port      int
	metrics   *metrics.Metrics
	snapStore *snapshotstore.Store

	mu       sync.Mutex
	state    lifecycleState
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewSupervisor constructs a Supervisor listening on port once started. met
// and snap may both be nil.
func NewSupervisor(reg *registry.Registry, authStore *auth.AuthStore, port int, met *metrics.Metrics, snap *snapshotstore.Store) *Supervisor {
	return &Supervisor{registry: reg, authStore: authStore, port: port, metrics: met, snapStore: snap}
}

// Start binds the listener, optionally restores the backup snapshot, and
// launches the accept loop plus the three periodic tasks.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateRunning {
		return ErrAlreadyStarted
	}
	if s.state == stateStopped {
		return ErrAlreadyStopped
	}

	ln, err := net.Listen("tcp", ":"+strconv.Itoa(s.port))
	if err != nil {
		return fmt.Errorf("server: binding port %d: %w", s.port, err)
	}
	s.listener = ln

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = stateRunning

	if err := s.registry.RestoreBackup(runCtx); err != nil {
		logging.Warn("server: restoring backup: %v", err)
	}

	s.wg.Add(4)
	go s.acceptLoop(runCtx)
	go func() {
		defer s.wg.Done()
		registry.RunPeriodic(runCtx, "prune", s.registry.Prune)
	}()
	go func() {
		defer s.wg.Done()
		registry.RunPeriodic(runCtx, "federation", s.registry.Federate)
	}()
	go func() {
		defer s.wg.Done()
		registry.RunPeriodic(runCtx, "backup", s.runBackupTick)
	}()

	logging.Info("server: listening on :%d", s.port)
	return nil
}

// Stop cancels the periodic tasks and closes the listener. In-flight
// connections are allowed to drain to their next suspension point.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateUnstarted {
		return ErrNotStarted
	}
	if s.state == stateStopped {
		return ErrAlreadyStopped
	}

	s.state = stateStopped
	s.cancel()
	err := s.listener.Close()
	s.wg.Wait()
	return err
}

func (s *Supervisor) acceptLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				logging.Warn("server: accept: %v", err)
				return
			}
		}

		h := NewHandler(s.registry, s.authStore, conn, s.metrics)
		go h.Serve(ctx)
	}
}

// runBackupTick writes the flat backup file and, if a snapshot store is
// configured, mirrors the same current record set into Badger on the same
// 60s cadence.
func (s *Supervisor) runBackupTick(context.Context) error {
	if err := s.registry.WriteBackup(); err != nil {
		return err
	}
	if s.snapStore == nil {
		return nil
	}
	now := time.Now()
	for _, rec := range s.registry.Snapshot() {
		if err := s.snapStore.Record(rec.Identity, now); err != nil {
			return err
		}
	}
	return nil
}
