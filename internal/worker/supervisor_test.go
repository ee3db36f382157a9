package worker_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kneolab/kneobot/internal/config"
	"github.com/kneolab/kneobot/internal/worker"
)

var testWorkerConfig = config.WorkerConfig{
	StopTimeout:   2 * time.Second,
	VerifyTimeout: 2 * time.Second,
}

// blockingFactory produces fake clients whose polling loop blocks until
// cancelled, like the real one.
func blockingFactory(created *[]*fakeClient) worker.ClientFactory {
	return func(token string, onEvent worker.EventHandler) (worker.Client, error) {
		c := &fakeClient{username: "bot_" + token}
		if created != nil {
			*created = append(*created, c)
		}
		return c, nil
	}
}

func newTestSupervisor(t *testing.T, factory worker.ClientFactory) (*worker.Supervisor, *fixture) {
	t.Helper()

	fx := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	s := worker.NewSupervisor(ctx, fx.store, factory, testWorkerConfig, testMessages, nil)
	t.Cleanup(s.StopAll)
	return s, fx
}

func TestSupervisor_StartStop(t *testing.T) {
	t.Parallel()

	s, fx := newTestSupervisor(t, blockingFactory(nil))
	ctx := context.Background()

	if err := s.Start(ctx, fx.def); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !s.IsRunning(fx.def.Token) {
		t.Fatal("worker not registered after Start")
	}

	// Starting a running token is a no-op.
	if err := s.Start(ctx, fx.def); err != nil {
		t.Errorf("second Start failed: %v", err)
	}

	if !s.Stop(fx.def.Token) {
		t.Error("Stop of running worker returned false")
	}
	if s.IsRunning(fx.def.Token) {
		t.Error("worker still registered after Stop")
	}
	if s.Stop(fx.def.Token) {
		t.Error("second Stop returned true")
	}
}

func TestSupervisor_StopUnknownToken(t *testing.T) {
	t.Parallel()

	s, _ := newTestSupervisor(t, blockingFactory(nil))

	if s.Stop("never-started") {
		t.Error("Stop of unknown token returned true")
	}
}

func TestSupervisor_InvalidTokenNotRegistered(t *testing.T) {
	t.Parallel()

	factory := func(token string, onEvent worker.EventHandler) (worker.Client, error) {
		return &fakeClient{identErr: fmt.Errorf("401 unauthorized")}, nil
	}
	s, fx := newTestSupervisor(t, factory)

	err := s.Start(context.Background(), fx.def)
	if !errors.Is(err, worker.ErrTokenInvalid) {
		t.Fatalf("Start error = %v, want ErrTokenInvalid", err)
	}
	if s.IsRunning(fx.def.Token) {
		t.Error("worker registered despite failed identity check")
	}
}

func TestSupervisor_SelfDeregistrationOnLoopExit(t *testing.T) {
	t.Parallel()

	// A client whose polling loop returns immediately models a worker dying
	// on its own (revoked token, upstream failure).
	factory := func(token string, onEvent worker.EventHandler) (worker.Client, error) {
		return &dyingClient{fakeClient{username: "bot"}}, nil
	}
	s, fx := newTestSupervisor(t, factory)

	if err := s.Start(context.Background(), fx.def); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for s.IsRunning(fx.def.Token) {
		select {
		case <-deadline:
			t.Fatal("worker still registered after its loop exited")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSupervisor_StartAll(t *testing.T) {
	t.Parallel()

	var created []*fakeClient
	s, fx := newTestSupervisor(t, blockingFactory(&created))
	ctx := context.Background()

	// A second bot, active like the first; a third left inactive.
	secondID, err := fx.store.CreateBot(ctx, 100, "222:bbb", "secondbot")
	if err != nil {
		t.Fatalf("CreateBot failed: %v", err)
	}
	if _, err := fx.store.CreateBot(ctx, 100, "333:ccc", "thirdbot"); err != nil {
		t.Fatalf("CreateBot failed: %v", err)
	}
	for _, id := range []int64{fx.def.ID, secondID} {
		if err := fx.store.SetBotActive(ctx, id, true); err != nil {
			t.Fatalf("SetBotActive failed: %v", err)
		}
	}

	s.StartAll(ctx)

	if !s.IsRunning(fx.def.Token) || !s.IsRunning("222:bbb") {
		t.Error("active bots not running after StartAll")
	}
	if s.IsRunning("333:ccc") {
		t.Error("inactive bot running after StartAll")
	}
	if len(created) != 2 {
		t.Errorf("created %d clients, want 2", len(created))
	}

	s.StopAll()
	if s.IsRunning(fx.def.Token) || s.IsRunning("222:bbb") {
		t.Error("workers still registered after StopAll")
	}
}

// dyingClient is a fakeClient whose polling loop exits immediately.
type dyingClient struct {
	fakeClient
}

func (d *dyingClient) Run(ctx context.Context) {}
