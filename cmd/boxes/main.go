// Command boxes is a small demo: the server owns a board of wandering
// boxes and replicates them, clients shove boxes around with mapped
// events, and the server announces edge crossings back. Run one
// process with -mode server and any number with -mode client, or try
// the whole loop offline with -mode local.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"worldsync"
	"worldsync/logging"
	"worldsync/replay"
	"worldsync/telemetry"
	"worldsync/transport/ws"
	"worldsync/worldmem"
)

const (
	tickRate  = 20 // ticks per second
	boardHalf = 120.0
	pushScale = 8.0
)

func main() {
	mode := flag.String("mode", "local", "server, client or local")
	addr := flag.String("addr", ":8080", "listen address (server) or server address (client)")
	boxes := flag.Int("boxes", 8, "boxes on the board (server and local modes)")
	record := flag.String("record", "", "record outgoing diffs to this sqlite file")
	flag.Parse()

	logger, err := logging.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Setup(ctx, "boxes-"+*mode)
	if err != nil {
		logger.Fatalf("telemetry: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Printf("telemetry shutdown: %v", err)
		}
	}()

	cfg, err := worldsync.ConfigFromEnv()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	cfg.Logger = logger
	cfg.Metrics = telemetry.OtelMetrics(otel.Meter("worldsync/boxes"))

	switch *mode {
	case "server":
		err = runServer(ctx, logger, cfg, *addr, *boxes, *record)
	case "client":
		err = runClient(ctx, logger, cfg, *addr)
	case "local":
		err = runLocal(ctx, logger, cfg, *boxes)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}
	if err != nil {
		logger.Fatalf("%v", err)
	}
}

func runServer(ctx context.Context, logger *logrus.Logger, cfg worldsync.Config, addr string, boxes int, record string) error {
	if record != "" {
		rec, err := replay.Open(record)
		if err != nil {
			return fmt.Errorf("open recorder: %w", err)
		}
		defer rec.Close()
		cfg.Sink = rec
		logger.Printf("recording diffs to %s", record)
	}

	proto, move, scored := buildProtocol()
	world := worldmem.New()
	spawnBoxes(world, boxes)

	transport := ws.NewServer(proto.Channels(), ws.ServerConfig{Logger: logger})
	defer transport.Close()

	srv := worldsync.NewServer(proto, world, transport, cfg)

	mux := http.NewServeMux()
	mux.Handle("/ws", transport.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/diagnostics", func(w http.ResponseWriter, r *http.Request) {
		payload := struct {
			Status   string                         `json:"status"`
			Tick     worldsync.Tick                 `json:"tick"`
			Clients  []worldsync.ClientDiagnostics `json:"clients"`
			Counters telemetry.CountersSnapshot    `json:"counters"`
		}{
			Status:   "ok",
			Tick:     srv.Tick(),
			Clients:  srv.Diagnostics(),
			Counters: srv.Counters().Snapshot(),
		}
		data, err := json.Marshal(payload)
		if err != nil {
			http.Error(w, "failed to encode", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	httpSrv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		logger.Printf("server listening on %s", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ticker := time.NewTicker(time.Second / tickRate)
	defer ticker.Stop()

	var tick worldsync.Tick
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				logger.Printf("http shutdown: %v", err)
			}
			snap := srv.Counters().Snapshot()
			logger.Printf("served %d diffs (%d bytes), %d resyncs", snap.DiffsSent, snap.DiffBytes, snap.Resyncs)
			return nil
		case err := <-errCh:
			return fmt.Errorf("http server: %w", err)
		case <-ticker.C:
			tick++
			for _, in := range move.Drain(srv) {
				applyPush(logger, world, in)
			}
			wander(world)
			for _, box := range crossings(world) {
				err := scored.Send(srv, worldsync.ToClients[Scored]{
					Mode:  worldsync.Broadcast(),
					Event: Scored{Box: box, Points: 1},
				})
				if err != nil {
					logger.Printf("send scored: %v", err)
				}
			}
			if err := srv.Advance(tick); err != nil {
				return fmt.Errorf("advance tick %d: %w", tick, err)
			}
		}
	}
}

func runClient(ctx context.Context, logger *logrus.Logger, cfg worldsync.Config, addr string) error {
	proto, move, scored := buildProtocol()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	transport, err := ws.Dial(dialCtx, wsURL(addr), proto.Channels(), ws.ClientConfig{Logger: logger})
	cancel()
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer transport.Close()
	logger.Printf("connected as client %d", transport.ID())

	world := worldmem.New()
	client := worldsync.NewClient(proto, world, transport, cfg)

	ticker := time.NewTicker(time.Second / tickRate)
	defer ticker.Stop()

	var beats uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := client.Advance(); err != nil {
				if errors.Is(err, worldsync.ErrNotConnected) {
					return fmt.Errorf("server gone: %w", err)
				}
				return err
			}
			for _, ev := range scored.Receive(client) {
				logger.Printf("box %d crossed the edge (+%d)", ev.Box, ev.Points)
			}

			beats++
			if beats%tickRate == 0 {
				if box, ok := randomBox(world); ok {
					push := MoveBox{Box: box, DX: (rand.Float64() - 0.5) * pushScale, DY: (rand.Float64() - 0.5) * pushScale}
					if err := move.Emit(client, push); err != nil {
						logger.Printf("push box %d: %v", box, err)
					}
				}
			}
			if beats%(tickRate*2) == 0 {
				tick, _ := client.Tick()
				logger.Printf("tick %d: tracking %d boxes", tick, len(world.Entities()))
			}
		}
	}
}

func runLocal(ctx context.Context, logger *logrus.Logger, cfg worldsync.Config, boxes int) error {
	proto, move, scored := buildProtocol()
	world := worldmem.New()
	spawnBoxes(world, boxes)

	srv := worldsync.NewServer(proto, world, nil, cfg)

	ticker := time.NewTicker(time.Second / tickRate)
	defer ticker.Stop()

	ids := world.ReplicatedEntities()
	var tick worldsync.Tick
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			tick++
			if len(ids) > 0 && tick%tickRate == 0 {
				box := ids[rand.Intn(len(ids))]
				move.EmitLocal(srv, MoveBox{Box: box, DX: (rand.Float64() - 0.5) * pushScale, DY: (rand.Float64() - 0.5) * pushScale})
			}
			for _, in := range move.Drain(srv) {
				applyPush(logger, world, in)
			}
			wander(world)
			for _, box := range crossings(world) {
				err := scored.Send(srv, worldsync.ToClients[Scored]{
					Mode:  worldsync.Broadcast(),
					Event: Scored{Box: box, Points: 1},
				})
				if err != nil {
					logger.Printf("send scored: %v", err)
				}
			}
			for _, ev := range scored.Drain(srv) {
				logger.Printf("box %d crossed the edge (+%d)", ev.Box, ev.Points)
			}
			if err := srv.Advance(tick); err != nil {
				return fmt.Errorf("advance tick %d: %w", tick, err)
			}
		}
	}
}

func spawnBoxes(world *worldmem.World, n int) {
	palette := []Color{
		{R: 230, G: 80, B: 60},
		{R: 60, G: 180, B: 90},
		{R: 70, G: 110, B: 230},
		{R: 240, G: 200, B: 60},
	}
	for i := 0; i < n; i++ {
		id := world.SpawnReplicated()
		world.Set(id, &Position{
			X: (rand.Float64() - 0.5) * boardHalf,
			Y: (rand.Float64() - 0.5) * boardHalf,
		})
		color := palette[i%len(palette)]
		world.Set(id, &color)
	}
	// One box keeps its position to itself.
	hidden := world.SpawnReplicated()
	world.Set(hidden, &Position{})
	world.Set(hidden, &Color{R: 30, G: 30, B: 30})
	world.Set(hidden, &Frozen{})
}

func applyPush(logger telemetry.Logger, world *worldmem.World, in worldsync.FromClient[MoveBox]) {
	comp, ok := world.Get(in.Event.Box, "position")
	if !ok {
		logger.Printf("push from client %d for unknown box %d", in.Client, in.Event.Box)
		return
	}
	pos := comp.(*Position)
	pos.X += in.Event.DX
	pos.Y += in.Event.DY
}

func wander(world *worldmem.World) {
	for _, id := range world.ReplicatedEntities() {
		comp, ok := world.Get(id, "position")
		if !ok {
			continue
		}
		pos := comp.(*Position)
		pos.X += (rand.Float64() - 0.5) * 2
		pos.Y += (rand.Float64() - 0.5) * 2
	}
}

// crossings resets any box past the board edge and reports it.
func crossings(world *worldmem.World) []worldsync.EntityID {
	var crossed []worldsync.EntityID
	for _, id := range world.ReplicatedEntities() {
		comp, ok := world.Get(id, "position")
		if !ok {
			continue
		}
		pos := comp.(*Position)
		if math.Abs(pos.X) > boardHalf || math.Abs(pos.Y) > boardHalf {
			pos.X = 0
			pos.Y = 0
			crossed = append(crossed, id)
		}
	}
	return crossed
}

func randomBox(world *worldmem.World) (worldsync.EntityID, bool) {
	ids := world.Entities()
	rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	for _, id := range ids {
		if _, ok := world.Get(id, "position"); ok {
			return id, true
		}
	}
	return 0, false
}

func wsURL(addr string) string {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		return addr
	}
	if strings.HasPrefix(addr, ":") {
		return "ws://localhost" + addr + "/ws"
	}
	return "ws://" + addr + "/ws"
}
