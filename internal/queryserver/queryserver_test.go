package queryserver

import (
	"net"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

func TestDispatchPing(t *testing.T) {
	s := New(Config{})
	reply, shutdown := s.dispatch("!ping")
	if shutdown {
		t.Fatalf("!ping should not trigger shutdown")
	}
	if string(reply) != "!pong" {
		t.Fatalf("reply = %q, want !pong", reply)
	}
}

func TestDispatchShutdown(t *testing.T) {
	var persisted bool
	s := New(Config{Hooks: Hooks{PersistConfig: func() error { persisted = true; return nil }}})
	reply, shutdown := s.dispatch("!shutdown")
	if !shutdown {
		t.Fatalf("!shutdown should trigger shutdown")
	}
	if string(reply) != "!bye" {
		t.Fatalf("reply = %q, want !bye", reply)
	}
	if !persisted {
		t.Fatalf("expected PersistConfig hook to run")
	}
}

func TestDispatchReload(t *testing.T) {
	var reloaded bool
	s := New(Config{Hooks: Hooks{ReloadConfig: func() error { reloaded = true; return nil }}})
	reply, shutdown := s.dispatch("!reload")
	if reply != nil || shutdown {
		t.Fatalf("!reload should have no reply and no shutdown")
	}
	if !reloaded {
		t.Fatalf("expected ReloadConfig hook to run")
	}
}

func TestDispatchCoordSentinel(t *testing.T) {
	s := New(Config{})
	reply, shutdown := s.dispatch("?99.0|99.0")
	if shutdown {
		t.Fatalf("coord query should not shut down")
	}
	var v bool
	if err := msgpack.Unmarshal(reply, &v); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if v != false {
		t.Fatalf("expected false sentinel for lat>98 and lon>98")
	}
}

func TestDispatchCoordWithNoSources(t *testing.T) {
	s := New(Config{})
	reply, _ := s.dispatch("?40.63|-73.78")

	var out map[string]any
	if err := msgpack.Unmarshal(reply, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	info, ok := out["info"].(map[string]any)
	if !ok {
		t.Fatalf("expected an info object, got %+v", out)
	}
	if info["gfs_cycle"] != "na" || info["wafs_cycle"] != "na" {
		t.Fatalf("expected na cycles with no grib yet, got %+v", info)
	}
	if _, ok := info["magnetic_variation_deg"].(float64); !ok {
		t.Fatalf("expected a numeric magnetic_variation_deg, got %+v", info)
	}
}

func TestDispatchICAOUnknown(t *testing.T) {
	s := New(Config{})
	reply, _ := s.dispatch("?KXXX")

	var out map[string]any
	if err := msgpack.Unmarshal(reply, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	m, ok := out["metar"].(map[string]any)
	if !ok {
		t.Fatalf("expected a metar object, got %+v", out)
	}
	if m["metar"] != "NOT AVAILABLE" {
		t.Fatalf("expected NOT AVAILABLE sentinel, got %+v", m)
	}
}

func TestParseCoordQuery(t *testing.T) {
	lat, lon, ok := parseCoordQuery("40.63|-73.78")
	if !ok || lat != 40.63 || lon != -73.78 {
		t.Fatalf("parseCoordQuery = (%v,%v,%v)", lat, lon, ok)
	}
	if _, _, ok := parseCoordQuery("KJFK"); ok {
		t.Fatalf("expected ok=false for a non-coordinate body")
	}
}

func TestListenAndServeAndPing(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:0"})
	if err := s.ListenAndServe(); err != nil {
		t.Fatalf("ListenAndServe: %v", err)
	}
	defer s.Stop()

	addr := s.conn.LocalAddr().(*net.UDPAddr)
	client, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer client.Close()

	if _, err := client.Write([]byte("!ping")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "!pong" {
		t.Fatalf("got %q, want !pong", buf[:n])
	}
}
