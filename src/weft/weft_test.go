package weft

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/weftlabs/weft/src/config"
	"github.com/weftlabs/weft/src/keys"
	"github.com/weftlabs/weft/src/message"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	conf := config.NewTestConfig(t, logrus.ErrorLevel)
	conf.SetDataDir(t.TempDir())
	conf.BindAddr = "127.0.0.1:0"
	conf.NoService = true
	return conf
}

func TestKeygen(t *testing.T) {
	dir := t.TempDir()

	key, err := Keygen(dir)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Keygen(dir); err == nil {
		t.Fatal("expected a second keygen in the same directory to fail")
	}

	read, err := keys.NewKeyfile(filepath.Join(dir, config.DefaultKeyfile)).ReadKey()
	if err != nil {
		t.Fatal(err)
	}
	if read.D.Cmp(key.D) != 0 {
		t.Fatal("keys do not match")
	}
}

func TestInitReusesKey(t *testing.T) {
	conf := testConfig(t)

	engine := NewWeft(conf)
	if err := engine.Init(); err != nil {
		t.Fatal(err)
	}
	id := engine.Endpoint.ID()
	if id == 0 {
		t.Fatal("endpoint id should not be zero")
	}
	engine.Shutdown()

	// A second engine over the same datadir derives the same identity.
	conf2 := config.NewTestConfig(t, logrus.ErrorLevel)
	conf2.SetDataDir(conf.DataDir)
	conf2.BindAddr = "127.0.0.1:0"
	conf2.NoService = true

	engine2 := NewWeft(conf2)
	if err := engine2.Init(); err != nil {
		t.Fatal(err)
	}
	defer engine2.Shutdown()

	if engine2.Endpoint.ID() != id {
		t.Fatalf("got id %d, want %d", engine2.Endpoint.ID(), id)
	}
}

func TestBadgerMasterBackend(t *testing.T) {
	conf := testConfig(t)
	conf.Store = true

	engine := NewWeft(conf)
	if err := engine.Init(); err != nil {
		t.Fatal(err)
	}
	defer engine.Shutdown()

	master, err := engine.AttachMaster("prices")
	if err != nil {
		t.Fatal(err)
	}
	if err := master.Put(message.StringData("gold"), message.IntegerData(100),
		nil, time.Second); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(conf.DatabaseDir, "prices")); err != nil {
		t.Fatalf("badger directory missing: %v", err)
	}

	v, err := master.Get(message.StringData("gold"), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Equal(message.IntegerData(100)) {
		t.Fatalf("got %s, want 100", v)
	}
}

func TestTwoEnginesOverTCP(t *testing.T) {
	e1 := NewWeft(testConfig(t))
	if err := e1.Init(); err != nil {
		t.Fatal(err)
	}
	defer e1.Shutdown()

	e2 := NewWeft(testConfig(t))
	if err := e2.Init(); err != nil {
		t.Fatal(err)
	}
	defer e2.Shutdown()

	if err := e1.Endpoint.PeerWith(e2.Endpoint.LocalAddr()); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		for _, p := range e1.Endpoint.Peers() {
			if p.Peered {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for peering over TCP")
}
