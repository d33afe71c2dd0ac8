package weft

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"path/filepath"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/weftlabs/weft/src/config"
	"github.com/weftlabs/weft/src/core"
	"github.com/weftlabs/weft/src/keys"
	"github.com/weftlabs/weft/src/service"
	"github.com/weftlabs/weft/src/store"
	"github.com/weftlabs/weft/src/transport"
)

// Weft is the top-level object that assembles an endpoint, its conduit
// and its HTTP service from a configuration object.
type Weft struct {
	Config   *config.Config
	Conduit  transport.Conduit
	Endpoint *core.Endpoint
	Service  *service.Service

	logger *logrus.Entry
}

// NewWeft instantiates an unitialized engine from configuration. Call
// Init before Run.
func NewWeft(config *config.Config) *Weft {
	engine := &Weft{
		Config: config,
	}

	return engine
}

func (w *Weft) initKey() error {
	if w.Config.Key == nil {
		keyfile := keys.NewKeyfile(w.Config.Keyfile())

		privKey, err := keyfile.ReadKey()

		if err != nil {
			w.logger.Warn("Cannot read private key from file", err)

			privKey, err = Keygen(w.Config.DataDir)

			if err != nil {
				w.logger.Error("Cannot generate a new private key", err)

				return err
			}

			w.logger.Info("Created a new key:", keys.PublicKeyHex(&privKey.PublicKey))
		}

		w.Config.Key = privKey
	}
	return nil
}

func (w *Weft) initConduit() error {
	stream, err := transport.NewTCPStreamLayer(
		w.Config.BindAddr,
		w.Config.AdvertiseAddr,
	)

	if err != nil {
		return err
	}

	w.Conduit = transport.NewTCPConduit(stream, w.Config.TCPTimeout, w.logger)

	return nil
}

func (w *Weft) initEndpoint() error {
	id := keys.EndpointID(&w.Config.Key.PublicKey)

	w.logger.WithFields(logrus.Fields{
		"id":      id,
		"addr":    w.Conduit.LocalAddr(),
		"moniker": w.Config.Moniker,
	}).Debug("ENDPOINT")

	endpoint, err := core.NewEndpoint(
		id,
		w.Conduit,
		w.Config.TransportOptions(),
		clock.New(),
		w.logger,
	)

	if err != nil {
		return fmt.Errorf("failed to initialize endpoint: %s", err)
	}

	w.Endpoint = endpoint

	return nil
}

func (w *Weft) initService() error {
	if !w.Config.NoService {
		w.Service = service.NewService(w.Config.ServiceAddr, w.Endpoint, w.logger)
	}
	return nil
}

// Init reads in the configuration and initialises the engine
// accordingly.
func (w *Weft) Init() error {
	w.logger = w.Config.Logger()

	if err := w.initKey(); err != nil {
		return err
	}

	if err := w.initConduit(); err != nil {
		return err
	}

	if err := w.initEndpoint(); err != nil {
		return err
	}

	if err := w.initService(); err != nil {
		return err
	}

	return nil
}

// Run serves the HTTP API and logs the endpoint's status events until
// Shutdown is called. This is a blocking call.
func (w *Weft) Run() {
	if w.Service != nil {
		go w.Service.Serve()
	}

	for ev := range w.Endpoint.Status() {
		w.logger.WithFields(logrus.Fields{
			"kind": ev.Kind.String(),
			"addr": ev.Addr,
			"id":   ev.ID,
		}).Info("Status")
	}
}

// Shutdown tears the endpoint down and unblocks Run.
func (w *Weft) Shutdown() {
	if w.Endpoint != nil {
		w.Endpoint.Shutdown()
	}
}

// AttachMaster attaches a master store to the endpoint, with a backend
// selected from configuration. With Store set, the backend is a Badger
// database under DatabaseDir, named after the store.
func (w *Weft) AttachMaster(name string) (*store.Master, error) {
	backend, err := w.masterBackend(name)
	if err != nil {
		return nil, err
	}

	return w.Endpoint.AttachMaster(name, backend)
}

func (w *Weft) masterBackend(name string) (store.Backend, error) {
	if !w.Config.Store {
		w.logger.Debug("created new in-mem store backend")

		return store.NewInmemBackend(), nil
	}

	path := filepath.Join(w.Config.DatabaseDir, name)

	w.logger.WithField("path", path).Debug("Attempting to load or create database")

	if err := os.MkdirAll(w.Config.DatabaseDir, 0700); err != nil {
		return nil, err
	}

	return store.NewBadgerBackend(path)
}

// Keygen generates a new private key under datadir, refusing to
// overwrite an existing one.
func Keygen(datadir string) (*ecdsa.PrivateKey, error) {
	keyfilePath := filepath.Join(datadir, config.DefaultKeyfile)

	if _, err := os.Stat(keyfilePath); err == nil {
		return nil, fmt.Errorf("another key already lives under %s", datadir)
	}

	privKey, err := keys.GenerateKey()

	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(datadir, 0700); err != nil {
		return nil, err
	}

	keyfile := keys.NewKeyfile(keyfilePath)

	if err := keyfile.WriteKey(privKey); err != nil {
		return nil, err
	}

	return privKey, nil
}
