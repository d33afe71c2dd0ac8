package service

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/weftlabs/weft/src/core"
)

// Service is the HTTP API of a Weft endpoint.
type Service struct {
	sync.Mutex

	bindAddress string
	endpoint    *core.Endpoint
	logger      *logrus.Entry
}

// NewService instantiates the service and registers its handlers.
func NewService(bindAddress string, endpoint *core.Endpoint, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		endpoint:    endpoint,
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

// registerHandlers registers the API handlers with the DefaultServerMux of the
// http package. It is possible that another server in the same process is
// simultaneously using the DefaultServerMux. In which case, the handlers will
// be accessible from both servers. This is usefull when Weft is used in-memory
// and expected to use the same endpoint (address:port) as the application's
// API.
func (s *Service) registerHandlers() {
	s.logger.Debug("Registering Weft API handlers")
	http.HandleFunc("/id", s.makeHandler(s.GetID))
	http.HandleFunc("/stats", s.makeHandler(s.GetStats))
	http.HandleFunc("/peers", s.makeHandler(s.GetPeers))
	http.HandleFunc("/stores", s.makeHandler(s.GetStores))
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Serve calls ListenAndServe. This is a blocking call. It is not necessary to
// call Serve when Weft is used in-memory and another server has already been
// started with the DefaultServerMux and the same address:port combination.
// Indeed, Weft API handlers have already been registered when the service was
// instantiated.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving Weft API")

	// Use the DefaultServerMux
	err := http.ListenAndServe(s.bindAddress, nil)
	if err != nil {
		s.logger.Error(err)
	}
}

// GetID returns the endpoint's overlay id and listening address.
func (s *Service) GetID(w http.ResponseWriter, r *http.Request) {
	res := map[string]interface{}{
		"id":   s.endpoint.ID(),
		"addr": s.endpoint.LocalAddr(),
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(res)
}

// GetStats returns the endpoint's statistics, including one section per
// attached store.
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := s.endpoint.Stats()

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(stats)
}

// GetStores returns the name, role and entity id of every attached store.
func (s *Service) GetStores(w http.ResponseWriter, r *http.Request) {
	type storeView struct {
		Name   string `json:"name"`
		Role   string `json:"role"`
		Entity string `json:"entity"`
	}

	stores := s.endpoint.Stores()

	res := make([]storeView, 0, len(stores))
	for _, st := range stores {
		res = append(res, storeView{
			Name:   st.Name,
			Role:   st.Role,
			Entity: st.Entity.String(),
		})
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(res)
}

// GetPeers returns a view of the endpoint's neighbors, including the topics
// each of them asked for.
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	type peerView struct {
		Addr   string   `json:"addr"`
		ID     string   `json:"id"`
		Peered bool     `json:"peered"`
		Topics []string `json:"topics"`
	}

	peers := s.endpoint.Peers()

	res := make([]peerView, 0, len(peers))
	for _, p := range peers {
		topics := make([]string, 0, len(p.Filter))
		for _, t := range p.Filter {
			topics = append(topics, string(t))
		}
		res = append(res, peerView{
			Addr:   p.Addr,
			ID:     p.ID.String(),
			Peered: p.Peered,
			Topics: topics,
		})
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(res)
}
