package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/load"
	"github.com/shirou/gopsutil/mem"

	"github.com/romashka-btc/espresso-sequencer/internal/app"
	"github.com/romashka-btc/espresso-sequencer/internal/consensus"
	"github.com/romashka-btc/espresso-sequencer/internal/datasource"
	"github.com/romashka-btc/espresso-sequencer/internal/metrics"
)

var errNoDecide = errors.New("no block has been decided yet")

type blockHeightResponse struct {
	BlockHeight uint64 `json:"block_height"`
}

type successRateResponse struct {
	SuccessRate float64 `json:"success_rate"`
}

type sinceDecideResponse struct {
	Seconds uint64 `json:"seconds"`
}

type mempoolResponse struct {
	TransactionCount uint64 `json:"transaction_count"`
	MemoryFootprint  uint64 `json:"memory_footprint"`
}

type nodeResponse struct {
	MemoryTotal       uint64  `json:"memory_total"`
	MemoryUsed        uint64  `json:"memory_used"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`
	Load1             float64 `json:"load1"`
	Load5             float64 `json:"load5"`
	Load15            float64 `json:"load15"`
}

type statusAPI struct {
	reader StatusReader
	log    *slog.Logger
	now    func() time.Time
	host   func(ctx context.Context) (nodeResponse, error)
}

// StatusModule serves node status derived from the consensus metrics.
func StatusModule(r StatusReader, log *slog.Logger) http.Handler { // A
	s := &statusAPI{
		reader: r,
		log:    log,
		now:    time.Now,
		host:   hostStats,
	}
	return s.routes()
}

func (s *statusAPI) routes() http.Handler { // AC
	mux := http.NewServeMux()
	mux.HandleFunc("GET /block-height", s.handleBlockHeight)
	mux.HandleFunc("GET /success-rate", s.handleSuccessRate)
	mux.HandleFunc("GET /time-since-last-decide", s.handleSinceDecide)
	mux.HandleFunc("GET /mempool-info", s.handleMempool)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /node", s.handleNode)
	return mux
}

func (s *statusAPI) handleBlockHeight(w http.ResponseWriter, r *http.Request) { // A
	var height uint64
	err := s.reader.ReadStatus(r.Context(), func(ds datasource.StatusDataSource) error {
		var err error
		height, err = ds.BlockHeight(r.Context())
		return err
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	app.WriteJSON(w, http.StatusOK, blockHeightResponse{BlockHeight: height})
}

// handleSuccessRate reports the share of views that ended in a decide.
func (s *statusAPI) handleSuccessRate(w http.ResponseWriter, r *http.Request) { // A
	var rate float64
	err := s.reader.ReadStatus(r.Context(), func(ds datasource.StatusDataSource) error {
		reg := ds.Metrics()
		current := gaugeValue(reg, consensus.MetricCurrentView)
		if current == 0 {
			return nil
		}
		rate = gaugeValue(reg, consensus.MetricLastDecidedView) / current
		return nil
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	app.WriteJSON(w, http.StatusOK, successRateResponse{SuccessRate: rate})
}

func (s *statusAPI) handleSinceDecide(w http.ResponseWriter, r *http.Request) { // A
	var last float64
	err := s.reader.ReadStatus(r.Context(), func(ds datasource.StatusDataSource) error {
		last = gaugeValue(ds.Metrics(), consensus.MetricLastDecidedTime)
		return nil
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	if last <= 0 {
		writeError(w, http.StatusNotFound, errNoDecide)
		return
	}

	elapsed := s.now().Unix() - int64(last)
	if elapsed < 0 {
		elapsed = 0
	}
	app.WriteJSON(w, http.StatusOK, sinceDecideResponse{Seconds: uint64(elapsed)})
}

func (s *statusAPI) handleMempool(w http.ResponseWriter, r *http.Request) { // A
	var resp mempoolResponse
	err := s.reader.ReadStatus(r.Context(), func(ds datasource.StatusDataSource) error {
		reg := ds.Metrics()
		resp.TransactionCount = uint64(gaugeValue(reg, consensus.MetricOutstandingTxs))
		resp.MemoryFootprint = uint64(gaugeValue(reg, consensus.MetricOutstandingTxsBytes))
		return nil
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	app.WriteJSON(w, http.StatusOK, resp)
}

func (s *statusAPI) handleMetrics(w http.ResponseWriter, r *http.Request) { // A
	var h http.Handler
	err := s.reader.ReadStatus(r.Context(), func(ds datasource.StatusDataSource) error {
		h = ds.Metrics().Handler()
		return nil
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	h.ServeHTTP(w, r)
}

func (s *statusAPI) handleNode(w http.ResponseWriter, r *http.Request) { // A
	resp, err := s.host(r.Context())
	if err != nil {
		s.log.Warn("failed to read host statistics", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	app.WriteJSON(w, http.StatusOK, resp)
}

func (s *statusAPI) fail(w http.ResponseWriter, err error) { // A
	if errors.Is(err, errUnavailable) {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.log.Warn("status request failed", "error", err)
	writeError(w, http.StatusInternalServerError, err)
}

func gaugeValue(reg *metrics.Registry, name string) float64 { // HC
	v, ok := reg.Value(name)
	if !ok || v < 0 {
		return 0
	}
	return v
}

func hostStats(ctx context.Context) (nodeResponse, error) { // A
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nodeResponse{}, fmt.Errorf("read memory: %w", err)
	}
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return nodeResponse{}, fmt.Errorf("read load average: %w", err)
	}

	return nodeResponse{
		MemoryTotal:       vm.Total,
		MemoryUsed:        vm.Used,
		MemoryUsedPercent: vm.UsedPercent,
		Load1:             avg.Load1,
		Load5:             avg.Load5,
		Load15:            avg.Load15,
	}, nil
}
