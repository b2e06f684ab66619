package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/chainguard/internal/domain/entity"
	"github.com/archon-research/chainguard/internal/ports/inbound"
)

// HandlerConfig configures the read API.
type HandlerConfig struct {
	// Account is served when a request names none.
	Account common.Address

	// LiquidationThresholdBps is used for the derived health factor.
	LiquidationThresholdBps int64

	// RefreshTimeout bounds ?refresh=true requests. Default 30s.
	RefreshTimeout time.Duration

	Logger *slog.Logger
}

// Handler serves snapshots and feed health:
//   - GET /v1/snapshot[?account=0x..][&refresh=true]
//   - GET /v1/feeds
//
// Any published account can be read; only the configured account can be refreshed.
type Handler struct {
	positions inbound.PositionReader
	feeds     inbound.FeedReader
	config    HandlerConfig
	logger    *slog.Logger
}

// NewHandler creates the read API handler. feeds may be nil.
func NewHandler(config HandlerConfig, positions inbound.PositionReader, feeds inbound.FeedReader) (*Handler, error) {
	if positions == nil {
		return nil, errors.New("position reader is required")
	}
	if config.LiquidationThresholdBps == 0 {
		config.LiquidationThresholdBps = entity.DefaultProtocolConstants().LiquidationThresholdBps
	}
	if config.RefreshTimeout == 0 {
		config.RefreshTimeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Handler{
		positions: positions,
		feeds:     feeds,
		config:    config,
		logger:    config.Logger.With("component", "http-api"),
	}, nil
}

// RegisterRoutes registers the API routes with mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/snapshot", h.GetSnapshot)
	mux.HandleFunc("GET /v1/feeds", h.GetFeeds)
}

type snapshotResponse struct {
	*entity.AccountSnapshot
	RiskLevel      entity.RiskLevel  `json:"riskLevel"`
	HealthFactor   string            `json:"healthFactor"`
	HealthBand     entity.HealthBand `json:"healthBand"`
	EmergencyMode  bool              `json:"emergencyMode"`
	DegradedAssets []string          `json:"degradedAssets,omitempty"`
}

func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	account := h.config.Account
	if raw := r.URL.Query().Get("account"); raw != "" {
		if !common.IsHexAddress(raw) {
			h.respondError(w, http.StatusBadRequest, "Please enter a valid address")
			return
		}
		account = common.HexToAddress(raw)
	}
	if account == (common.Address{}) {
		h.respondError(w, http.StatusBadRequest, "account is required")
		return
	}

	var snap *entity.AccountSnapshot
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		if account != h.config.Account {
			h.respondError(w, http.StatusForbidden, "refresh is only available for the monitored account")
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), h.config.RefreshTimeout)
		defer cancel()
		s, err := h.positions.Refresh(ctx, account)
		if err != nil {
			h.logger.Warn("refresh failed", "account", account.Hex(), "error", err)
			h.respondError(w, http.StatusBadGateway, entity.UserMessage(err))
			return
		}
		snap = s
	} else {
		s, ok := h.positions.Snapshot(account)
		if !ok {
			h.respondError(w, http.StatusNotFound, "no snapshot published yet")
			return
		}
		snap = s
	}

	hf := snap.HealthFactor(h.config.LiquidationThresholdBps)
	respondJSON(w, h.logger, http.StatusOK, snapshotResponse{
		AccountSnapshot: snap,
		RiskLevel:       snap.RiskLevel(),
		HealthFactor:    entity.FormatHealthFactor(hf),
		HealthBand:      entity.ClassifyHealthFactor(hf),
		EmergencyMode:   snap.EmergencyMode(),
		DegradedAssets:  snap.DegradedAssets(),
	})
}

type feedsResponse struct {
	EmergencyMode  bool                 `json:"emergencyMode"`
	UnhealthyFeeds []string             `json:"unhealthyFeeds,omitempty"`
	Feeds          entity.FeedHealthSet `json:"feeds"`
}

func (h *Handler) GetFeeds(w http.ResponseWriter, r *http.Request) {
	if h.feeds == nil {
		h.respondError(w, http.StatusNotFound, "price monitoring is not enabled")
		return
	}
	latest := h.feeds.Latest()
	if latest == nil {
		h.respondError(w, http.StatusServiceUnavailable, "no price poll completed yet")
		return
	}
	respondJSON(w, h.logger, http.StatusOK, feedsResponse{
		EmergencyMode:  entity.EmergencyState(latest),
		UnhealthyFeeds: latest.Unhealthy(),
		Feeds:          latest,
	})
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, h.logger, status, map[string]string{"error": message})
}
