package evm

import (
	"context"
	"log/slog"
	"sync"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/archon-research/chainguard/internal/domain/entity"
	"github.com/archon-research/chainguard/internal/ports/outbound"
)

func (g *Gateway) Subscribe(ctx context.Context, filter outbound.EventFilter) (outbound.EventSubscription, error) {
	names := filter.Events
	if len(names) == 0 {
		names = entity.ConsumedEvents
	}
	query := geth.FilterQuery{
		Addresses: []common.Address{g.config.ContractAddress},
		Topics:    [][]common.Hash{g.decoder.Topics(names)},
	}

	logs := make(chan types.Log, g.config.EventBuffer)
	sub, err := g.client.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return nil, classifyError("subscribe", err)
	}

	s := &logSubscription{
		sub:     sub,
		logs:    logs,
		decoder: g.decoder,
		account: filter.Account,
		events:  make(chan entity.LedgerEvent, g.config.EventBuffer),
		errs:    make(chan error, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		logger:  g.logger.With("subscription", filter.Account.Hex()),
	}
	go s.loop()

	g.logger.Info("subscribed to ledger events", "account", filter.Account.Hex(), "events", len(names))
	return s, nil
}

// logSubscription decodes raw logs into ledger events until released or the
// underlying subscription fails.
type logSubscription struct {
	sub     geth.Subscription
	logs    chan types.Log
	decoder *EventDecoder
	account common.Address

	events chan entity.LedgerEvent
	errs   chan error
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func (s *logSubscription) Events() <-chan entity.LedgerEvent { return s.events }
func (s *logSubscription) Err() <-chan error                { return s.errs }

// Unsubscribe stops delivery and waits for the decode loop to exit. No event
// is delivered after it returns.
func (s *logSubscription) Unsubscribe() {
	s.once.Do(func() { close(s.quit) })
	<-s.done
}

func (s *logSubscription) loop() {
	defer close(s.done)
	defer close(s.errs)
	defer close(s.events)
	defer s.sub.Unsubscribe()

	for {
		select {
		case <-s.quit:
			return
		case err, ok := <-s.sub.Err():
			if ok && err != nil {
				s.errs <- &entity.NetworkError{Op: "event subscription", Err: err}
			}
			return
		case log := <-s.logs:
			event, err := s.decoder.Decode(log)
			if err != nil {
				s.logger.Debug("skipping undecodable log", "txHash", log.TxHash.Hex(), "error", err)
				continue
			}
			if !s.wants(event) {
				continue
			}
			select {
			case s.events <- event:
			case <-s.quit:
				return
			}
		}
	}
}

// wants applies the advisory account filter. Global events always pass.
func (s *logSubscription) wants(event entity.LedgerEvent) bool {
	if s.account == (common.Address{}) || event.Subject == nil {
		return true
	}
	return *event.Subject == s.account
}
