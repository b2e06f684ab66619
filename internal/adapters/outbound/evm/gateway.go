// Package evm implements the ledger gateway over an Ethereum JSON-RPC client.
package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/archon-research/chainguard/internal/domain/entity"
	"github.com/archon-research/chainguard/internal/pkg/blockchain/abis"
	"github.com/archon-research/chainguard/internal/ports/outbound"
)

var _ outbound.LedgerGateway = (*Gateway)(nil)

// Client is the subset of *ethclient.Client the gateway uses.
type Client interface {
	CallContract(ctx context.Context, msg geth.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg geth.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	SubscribeFilterLogs(ctx context.Context, q geth.FilterQuery, ch chan<- types.Log) (geth.Subscription, error)
}

// Gateway talks to the lending pool contract. It holds no domain state and
// never retries.
type Gateway struct {
	client  Client
	signer  outbound.TxSigner
	abi     *abi.ABI
	decoder *EventDecoder
	config  Config
	limiter *rate.Limiter
	tracer  trace.Tracer
	logger  *slog.Logger

	// sendMu serializes nonce lookup and broadcast.
	sendMu sync.Mutex

	// Call messages of submitted transactions, for replaying failed ones.
	pendingMu sync.Mutex
	pending   map[common.Hash]geth.CallMsg

	now func() time.Time
}

// NewGateway creates a gateway. signer may be nil for a read-only gateway.
func NewGateway(client Client, signer outbound.TxSigner, config Config) (*Gateway, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if config.ContractAddress == (common.Address{}) {
		return nil, fmt.Errorf("contract address is required")
	}
	config = config.withDefaults()

	parsed, err := abis.GetLendingPoolABI()
	if err != nil {
		return nil, fmt.Errorf("failed to parse lending pool ABI: %w", err)
	}
	decoder, err := NewEventDecoder(parsed)
	if err != nil {
		return nil, err
	}

	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}

	return &Gateway{
		client:  client,
		signer:  signer,
		abi:     parsed,
		decoder: decoder,
		config:  config,
		limiter: rate.NewLimiter(limit, 1),
		tracer:  otel.Tracer("chainguard/ledger"),
		logger:  config.Logger.With("component", "ledger-gateway"),
		pending: make(map[common.Hash]geth.CallMsg),
		now:     time.Now,
	}, nil
}

// Account returns the signing account, or the zero address for a read-only gateway.
func (g *Gateway) Account() common.Address {
	if g.signer == nil {
		return common.Address{}
	}
	return g.signer.Address()
}

func (g *Gateway) Query(ctx context.Context, method string, args ...any) ([]any, error) {
	ctx, span := g.tracer.Start(ctx, "ledger.query", trace.WithAttributes(attribute.String("method", method)))
	defer span.End()

	op := "query " + method
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, g.fail(span, classifyError(op, err))
	}

	data, err := g.abi.Pack(method, args...)
	if err != nil {
		return nil, g.fail(span, fmt.Errorf("pack %s: %w", method, err))
	}

	msg := geth.CallMsg{From: g.Account(), To: &g.config.ContractAddress, Data: data}
	raw, err := g.client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, g.fail(span, classifyError(op, err))
	}

	out, err := g.abi.Unpack(method, raw)
	if err != nil {
		return nil, g.fail(span, fmt.Errorf("unpack %s: %w", method, err))
	}
	return out, nil
}

func (g *Gateway) Submit(ctx context.Context, req outbound.SubmitRequest) (*entity.PendingAction, error) {
	method := req.MethodName()
	ctx, span := g.tracer.Start(ctx, "ledger.submit", trace.WithAttributes(
		attribute.String("method", method),
		attribute.String("kind", string(req.Kind)),
	))
	defer span.End()

	if g.signer == nil {
		return nil, g.fail(span, fmt.Errorf("submit %s: gateway has no signer", method))
	}
	if method == "" {
		return nil, g.fail(span, fmt.Errorf("submit: no contract method for action %q", req.Kind))
	}

	data, err := g.abi.Pack(method, req.Args...)
	if err != nil {
		return nil, g.fail(span, fmt.Errorf("pack %s: %w", method, err))
	}

	from := g.signer.Address()
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	msg := geth.CallMsg{From: from, To: &g.config.ContractAddress, Value: value, Data: data}
	op := "submit " + method

	// Estimation executes the call, so a doomed write reverts here without
	// spending gas.
	estimate, err := g.client.EstimateGas(ctx, msg)
	if err != nil {
		return nil, g.fail(span, classifyError(op, err))
	}
	gasLimit := estimate + estimate*g.config.GasHeadroomPercent/100
	if ceiling := req.Kind.GasLimit(); ceiling > 0 && gasLimit > ceiling {
		gasLimit = max(ceiling, estimate)
	}

	g.sendMu.Lock()
	defer g.sendMu.Unlock()

	nonce, err := g.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, g.fail(span, classifyError(op, err))
	}
	tip, err := g.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, g.fail(span, classifyError(op, err))
	}
	head, err := g.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, g.fail(span, classifyError(op, err))
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   g.config.ChainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &g.config.ContractAddress,
		Value:     value,
		Data:      data,
	})
	signed, err := g.signer.SignTx(tx, g.config.ChainID)
	if err != nil {
		return nil, g.fail(span, fmt.Errorf("sign %s: %w", method, err))
	}
	if err := g.client.SendTransaction(ctx, signed); err != nil {
		return nil, g.fail(span, classifyError(op, err))
	}

	g.pendingMu.Lock()
	g.pending[signed.Hash()] = msg
	g.pendingMu.Unlock()

	span.SetAttributes(attribute.String("tx_hash", signed.Hash().Hex()))
	g.logger.Info("transaction submitted",
		"kind", req.Kind,
		"method", method,
		"txHash", signed.Hash().Hex(),
		"nonce", nonce,
		"gas", gasLimit)

	return &entity.PendingAction{
		ID:          uuid.New(),
		Kind:        req.Kind,
		Account:     from,
		SubmittedAt: g.now(),
		TxHash:      signed.Hash(),
	}, nil
}

func (g *Gateway) AwaitSettlement(ctx context.Context, action *entity.PendingAction) (*entity.Receipt, error) {
	ctx, span := g.tracer.Start(ctx, "ledger.await_settlement", trace.WithAttributes(
		attribute.String("tx_hash", action.TxHash.Hex()),
	))
	defer span.End()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.SettlementTimeout)
		defer cancel()
	}

	start := g.now()
	ticker := time.NewTicker(g.config.ReceiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := g.client.TransactionReceipt(ctx, action.TxHash)
		if err == nil {
			return g.settle(ctx, span, action, receipt)
		}
		if !errors.Is(err, geth.NotFound) && ctx.Err() == nil {
			g.logger.Debug("receipt poll failed", "txHash", action.TxHash.Hex(), "error", err)
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil, g.fail(span, fmt.Errorf("await settlement %s: %w", action.TxHash.Hex(), ctx.Err()))
			}
			return nil, g.fail(span, &entity.TimeoutError{
				Op:     "await settlement",
				TxHash: action.TxHash,
				After:  g.now().Sub(start),
			})
		case <-ticker.C:
		}
	}
}

func (g *Gateway) settle(ctx context.Context, span trace.Span, action *entity.PendingAction, receipt *types.Receipt) (*entity.Receipt, error) {
	g.pendingMu.Lock()
	msg, known := g.pending[action.TxHash]
	delete(g.pending, action.TxHash)
	g.pendingMu.Unlock()

	var block uint64
	if receipt.BlockNumber != nil {
		block = receipt.BlockNumber.Uint64()
	}
	out := &entity.Receipt{
		TxHash:      action.TxHash,
		BlockNumber: block,
		Status:      receipt.Status,
		GasUsed:     receipt.GasUsed,
	}
	if out.Succeeded() {
		return out, nil
	}

	reason := ""
	if known {
		// Replaying the call at the mined block recovers the revert reason.
		if _, err := g.client.CallContract(ctx, msg, receipt.BlockNumber); err != nil {
			reason, _ = revertReason(err)
		}
	}
	g.logger.Warn("transaction reverted", "txHash", action.TxHash.Hex(), "block", block, "reason", reason)
	return nil, g.fail(span, entity.NewRevertedError(reason))
}

func (g *Gateway) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
