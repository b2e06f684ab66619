package evm

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"

	"github.com/archon-research/chainguard/internal/domain/entity"
	"github.com/archon-research/chainguard/internal/pkg/blockchain/abis"
	"github.com/archon-research/chainguard/internal/ports/outbound"
)

var (
	testContract = common.HexToAddress("0x957c8f2527f9f7a8ad53ae7d76dcd435108b27d3")
	testUser     = common.HexToAddress("0x1111111111111111111111111111111111111111")
	otherUser    = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

// fakeClient implements Client with overridable function fields.
type fakeClient struct {
	mu sync.Mutex

	CallContractFn       func(ctx context.Context, msg geth.CallMsg, block *big.Int) ([]byte, error)
	EstimateGasFn        func(ctx context.Context, msg geth.CallMsg) (uint64, error)
	TransactionReceiptFn func(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	SubscribeFn          func(ctx context.Context, q geth.FilterQuery, ch chan<- types.Log) (geth.Subscription, error)

	sent []*types.Transaction
}

func (f *fakeClient) CallContract(ctx context.Context, msg geth.CallMsg, block *big.Int) ([]byte, error) {
	return f.CallContractFn(ctx, msg, block)
}

func (f *fakeClient) EstimateGas(ctx context.Context, msg geth.CallMsg) (uint64, error) {
	if f.EstimateGasFn != nil {
		return f.EstimateGasFn(ctx, msg)
	}
	return 100_000, nil
}

func (f *fakeClient) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 7, nil
}

func (f *fakeClient) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeClient) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(10_000_000_000)}, nil
}

func (f *fakeClient) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return f.TransactionReceiptFn(ctx, hash)
}

func (f *fakeClient) SubscribeFilterLogs(ctx context.Context, q geth.FilterQuery, ch chan<- types.Log) (geth.Subscription, error) {
	return f.SubscribeFn(ctx, q, ch)
}

// rpcDataError mimics the JSON-RPC error go-ethereum returns for reverts.
type rpcDataError struct {
	msg  string
	data string
}

func (e *rpcDataError) Error() string          { return e.msg }
func (e *rpcDataError) ErrorData() interface{} { return e.data }

func revertData(t *testing.T, reason string) string {
	t.Helper()
	errorSig := crypto.Keccak256([]byte("Error(string)"))[:4]
	strType, _ := abi.NewType("string", "", nil)
	packed, err := abi.Arguments{{Type: strType}}.Pack(reason)
	if err != nil {
		t.Fatalf("pack revert: %v", err)
	}
	return "0x" + hex.EncodeToString(append(errorSig, packed...))
}

func newTestGateway(t *testing.T, client Client, signer outbound.TxSigner) *Gateway {
	t.Helper()
	gw, err := NewGateway(client, signer, Config{
		ContractAddress:     testContract,
		ReceiptPollInterval: time.Millisecond,
		SettlementTimeout:   time.Second,
	})
	if err != nil {
		t.Fatalf("failed to create gateway: %v", err)
	}
	return gw
}

func newTestSigner(t *testing.T) *KeySigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := NewKeySigner("0x" + hex.EncodeToString(crypto.FromECDSA(key)))
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	return signer
}

func TestNewGateway_Validation(t *testing.T) {
	if _, err := NewGateway(nil, nil, Config{ContractAddress: testContract}); err == nil {
		t.Error("expected error for nil client")
	}
	if _, err := NewGateway(&fakeClient{}, nil, Config{}); err == nil {
		t.Error("expected error for missing contract address")
	}
}

func TestQuery_PacksAndUnpacks(t *testing.T) {
	parsed, _ := abis.GetLendingPoolABI()
	var gotTo common.Address
	client := &fakeClient{
		CallContractFn: func(_ context.Context, msg geth.CallMsg, _ *big.Int) ([]byte, error) {
			gotTo = *msg.To
			return parsed.Methods["checkUserAccess"].Outputs.Pack(true)
		},
	}
	gw := newTestGateway(t, client, nil)

	out, err := gw.Query(context.Background(), "checkUserAccess", testUser)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0] != true {
		t.Errorf("expected [true], got %v", out)
	}
	if gotTo != testContract {
		t.Errorf("expected call to %s, got %s", testContract.Hex(), gotTo.Hex())
	}
}

func TestQuery_ClassifiesErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCause entity.RevertCause
		check     func(error) bool
	}{
		{
			name:      "revert with encoded reason",
			err:       &rpcDataError{msg: "execution reverted", data: ""},
			wantCause: entity.CauseUnrecognized,
			check:     func(err error) bool { return errors.Is(err, entity.ErrReverted) },
		},
		{
			name:      "revert reason in message",
			err:       errors.New("execution reverted: Price data is stale"),
			wantCause: entity.CausePriceDataUnavailable,
			check:     func(err error) bool { return errors.Is(err, entity.ErrReverted) },
		},
		{
			name:  "transport failure",
			err:   errors.New("dial tcp 127.0.0.1:8545: connect: connection refused"),
			check: func(err error) bool { return errors.Is(err, entity.ErrNetwork) },
		},
		{
			name:  "deadline",
			err:   context.DeadlineExceeded,
			check: func(err error) bool { return errors.Is(err, entity.ErrTimeout) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{
				CallContractFn: func(context.Context, geth.CallMsg, *big.Int) ([]byte, error) {
					return nil, tt.err
				},
			}
			gw := newTestGateway(t, client, nil)

			_, err := gw.Query(context.Background(), "checkUserAccess", testUser)
			if !tt.check(err) {
				t.Fatalf("unexpected classification: %v", err)
			}
			var reverted *entity.RevertedError
			if errors.As(err, &reverted) && reverted.Cause != tt.wantCause {
				t.Errorf("expected cause %s, got %s", tt.wantCause, reverted.Cause)
			}
		})
	}
}

func TestQuery_DecodesRevertData(t *testing.T) {
	client := &fakeClient{
		CallContractFn: func(context.Context, geth.CallMsg, *big.Int) ([]byte, error) {
			return nil, &rpcDataError{msg: "execution reverted", data: revertData(t, "Invalid DID")}
		},
	}
	gw := newTestGateway(t, client, nil)

	_, err := gw.Query(context.Background(), "getLatestPrice", big.NewInt(1))
	var reverted *entity.RevertedError
	if !errors.As(err, &reverted) {
		t.Fatalf("expected RevertedError, got %v", err)
	}
	if reverted.Reason != "Invalid DID" || reverted.Cause != entity.CauseInvalidIdentifier {
		t.Errorf("unexpected revert %+v", reverted)
	}
}

func TestSubmit_RequiresSigner(t *testing.T) {
	gw := newTestGateway(t, &fakeClient{}, nil)
	_, err := gw.Submit(context.Background(), outbound.SubmitRequest{Kind: entity.ActionBorrow, Args: []any{big.NewInt(1)}})
	if err == nil {
		t.Fatal("expected error without signer")
	}
}

func TestSubmit_SignsAndBroadcasts(t *testing.T) {
	client := &fakeClient{
		EstimateGasFn: func(context.Context, geth.CallMsg) (uint64, error) { return 290_000, nil },
	}
	signer := newTestSigner(t)
	gw := newTestGateway(t, client, signer)

	action, err := gw.Submit(context.Background(), outbound.SubmitRequest{
		Kind: entity.ActionBorrow,
		Args: []any{big.NewInt(1_000_000_000_000_000)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.sent) != 1 {
		t.Fatalf("expected 1 sent transaction, got %d", len(client.sent))
	}
	tx := client.sent[0]
	if action.TxHash != tx.Hash() {
		t.Errorf("expected pending action hash %s, got %s", tx.Hash().Hex(), action.TxHash.Hex())
	}
	if action.Account != signer.Address() || action.Kind != entity.ActionBorrow {
		t.Errorf("unexpected pending action %+v", action)
	}
	// 290000 + 20% exceeds the borrow ceiling, which still covers the estimate.
	if tx.Gas() != 300_000 {
		t.Errorf("expected gas 300000, got %d", tx.Gas())
	}
	if tx.Nonce() != 7 {
		t.Errorf("expected nonce 7, got %d", tx.Nonce())
	}
	sender, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil || sender != signer.Address() {
		t.Errorf("expected tx signed by %s, got %s (%v)", signer.Address().Hex(), sender.Hex(), err)
	}
}

func TestSubmit_RevertDuringEstimate(t *testing.T) {
	client := &fakeClient{
		EstimateGasFn: func(context.Context, geth.CallMsg) (uint64, error) {
			return 0, errors.New("execution reverted: Insufficient collateral")
		},
	}
	gw := newTestGateway(t, client, newTestSigner(t))

	_, err := gw.Submit(context.Background(), outbound.SubmitRequest{Kind: entity.ActionBorrow, Args: []any{big.NewInt(1)}})
	var reverted *entity.RevertedError
	if !errors.As(err, &reverted) || reverted.Cause != entity.CauseInsufficientCollateral {
		t.Fatalf("expected insufficient collateral revert, got %v", err)
	}
	if len(client.sent) != 0 {
		t.Errorf("expected nothing broadcast, got %d", len(client.sent))
	}
}

func TestAwaitSettlement(t *testing.T) {
	hash := common.HexToHash("0xabc")

	t.Run("mined after polling", func(t *testing.T) {
		polls := 0
		client := &fakeClient{
			TransactionReceiptFn: func(context.Context, common.Hash) (*types.Receipt, error) {
				polls++
				if polls < 3 {
					return nil, geth.NotFound
				}
				return &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(42), GasUsed: 21000}, nil
			},
		}
		gw := newTestGateway(t, client, nil)

		receipt, err := gw.AwaitSettlement(context.Background(), &entity.PendingAction{TxHash: hash})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if receipt.BlockNumber != 42 || !receipt.Succeeded() {
			t.Errorf("unexpected receipt %+v", receipt)
		}
	})

	t.Run("failed receipt replays for reason", func(t *testing.T) {
		var replayBlock *big.Int
		client := &fakeClient{
			TransactionReceiptFn: func(context.Context, common.Hash) (*types.Receipt, error) {
				return &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(43)}, nil
			},
			CallContractFn: func(_ context.Context, _ geth.CallMsg, block *big.Int) ([]byte, error) {
				replayBlock = block
				return nil, errors.New("execution reverted: USDC price below minimum")
			},
		}
		gw := newTestGateway(t, client, nil)
		gw.pending[hash] = geth.CallMsg{To: &testContract}

		_, err := gw.AwaitSettlement(context.Background(), &entity.PendingAction{TxHash: hash})
		var reverted *entity.RevertedError
		if !errors.As(err, &reverted) || reverted.Cause != entity.CauseMarketInstability {
			t.Fatalf("expected market instability revert, got %v", err)
		}
		if replayBlock == nil || replayBlock.Int64() != 43 {
			t.Errorf("expected replay at block 43, got %v", replayBlock)
		}
	})

	t.Run("bounded wait", func(t *testing.T) {
		client := &fakeClient{
			TransactionReceiptFn: func(context.Context, common.Hash) (*types.Receipt, error) {
				return nil, geth.NotFound
			},
		}
		gw := newTestGateway(t, client, nil)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := gw.AwaitSettlement(ctx, &entity.PendingAction{TxHash: hash})
		var timeout *entity.TimeoutError
		if !errors.As(err, &timeout) {
			t.Fatalf("expected TimeoutError, got %v", err)
		}
		if timeout.TxHash != hash {
			t.Errorf("expected tx hash %s, got %s", hash.Hex(), timeout.TxHash.Hex())
		}
	})

	t.Run("caller cancel is not a timeout", func(t *testing.T) {
		client := &fakeClient{
			TransactionReceiptFn: func(context.Context, common.Hash) (*types.Receipt, error) {
				return nil, geth.NotFound
			},
		}
		gw := newTestGateway(t, client, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := gw.AwaitSettlement(ctx, &entity.PendingAction{TxHash: hash})
		if !errors.Is(err, context.Canceled) || errors.Is(err, entity.ErrTimeout) {
			t.Fatalf("expected cancellation, got %v", err)
		}
	})
}

func didVerifiedLog(t *testing.T, user common.Address, did string, score int64) types.Log {
	t.Helper()
	parsed, _ := abis.GetLendingPoolABI()
	ev := parsed.Events["DIDVerified"]
	data, err := ev.Inputs.NonIndexed().Pack(did, big.NewInt(score))
	if err != nil {
		t.Fatalf("pack log data: %v", err)
	}
	return types.Log{
		Address:     testContract,
		Topics:      []common.Hash{ev.ID, common.BytesToHash(user.Bytes())},
		Data:        data,
		BlockNumber: 100,
		Index:       3,
	}
}

func interestRateLog(t *testing.T, asset string, rate int64) types.Log {
	t.Helper()
	parsed, _ := abis.GetLendingPoolABI()
	ev := parsed.Events["InterestRateUpdated"]
	data, err := ev.Inputs.NonIndexed().Pack(asset, big.NewInt(rate))
	if err != nil {
		t.Fatalf("pack log data: %v", err)
	}
	return types.Log{Address: testContract, Topics: []common.Hash{ev.ID}, Data: data, BlockNumber: 101}
}

func TestEventDecoder_Decode(t *testing.T) {
	parsed, _ := abis.GetLendingPoolABI()
	decoder, err := NewEventDecoder(parsed)
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}

	event, err := decoder.Decode(didVerifiedLog(t, testUser, "user123", 750))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.Name != entity.EventDIDVerified {
		t.Errorf("expected DIDVerified, got %s", event.Name)
	}
	if event.Subject == nil || *event.Subject != testUser {
		t.Errorf("expected subject %s, got %v", testUser.Hex(), event.Subject)
	}
	if event.DID != "user123" || event.CreditScore.Int64() != 750 {
		t.Errorf("unexpected payload did=%q score=%v", event.DID, event.CreditScore)
	}

	global, err := decoder.Decode(interestRateLog(t, "ETH", 650))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !global.Global() || global.Asset != "ETH" || global.RateBps.Int64() != 650 {
		t.Errorf("unexpected global event %+v", global)
	}

	if _, err := decoder.Decode(types.Log{Topics: []common.Hash{common.HexToHash("0x01")}}); err == nil {
		t.Error("expected error for unknown topic")
	}
}

func TestSubscribe_FiltersAndReleases(t *testing.T) {
	var logs chan<- types.Log
	var query geth.FilterQuery
	ready := make(chan struct{})
	client := &fakeClient{
		SubscribeFn: func(_ context.Context, q geth.FilterQuery, ch chan<- types.Log) (geth.Subscription, error) {
			query = q
			logs = ch
			close(ready)
			return event.NewSubscription(func(quit <-chan struct{}) error {
				<-quit
				return nil
			}), nil
		},
	}
	gw := newTestGateway(t, client, nil)

	sub, err := gw.Subscribe(context.Background(), outbound.EventFilter{Account: testUser})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	<-ready
	if len(query.Addresses) != 1 || query.Addresses[0] != testContract {
		t.Errorf("expected filter on contract, got %v", query.Addresses)
	}
	if len(query.Topics) != 1 || len(query.Topics[0]) != len(entity.ConsumedEvents) {
		t.Errorf("expected %d event topics, got %v", len(entity.ConsumedEvents), query.Topics)
	}

	logs <- didVerifiedLog(t, otherUser, "user456", 800)
	logs <- didVerifiedLog(t, testUser, "user123", 750)
	logs <- interestRateLog(t, "BTC", 700)

	first := <-sub.Events()
	if first.Subject == nil || *first.Subject != testUser {
		t.Fatalf("expected other account's event to be filtered, got %+v", first)
	}
	second := <-sub.Events()
	if second.Name != entity.EventInterestRateUpdated {
		t.Fatalf("expected global event, got %s", second.Name)
	}

	sub.Unsubscribe()
	sub.Unsubscribe()
	if _, ok := <-sub.Events(); ok {
		t.Error("expected events channel closed after Unsubscribe")
	}
}

func TestSubscribe_SurfacesStreamError(t *testing.T) {
	client := &fakeClient{
		SubscribeFn: func(context.Context, geth.FilterQuery, chan<- types.Log) (geth.Subscription, error) {
			return event.NewSubscription(func(<-chan struct{}) error {
				return errors.New("websocket: close 1006")
			}), nil
		},
	}
	gw := newTestGateway(t, client, nil)

	sub, err := gw.Subscribe(context.Background(), outbound.EventFilter{})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	select {
	case err := <-sub.Err():
		if !errors.Is(err, entity.ErrNetwork) {
			t.Errorf("expected NetworkError, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected subscription error")
	}
}
