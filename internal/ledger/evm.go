package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

type EVMConfig struct {
	RPCURL       string
	Contract     string
	PrivateKey   string // hex, optional 0x prefix
	ChainID      int64  // 0 => ask the node
	PollInterval time.Duration
}

// EVMClient talks to the Crucible contract over JSON-RPC.
// It holds the arbiter account; writes are serialized so nonces stay ordered.
type EVMClient struct {
	client   *ethclient.Client
	address  common.Address
	abi      abi.ABI
	contract *bind.BoundContract
	auth     *bind.TransactOpts
	poll     time.Duration
	log      *slog.Logger

	txMu sync.Mutex
}

var _ Ledger = (*EVMClient)(nil)

func DialEVM(ctx context.Context, cfg EVMConfig, log *slog.Logger) (*EVMClient, error) {
	if log == nil {
		log = slog.Default()
	}
	if !common.IsHexAddress(cfg.Contract) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.Contract)
	}

	parsed, err := abi.JSON(strings.NewReader(crucibleABI))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("arbiter key: %w", err)
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		chainID, err = client.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("chain id: %w", err)
		}
	}

	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("transactor: %w", err)
	}

	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}

	address := common.HexToAddress(cfg.Contract)
	c := &EVMClient{
		client:   client,
		address:  address,
		abi:      parsed,
		contract: bind.NewBoundContract(address, parsed, client, client, client),
		auth:     auth,
		poll:     poll,
		log:      log.With("component", "ledger"),
	}

	c.log.Info("ledger client ready",
		"contract", address.Hex(),
		"arbiter", auth.From.Hex(),
		"chain_id", chainID.String(),
	)
	return c, nil
}

func (c *EVMClient) Close() {
	c.client.Close()
}

func (c *EVMClient) transact(ctx context.Context, method string, args ...any) (*types.Receipt, error) {
	c.txMu.Lock()
	defer c.txMu.Unlock()

	opts := *c.auth
	opts.Context = ctx

	tx, err := c.contract.Transact(&opts, method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: submit: %w", method, err)
	}

	receipt, err := bind.WaitMined(ctx, c.client, tx)
	if err != nil {
		return nil, fmt.Errorf("%s: wait %s: %w", method, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%s: tx %s reverted", method, tx.Hash().Hex())
	}

	c.log.Info("ledger tx mined", "method", method, "tx", tx.Hash().Hex(), "block", receipt.BlockNumber.Uint64())
	return receipt, nil
}

func (c *EVMClient) call(ctx context.Context, method string, args ...any) ([]any, error) {
	var out []any
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty result", method)
	}
	return out, nil
}

func (c *EVMClient) callBig(ctx context.Context, method string) (*big.Int, error) {
	out, err := c.call(ctx, method)
	if err != nil {
		return nil, err
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected result type %T", method, out[0])
	}
	return v, nil
}

func (c *EVMClient) StartGame(ctx context.Context) error {
	_, err := c.transact(ctx, "startGame")
	return err
}

func (c *EVMClient) StartRound(ctx context.Context, commitWindow, revealWindow time.Duration) error {
	_, err := c.transact(ctx, "startRound",
		new(big.Int).SetUint64(windowSeconds(commitWindow)),
		new(big.Int).SetUint64(windowSeconds(revealWindow)),
	)
	return err
}

type combatResolvedEvent struct {
	Round             *big.Int
	Player1           common.Address
	Player2           common.Address
	P1Action          uint8
	P2Action          uint8
	Winner            common.Address
	PointsTransferred *big.Int
}

func (e combatResolvedEvent) result() CombatResult {
	r := CombatResult{
		PlayerA: e.Player1.Hex(),
		PlayerB: e.Player2.Hex(),
		ActionA: Action(e.P1Action),
		ActionB: Action(e.P2Action),
	}
	if e.Winner != (common.Address{}) {
		r.Winner = e.Winner.Hex()
	}
	if e.PointsTransferred != nil {
		r.PointsTransferred = e.PointsTransferred.Int64()
	}
	return r
}

func (c *EVMClient) ResolveRound(ctx context.Context) ([]CombatResult, error) {
	receipt, err := c.transact(ctx, "resolveRound")
	if err != nil {
		return nil, err
	}

	eventID := c.abi.Events["CombatResolved"].ID
	var results []CombatResult
	for _, lg := range receipt.Logs {
		if lg.Address != c.address || len(lg.Topics) == 0 || lg.Topics[0] != eventID {
			continue
		}
		var ev combatResolvedEvent
		if err := c.contract.UnpackLog(&ev, "CombatResolved", *lg); err != nil {
			return nil, fmt.Errorf("decode CombatResolved: %w", err)
		}
		results = append(results, ev.result())
	}
	return results, nil
}

func (c *EVMClient) AdvanceRound(ctx context.Context) error {
	_, err := c.transact(ctx, "advanceRound")
	return err
}

func (c *EVMClient) EndGame(ctx context.Context, winners []string, sharesBps []uint64) error {
	if len(winners) != len(sharesBps) {
		return errors.New("endGame: winners and shares differ in length")
	}
	addrs := make([]common.Address, len(winners))
	shares := make([]*big.Int, len(sharesBps))
	for i, w := range winners {
		if !common.IsHexAddress(w) {
			return fmt.Errorf("endGame: invalid address %q", w)
		}
		addrs[i] = common.HexToAddress(w)
		shares[i] = new(big.Int).SetUint64(sharesBps[i])
	}
	_, err := c.transact(ctx, "endGame", addrs, shares)
	return err
}

func (c *EVMClient) NewGame(ctx context.Context) error {
	_, err := c.transact(ctx, "newGame")
	return err
}

func (c *EVMClient) Phase(ctx context.Context) (Phase, error) {
	out, err := c.call(ctx, "phase")
	if err != nil {
		return 0, err
	}
	v, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("phase: unexpected result type %T", out[0])
	}
	return Phase(v), nil
}

func (c *EVMClient) CurrentRound(ctx context.Context) (uint64, error) {
	v, err := c.callBig(ctx, "currentRound")
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

func (c *EVMClient) RevealDeadline(ctx context.Context) (time.Time, error) {
	v, err := c.callBig(ctx, "revealDeadline")
	if err != nil {
		return time.Time{}, err
	}
	if v.Sign() == 0 {
		return time.Time{}, nil
	}
	return time.Unix(v.Int64(), 0), nil
}

func (c *EVMClient) Now(ctx context.Context) (time.Time, error) {
	header, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("latest header: %w", err)
	}
	return time.Unix(int64(header.Time), 0), nil
}

func (c *EVMClient) AlivePlayers(ctx context.Context) ([]string, error) {
	out, err := c.call(ctx, "getAlivePlayers")
	if err != nil {
		return nil, err
	}
	addrs, ok := out[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("getAlivePlayers: unexpected result type %T", out[0])
	}
	players := make([]string, len(addrs))
	for i, a := range addrs {
		players[i] = a.Hex()
	}
	return players, nil
}

func (c *EVMClient) PlayerInfo(ctx context.Context, addr string) (PlayerInfo, error) {
	if !common.IsHexAddress(addr) {
		return PlayerInfo{}, fmt.Errorf("getPlayerInfo: invalid address %q", addr)
	}
	a := common.HexToAddress(addr)
	out, err := c.call(ctx, "getPlayerInfo", a)
	if err != nil {
		return PlayerInfo{}, err
	}
	if len(out) != 3 {
		return PlayerInfo{}, fmt.Errorf("getPlayerInfo: want 3 values, got %d", len(out))
	}
	points, ok1 := out[0].(*big.Int)
	alive, ok2 := out[1].(bool)
	registered, ok3 := out[2].(bool)
	if !ok1 || !ok2 || !ok3 {
		return PlayerInfo{}, errors.New("getPlayerInfo: unexpected result types")
	}
	return PlayerInfo{
		Address:    a.Hex(),
		Points:     points.Int64(),
		Alive:      alive,
		Registered: registered,
	}, nil
}

func (c *EVMClient) PlayerCount(ctx context.Context) (int, error) {
	v, err := c.callBig(ctx, "getPlayerCount")
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

func (c *EVMClient) AliveCount(ctx context.Context) (int, error) {
	v, err := c.callBig(ctx, "getAliveCount")
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

func (c *EVMClient) PrizePool(ctx context.Context) (*big.Int, error) {
	return c.callBig(ctx, "prizePool")
}

type ruleTuple struct {
	RuleType         uint8
	Proposer         common.Address
	ActivatedAtRound *big.Int
}

func (c *EVMClient) ActiveRules(ctx context.Context) ([]ActiveRule, error) {
	out, err := c.call(ctx, "getActiveRules")
	if err != nil {
		return nil, err
	}
	tuples := *abi.ConvertType(out[0], new([]ruleTuple)).(*[]ruleTuple)
	rules := make([]ActiveRule, 0, len(tuples))
	for _, t := range tuples {
		r := ActiveRule{Kind: RuleKind(t.RuleType), Proposer: t.Proposer.Hex()}
		if t.ActivatedAtRound != nil {
			r.ActivatedAtRound = t.ActivatedAtRound.Uint64()
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// Registrations polls PlayerRegistered logs starting at the current head.
// The node is not required to support log subscriptions.
func (c *EVMClient) Registrations(ctx context.Context) (<-chan string, error) {
	from, err := c.client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("block number: %w", err)
	}
	topic := c.abi.Events["PlayerRegistered"].ID

	out := make(chan string, 64)
	go func() {
		defer close(out)

		ticker := time.NewTicker(c.poll)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			head, err := c.client.BlockNumber(ctx)
			if err != nil {
				c.log.Warn("registration poll: head", "err", err)
				continue
			}
			if head < from {
				continue
			}

			logs, err := c.client.FilterLogs(ctx, ethereum.FilterQuery{
				FromBlock: new(big.Int).SetUint64(from),
				ToBlock:   new(big.Int).SetUint64(head),
				Addresses: []common.Address{c.address},
				Topics:    [][]common.Hash{{topic}},
			})
			if err != nil {
				c.log.Warn("registration poll: filter logs", "from", from, "to", head, "err", err)
				continue
			}

			for _, lg := range logs {
				if lg.Removed || len(lg.Topics) < 2 {
					continue
				}
				wallet := common.BytesToAddress(lg.Topics[1].Bytes()).Hex()
				select {
				case out <- wallet:
				case <-ctx.Done():
					return
				}
			}
			from = head + 1
		}
	}()
	return out, nil
}
