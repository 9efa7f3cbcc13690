package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/svmlabs/solana-validator-exporter/pkg/slog"
	"go.uber.org/zap"
)

type (
	Client struct {
		HttpClient  http.Client
		RpcUrl      string
		HttpTimeout time.Duration
		logger      *zap.SugaredLogger
	}

	Request struct {
		Jsonrpc string `json:"jsonrpc"`
		Id      int    `json:"id"`
		Method  string `json:"method"`
		Params  []any  `json:"params"`
	}

	Commitment string
)

const (
	// LamportsInSol is the number of lamports in 1 SOL (a billion)
	LamportsInSol = 1_000_000_000
	// CommitmentFinalized level offers the highest level of certainty for a transaction on the Solana blockchain.
	// A transaction is considered "Finalized" when it is included in a block that has been confirmed by a
	// supermajority of the stake, and at least 31 additional confirmed blocks have been built on top of it.
	CommitmentFinalized Commitment = "finalized"
	// CommitmentConfirmed level is reached when a transaction is included in a block that has been voted on
	// by a supermajority (66%+) of the network's stake.
	CommitmentConfirmed Commitment = "confirmed"
	// CommitmentProcessed level represents a transaction that has been received by the network and included in a block.
	CommitmentProcessed Commitment = "processed"
)

func NewRPCClient(rpcAddr string, httpTimeout time.Duration) *Client {
	return &Client{HttpClient: http.Client{}, RpcUrl: rpcAddr, HttpTimeout: httpTimeout, logger: slog.Get()}
}

func getResponse[T any](
	ctx context.Context, client *Client, method string, params []any, rpcResponse *Response[T],
) error {
	logger := slog.Get()
	// format request:
	request := &Request{Jsonrpc: "2.0", Id: 1, Method: method, Params: params}
	buffer, err := json.Marshal(request)
	if err != nil {
		logger.Fatalf("failed to marshal request: %v", err)
	}
	logger.Debugf("jsonrpc request: %s", string(buffer))

	// make request:
	ctx, cancel := context.WithTimeout(ctx, client.HttpTimeout)
	defer cancel()

	body, err := client.post(ctx, method, buffer)
	if err != nil {
		// one immediate retry on transient transport failure. deadline and
		// cancellation errors are not retried, they would fail identically.
		if ctx.Err() != nil {
			return fmt.Errorf("%s rpc call failed: %w", method, err)
		}
		logger.Debugf("retrying %s after transport error: %v", method, err)
		if body, err = client.post(ctx, method, buffer); err != nil {
			return fmt.Errorf("%s rpc call failed: %w", method, err)
		}
	}
	// debug log response:
	logger.Debugf("%s response: %v", method, string(body))

	// unmarshal the response into the predicted format
	if err = json.Unmarshal(body, rpcResponse); err != nil {
		return &malformedError{method: method, err: err}
	}

	// check for an actual rpc error
	if rpcResponse.Error.Code != 0 {
		rpcResponse.Error.Method = method
		return &rpcResponse.Error
	}
	return nil
}

func (c *Client) post(ctx context.Context, method string, request []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.RpcUrl, bytes.NewBuffer(request))
	if err != nil {
		c.logger.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("content-type", "application/json")

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return nil, err
	}
	//goland:noinspection GoUnhandledErrorResult
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error processing %s rpc call: %w", method, err)
	}
	return body, nil
}

// GetEpochInfo returns information about the current epoch.
// See API docs: https://solana.com/docs/rpc/http/getepochinfo
func (c *Client) GetEpochInfo(ctx context.Context, commitment Commitment) (*EpochInfo, error) {
	var resp Response[EpochInfo]
	config := map[string]string{"commitment": string(commitment)}
	if err := getResponse(ctx, c, "getEpochInfo", []any{config}, &resp); err != nil {
		return nil, err
	}
	return &resp.Result, nil
}

// GetVoteAccounts returns the account info and associated stake for the voting accounts in the current bank.
// A non-empty votePubkey restricts the result to a single vote account.
// See API docs: https://solana.com/docs/rpc/http/getvoteaccounts
func (c *Client) GetVoteAccounts(ctx context.Context, commitment Commitment, votePubkey string) (*VoteAccounts, error) {
	config := map[string]string{"commitment": string(commitment)}
	if votePubkey != "" {
		config["votePubkey"] = votePubkey
	}

	var resp Response[VoteAccounts]
	if err := getResponse(ctx, c, "getVoteAccounts", []any{config}, &resp); err != nil {
		return nil, err
	}
	return &resp.Result, nil
}

// GetVersion returns the current Solana version running on the node.
// See API docs: https://solana.com/docs/rpc/http/getversion
func (c *Client) GetVersion(ctx context.Context) (string, error) {
	var resp Response[struct {
		Version string `json:"solana-core"`
	}]
	if err := getResponse(ctx, c, "getVersion", []any{}, &resp); err != nil {
		return "", err
	}
	return resp.Result.Version, nil
}

// GetSlot returns the slot that has reached the given or default commitment level.
// See API docs: https://solana.com/docs/rpc/http/getslot
func (c *Client) GetSlot(ctx context.Context, commitment Commitment) (int64, error) {
	config := map[string]string{"commitment": string(commitment)}
	var resp Response[int64]
	if err := getResponse(ctx, c, "getSlot", []any{config}, &resp); err != nil {
		return 0, err
	}
	return resp.Result, nil
}

// GetBlockProduction returns block production information for the current epoch, optionally restricted
// to a single validator identity.
// See API docs: https://solana.com/docs/rpc/http/getblockproduction
func (c *Client) GetBlockProduction(ctx context.Context, commitment Commitment, identity string) (*BlockProduction, error) {
	config := map[string]any{"commitment": string(commitment)}
	if identity != "" {
		config["identity"] = identity
	}

	var resp Response[contextualResult[blockProductionResult]]
	if err := getResponse(ctx, c, "getBlockProduction", []any{config}, &resp); err != nil {
		return nil, err
	}

	production := BlockProduction{
		FirstSlot:  resp.Result.Value.Range.FirstSlot,
		LastSlot:   resp.Result.Value.Range.LastSlot,
		ByIdentity: make(map[string]HostProduction),
	}
	for address, counters := range resp.Result.Value.ByIdentity {
		if len(counters) != 2 {
			return nil, &malformedError{
				method: "getBlockProduction",
				err:    fmt.Errorf("%s produced %d counters, want [leaderSlots, blocksProduced]", address, len(counters)),
			}
		}
		production.ByIdentity[address] = HostProduction{LeaderSlots: counters[0], BlocksProduced: counters[1]}
	}
	return &production, nil
}

// GetBalance returns the SOL balance of the account at the provided pubkey.
// See API docs: https://solana.com/docs/rpc/http/getbalance
func (c *Client) GetBalance(ctx context.Context, commitment Commitment, address string) (float64, error) {
	config := map[string]string{"commitment": string(commitment)}
	var resp Response[contextualResult[int64]]
	if err := getResponse(ctx, c, "getBalance", []any{address, config}, &resp); err != nil {
		return 0, err
	}
	return float64(resp.Result.Value) / float64(LamportsInSol), nil
}

// GetInflationReward returns the inflation / staking reward for a list of addresses for an epoch.
// Entries are nil for addresses with no finalized reward in that epoch, which is distinct from
// a reward of zero lamports.
// See API docs: https://solana.com/docs/rpc/http/getinflationreward
func (c *Client) GetInflationReward(
	ctx context.Context, commitment Commitment, addresses []string, epoch int64,
) ([]*InflationReward, error) {
	config := map[string]any{"commitment": string(commitment), "epoch": epoch}

	var resp Response[[]*InflationReward]
	if err := getResponse(ctx, c, "getInflationReward", []any{addresses, config}, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// GetLeaderSchedule returns the epoch leader schedule (slot indexes relative to the epoch's first
// slot, keyed by identity) for the epoch containing the provided slot. A non-empty identity
// restricts the result to that validator.
// See API docs: https://solana.com/docs/rpc/http/getleaderschedule
func (c *Client) GetLeaderSchedule(
	ctx context.Context, commitment Commitment, slot int64, identity string,
) (map[string][]int64, error) {
	config := map[string]any{"commitment": string(commitment)}
	if identity != "" {
		config["identity"] = identity
	}
	var resp Response[map[string][]int64]
	if err := getResponse(ctx, c, "getLeaderSchedule", []any{slot, config}, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// GetBlock returns identity and transaction information about a confirmed block in the ledger.
// Rewards are always requested; they carry the leader's fee income.
// See API docs: https://solana.com/docs/rpc/http/getblock
func (c *Client) GetBlock(ctx context.Context, commitment Commitment, slot int64) (*Block, error) {
	if commitment == CommitmentProcessed {
		// as per https://solana.com/docs/rpc/http/getblock
		c.logger.Fatalf("commitment '%v' is not supported for GetBlock", CommitmentProcessed)
	}
	config := map[string]any{
		"commitment":                     commitment,
		"encoding":                       "json",
		"transactionDetails":             "full",
		"rewards":                        true,
		"maxSupportedTransactionVersion": 0,
	}
	var resp Response[Block]
	if err := getResponse(ctx, c, "getBlock", []any{slot, config}, &resp); err != nil {
		return nil, err
	}
	return &resp.Result, nil
}

// GetHealth returns the current health of the node. A healthy node is one that is within a
// blockchain-configured number of slots of the latest cluster confirmed slot.
// See API docs: https://solana.com/docs/rpc/http/gethealth
func (c *Client) GetHealth(ctx context.Context) (string, error) {
	var resp Response[string]
	if err := getResponse(ctx, c, "getHealth", []any{}, &resp); err != nil {
		return "", err
	}
	return resp.Result, nil
}

// GetRecentPerformanceSamples returns up to limit recent performance samples, most recent first.
// See API docs: https://solana.com/docs/rpc/http/getrecentperformancesamples
func (c *Client) GetRecentPerformanceSamples(ctx context.Context, limit int) ([]PerformanceSample, error) {
	var resp Response[[]PerformanceSample]
	if err := getResponse(ctx, c, "getRecentPerformanceSamples", []any{limit}, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// GetFirstAvailableBlock returns the slot of the lowest confirmed block that has not been purged from the ledger.
// See API docs: https://solana.com/docs/rpc/http/getfirstavailableblock
func (c *Client) GetFirstAvailableBlock(ctx context.Context) (int64, error) {
	var resp Response[int64]
	if err := getResponse(ctx, c, "getFirstAvailableBlock", []any{}, &resp); err != nil {
		return 0, err
	}
	return resp.Result, nil
}
